package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"healthcore/pkg/domain"
)

type errorBody struct {
	Errors []domain.CustomError `json:"Errors"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Errors: []domain.CustomError{{Code: code, Message: message}}})
}

// writeServiceError maps a CustomError to 400 and anything else to 500.
func writeServiceError(w http.ResponseWriter, log *logrus.Entry, err error) {
	var ce *domain.CustomError
	if errors.As(err, &ce) {
		writeError(w, http.StatusBadRequest, ce.Code, ce.Message)
		return
	}
	log.WithError(err).Error("request failed")
	writeError(w, http.StatusInternalServerError, domain.CodeInternalServerError, "internal server error")
}
