// Package clients talks to the master-data, registry and workflow services
// the validators consult. Every client posts JSON search requests and
// answers the batch questions defined by the core collaborator interfaces.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"healthcore/pkg/domain"
)

// StatusError is returned when a service answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status=%d body=%s", e.Status, e.Body)
}

// Client posts JSON to one service host.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	log        *logrus.Entry
}

// New parses host and returns a client with timeout applied to every call.
func New(host string, timeout time.Duration, log *logrus.Entry) (*Client, error) {
	host = strings.TrimSpace(host)
	u, err := url.Parse(host)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid service host %q", host)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}, nil
}

// serviceRequestInfo is sent on calls made on behalf of the service itself.
func serviceRequestInfo() domain.RequestInfo {
	return domain.RequestInfo{APIID: "healthcore", MsgID: uuid.NewString()}
}

func (c *Client) postJSON(ctx context.Context, path string, query url.Values, reqBody, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post %s", path)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	c.log.WithFields(logrus.Fields{
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(started).String(),
	}).Debug("service call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func searchQuery(tenantID string, n int) url.Values {
	q := url.Values{}
	q.Set("tenantId", tenantID)
	q.Set("limit", fmt.Sprint(n))
	q.Set("offset", "0")
	return q
}

// intersect returns the members of ids present in found, keeping ids order.
func intersect(ids []string, found map[string]struct{}) []string {
	out := make([]string, 0, len(found))
	for _, id := range ids {
		if _, ok := found[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
