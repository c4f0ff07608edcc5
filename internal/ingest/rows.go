package ingest

import (
	"math"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"healthcore/pkg/domain"
)

var householdSheet = sheetSpec[*domain.Household]{
	name:     SheetHouseholds,
	required: []string{"clientReferenceId"},
	optional: []string{"memberCount", "localityCode", "addressLine1", "city", "pincode"},
	parse:    parseHousehold,
}

var stockSheet = sheetSpec[*domain.Stock]{
	name:     SheetStock,
	required: []string{"clientReferenceId", "productVariantId", "quantity", "transactionType"},
	optional: []string{
		"transactionReason", "senderId", "senderType", "receiverId", "receiverType",
		"referenceId", "referenceIdType", "wayBillNumber", "dateOfEntry",
	},
	parse: parseStock,
}

// wholeNumber accepts the integer renderings spreadsheets produce ("12",
// "12.0", "1.2E1").
func wholeNumber(col, v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, errors.Errorf("%s: %q is not a number", col, v)
	}
	if !d.IsInteger() {
		return 0, errors.Errorf("%s: %q is not a whole number", col, v)
	}
	if d.IsNegative() {
		return 0, errors.Errorf("%s: %q is negative", col, v)
	}
	if d.GreaterThan(maxWhole) {
		return 0, errors.Errorf("%s: %q is out of range", col, v)
	}
	return d.IntPart(), nil
}

var maxWhole = decimal.NewFromInt(math.MaxInt64)

// epochMillis accepts a calendar date or epoch milliseconds.
func epochMillis(col, v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	for _, layout := range []string{"2006-01-02", "01-02-06", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UnixMilli(), nil
		}
	}
	n, err := wholeNumber(col, v)
	if err != nil {
		return 0, errors.Errorf("%s: %q is neither a date nor epoch millis", col, v)
	}
	return n, nil
}

func parseHousehold(tenantID string, row map[string]string) (*domain.Household, error) {
	crid := row["clientReferenceId"]
	if crid == "" {
		return nil, errors.New("clientReferenceId is required")
	}
	count, err := wholeNumber("memberCount", row["memberCount"])
	if err != nil {
		return nil, err
	}
	h := &domain.Household{
		Base:        domain.Base{ClientReferenceID: crid, TenantID: tenantID},
		MemberCount: int(count),
	}
	addr := domain.Address{
		LocalityCode: row["localityCode"],
		AddressLine1: row["addressLine1"],
		City:         row["city"],
		Pincode:      row["pincode"],
	}
	if addr != (domain.Address{}) {
		h.Address = &addr
	}
	return h, nil
}

func partyType(col, v string) (domain.PartyType, error) {
	switch p := domain.PartyType(strings.ToUpper(v)); p {
	case "", domain.PartyWarehouse, domain.PartyStaff:
		return p, nil
	default:
		return "", errors.Errorf("%s: unknown party type %q", col, v)
	}
}

func parseStock(tenantID string, row map[string]string) (*domain.Stock, error) {
	s := &domain.Stock{
		Base:              domain.Base{ClientReferenceID: row["clientReferenceId"], TenantID: tenantID},
		ProductVariantID:  row["productVariantId"],
		TransactionReason: row["transactionReason"],
		SenderID:          row["senderId"],
		ReceiverID:        row["receiverId"],
		ReferenceID:       row["referenceId"],
		ReferenceIDType:   row["referenceIdType"],
		WayBillNumber:     row["wayBillNumber"],
	}
	if s.ClientReferenceID == "" {
		return nil, errors.New("clientReferenceId is required")
	}
	if s.ProductVariantID == "" {
		return nil, errors.New("productVariantId is required")
	}
	switch tt := domain.TransactionType(strings.ToUpper(row["transactionType"])); tt {
	case domain.TransactionReceived, domain.TransactionDispatched:
		s.TransactionType = tt
	default:
		return nil, errors.Errorf("transactionType: unknown value %q", row["transactionType"])
	}
	var err error
	if s.Quantity, err = wholeNumber("quantity", row["quantity"]); err != nil {
		return nil, err
	}
	if s.SenderType, err = partyType("senderType", row["senderType"]); err != nil {
		return nil, err
	}
	if s.ReceiverType, err = partyType("receiverType", row["receiverType"]); err != nil {
		return nil, err
	}
	if s.DateOfEntry, err = epochMillis("dateOfEntry", row["dateOfEntry"]); err != nil {
		return nil, err
	}
	return s, nil
}
