package domain

// APIOperation selects the stage set applied to a bulk request.
type APIOperation string

// Bulk operations.
const (
	OperationCreate APIOperation = "CREATE"
	OperationUpdate APIOperation = "UPDATE"
	OperationDelete APIOperation = "DELETE"
)

// UserInfo identifies the caller of a request.
type UserInfo struct {
	UUID     string   `json:"uuid" validate:"required"`
	UserName string   `json:"userName,omitempty"`
	TenantID string   `json:"tenantId,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// RequestInfo is the header sent with every request.
type RequestInfo struct {
	APIID     string    `json:"apiId,omitempty"`
	MsgID     string    `json:"msgId,omitempty"`
	AuthToken string    `json:"authToken,omitempty"`
	UserInfo  *UserInfo `json:"userInfo" validate:"required"`
}

// UserID returns the caller uuid or an empty string.
func (r RequestInfo) UserID() string {
	if r.UserInfo == nil {
		return ""
	}
	return r.UserInfo.UUID
}

// BulkRequest carries many entities of one type through a single operation.
// Entity order is preserved into the persisted and published result.
type BulkRequest[E Entity] struct {
	RequestInfo  RequestInfo  `json:"RequestInfo"`
	Entities     []E          `json:"entities" validate:"required,min=1,dive,required"`
	APIOperation APIOperation `json:"apiOperation,omitempty"`
}

// TenantID returns the tenant of the first entity. Bulk requests are single tenant.
func (r BulkRequest[E]) TenantID() string {
	if len(r.Entities) == 0 {
		return ""
	}
	return r.Entities[0].Header().TenantID
}

// BulkResult reports which entities were persisted and which failed.
type BulkResult[E Entity] struct {
	Succeeded []E               `json:"succeeded"`
	Errors    []ErrorDetails[E] `json:"errors,omitempty"`
}

// Partial reports whether at least one entity failed.
func (r BulkResult[E]) Partial() bool { return len(r.Errors) > 0 }
