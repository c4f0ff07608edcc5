package domain

// Workflow is the transition requested alongside a plan update.
type Workflow struct {
	Action    string     `json:"action"`
	Comments  string     `json:"comments,omitempty"`
	Assignees []string   `json:"assignes,omitempty"`
	Documents []Document `json:"documents,omitempty"`
}

// Document is an attachment carried through a workflow transition.
type Document struct {
	DocumentType string `json:"documentType,omitempty"`
	FileStoreID  string `json:"fileStoreId,omitempty"`
	DocumentUID  string `json:"documentUid,omitempty"`
}

// User references a workflow assignee.
type User struct {
	UUID string `json:"uuid"`
}

// ProcessInstance is the transition request sent to the workflow engine.
type ProcessInstance struct {
	BusinessID      string     `json:"businessId"`
	TenantID        string     `json:"tenantId"`
	BusinessService string     `json:"businessService"`
	ModuleName      string     `json:"moduleName"`
	Action          string     `json:"action"`
	Comment         string     `json:"comment,omitempty"`
	Documents       []Document `json:"documents,omitempty"`
	Assignes        []User     `json:"assignes,omitempty"`
	State           *State     `json:"state,omitempty"`
}

// State is the workflow state returned after a transition.
type State struct {
	ApplicationStatus string `json:"applicationStatus,omitempty"`
	State             string `json:"state,omitempty"`
}
