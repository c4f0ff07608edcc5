package clients

import (
	"context"

	"github.com/go-faster/errors"

	"healthcore/internal/core"
	"healthcore/pkg/domain"
)

var _ core.WorkflowClient = (*Workflow)(nil)

// Workflow calls the process transition endpoint.
type Workflow struct{ c *Client }

// NewWorkflow wraps c.
func NewWorkflow(c *Client) *Workflow { return &Workflow{c: c} }

// Transition submits instances on behalf of the caller in info and returns
// the instances as the workflow service stored them.
func (w *Workflow) Transition(ctx context.Context, info domain.RequestInfo, instances []domain.ProcessInstance) ([]domain.ProcessInstance, error) {
	if len(instances) == 0 {
		return nil, nil
	}
	body := struct {
		RequestInfo      domain.RequestInfo       `json:"RequestInfo"`
		ProcessInstances []domain.ProcessInstance `json:"ProcessInstances"`
	}{info, instances}
	var out struct {
		ProcessInstances []domain.ProcessInstance `json:"ProcessInstances"`
	}
	if err := w.c.postJSON(ctx, "/egov-workflow-v2/egov-wf/process/_transition", nil, body, &out); err != nil {
		return nil, errors.Wrap(err, "workflow transition")
	}
	if len(out.ProcessInstances) != len(instances) {
		return nil, errors.Errorf("workflow returned %d instances for %d", len(out.ProcessInstances), len(instances))
	}
	return out.ProcessInstances, nil
}
