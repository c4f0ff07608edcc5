package clients

import (
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"healthcore/internal/config"
	"healthcore/internal/core"
)

// FromConfig builds the service clients named by cfg. A configured seed
// file replaces the MDMS host.
func FromConfig(cfg *config.Config, log *logrus.Entry) (core.Clients, error) {
	hosts := cfg.Hosts
	client := func(name, host string) (*Client, error) {
		c, err := New(host, hosts.Timeout, log.WithField("service", name))
		if err != nil {
			return nil, errors.Wrap(err, name)
		}
		return c, nil
	}

	var out core.Clients
	boundary, err := client("boundary", hosts.Boundary)
	if err != nil {
		return out, err
	}
	facility, err := client("facility", hosts.Facility)
	if err != nil {
		return out, err
	}
	product, err := client("product", hosts.Product)
	if err != nil {
		return out, err
	}
	individual, err := client("individual", hosts.Individual)
	if err != nil {
		return out, err
	}
	user, err := client("user", hosts.User)
	if err != nil {
		return out, err
	}
	project, err := client("project", hosts.Project)
	if err != nil {
		return out, err
	}
	plan, err := client("plan", hosts.Plan)
	if err != nil {
		return out, err
	}
	workflow, err := client("workflow", cfg.Workflow.Host)
	if err != nil {
		return out, err
	}

	out = core.Clients{
		Boundary:        NewBoundaries(boundary, ""),
		Facility:        NewFacilities(facility),
		Product:         NewProducts(product),
		User:            NewUsers(user),
		Individual:      NewIndividuals(individual),
		ProjectFacility: NewProjectFacilities(project),
		PlanConfig:      NewPlanConfigurations(plan),
		Workflow:        NewWorkflow(workflow),
	}
	if hosts.MDMSSeedFile != "" {
		static, err := LoadStaticMDMS(hosts.MDMSSeedFile)
		if err != nil {
			return core.Clients{}, err
		}
		out.MDMS = static
		return out, nil
	}
	mdms, err := client("mdms", hosts.MDMS)
	if err != nil {
		return core.Clients{}, err
	}
	out.MDMS = NewMDMS(mdms)
	return out, nil
}
