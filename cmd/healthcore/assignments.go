package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"healthcore/internal/core"
	"healthcore/pkg/domain"
)

func newAssignmentsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assignments",
		Short: "Manage plan employee assignments",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "load FILE",
		Short: "Load plan employee assignments from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoadAssignments(cmd.Context(), cmd.OutOrStdout(), root, args[0])
		},
	})
	return cmd
}

func readAssignments(r io.Reader) ([]domain.PlanEmployeeAssignment, error) {
	var out []domain.PlanEmployeeAssignment
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, withCode(exitUsage, errors.Wrap(err, "decode assignments"))
	}
	for i := range out {
		a := &out[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.TenantID == "" || a.PlanConfigurationID == "" || a.EmployeeID == "" || a.Role == "" {
			return nil, withCode(exitUsage, errors.Errorf("assignment %d: tenantId, planConfigurationId, employeeId and role are required", i))
		}
	}
	return out, nil
}

func runLoadAssignments(ctx context.Context, out io.Writer, root *rootOptions, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return withCode(exitUsage, err)
	}
	defer f.Close()
	assignments, err := readAssignments(f)
	if err != nil {
		return err
	}

	cfg, log, err := loadConfig(root)
	if err != nil {
		return err
	}
	stores, err := core.OpenStores(ctx, cfg.Storage, cfg.Cache, log)
	if err != nil {
		return withCode(exitStorage, errors.Wrap(err, "open stores"))
	}
	defer func() { _ = stores.Close() }()
	if err := stores.Assign(ctx, assignments...); err != nil {
		return withCode(exitStorage, errors.Wrap(err, "store assignments"))
	}
	_, err = fmt.Fprintf(out, "loaded %d assignments\n", len(assignments))
	return err
}
