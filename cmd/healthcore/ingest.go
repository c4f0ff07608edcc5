package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"healthcore/internal/api"
	"healthcore/internal/ingest"
	"healthcore/pkg/domain"
)

type ingestOptions struct {
	root   *rootOptions
	file   string
	key    string
	tenant string
	user   string
}

func newIngestCmd(root *rootOptions) *cobra.Command {
	opts := &ingestOptions{root: root}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a households/stock workbook and write a result workbook",
		PreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.file, "file", "", "local .xlsx workbook to upload and ingest")
	cmd.Flags().StringVar(&opts.key, "key", "", "blob key of an already uploaded workbook")
	cmd.Flags().StringVar(&opts.tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&opts.user, "user", "", "uuid recorded as the creating user")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (o *ingestOptions) validate() error {
	if (o.file == "") == (o.key == "") {
		return withCode(exitUsage, errors.New("exactly one of --file or --key is required"))
	}
	if o.file != "" && filepath.Ext(o.file) != ".xlsx" {
		return withCode(exitUsage, errors.Errorf("%s: expected an .xlsx workbook", o.file))
	}
	return nil
}

func runIngest(ctx context.Context, out io.Writer, opts *ingestOptions) error {
	cfg, log, err := loadConfig(opts.root)
	if err != nil {
		return err
	}
	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	report, err := ingestWith(ctx, app.importer, opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func ingestWith(ctx context.Context, im api.Ingester, opts *ingestOptions) (ingest.Report, error) {
	key := opts.key
	if opts.file != "" {
		f, err := os.Open(opts.file)
		if err != nil {
			return ingest.Report{}, withCode(exitUsage, errors.Wrap(err, "open workbook"))
		}
		defer f.Close()
		info, err := im.Upload(ctx, opts.tenant, filepath.Base(opts.file), f)
		if err != nil {
			return ingest.Report{}, withCode(exitIngest, errors.Wrap(err, "upload workbook"))
		}
		key = info.Key
	}
	report, err := im.Run(ctx, ingest.Job{
		Key:      key,
		TenantID: opts.tenant,
		RequestInfo: domain.RequestInfo{
			APIID:    "healthcore-cli",
			UserInfo: &domain.UserInfo{UUID: opts.user, TenantID: opts.tenant},
		},
	})
	if err != nil {
		return ingest.Report{}, withCode(exitIngest, err)
	}
	return report, nil
}
