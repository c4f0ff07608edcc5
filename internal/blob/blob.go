// Package blob selects the blob store driver from configuration. Packages
// outside internal/blob depend on object.Store rather than a driver.
package blob

import (
	"context"

	"github.com/go-faster/errors"

	"healthcore/internal/blob/object"
	"healthcore/internal/config"
	"healthcore/internal/infra/blob/fs"
	"healthcore/internal/infra/blob/memory"
	"healthcore/internal/infra/blob/s3"
)

// Open returns the store named by opts.Driver.
func Open(ctx context.Context, opts config.BlobOptions) (object.Store, error) {
	switch object.Driver(opts.Driver) {
	case object.DriverFilesystem, "":
		return fs.New(opts.FSRoot)
	case object.DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:    opts.S3Bucket,
			Region:    opts.S3Region,
			Endpoint:  opts.S3Endpoint,
			PathStyle: opts.S3PathStyle,
		})
	case object.DriverMemory:
		return memory.New(), nil
	default:
		return nil, errors.Errorf("unknown blob driver %q", opts.Driver)
	}
}
