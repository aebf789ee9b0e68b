// Package blob selects an artifact store backend for export jobs.
package blob

import (
	"context"
	"fmt"
	"os"

	"kincore/internal/adapters/export"
	"kincore/internal/infra/blob/fs"
	"kincore/internal/infra/blob/s3"
)

// Driver identifies an artifact store backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

// Open selects an export.ObjectStore implementation using environment
// variables.
//
//	KINCORE_EXPORT_STORE: fs|s3|memory (default fs)
//	KINCORE_EXPORT_FS_ROOT: directory root when driver=fs
//	(S3 specific variables documented in the s3 package)
func Open(ctx context.Context) (export.ObjectStore, error) {
	driver := os.Getenv("KINCORE_EXPORT_STORE")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return fs.New(os.Getenv("KINCORE_EXPORT_FS_ROOT"))
	case DriverS3:
		return s3.OpenFromEnv(ctx)
	case DriverMemory:
		return export.NewMemoryObjectStore(), nil
	default:
		return nil, fmt.Errorf("unknown artifact store driver %s", driver)
	}
}
