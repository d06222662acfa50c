// Package vault coordinates bucket and file lifecycles across two
// independently failing systems: the remote FTP tree holding the bytes
// and the SQLite store holding the metadata. Operations order their
// side effects so a partial failure prefers leaking a remote object
// over leaving a metadata row that points at nothing, and compensating
// actions are best-effort: their failure is logged, never surfaced.
package vault

import (
	"context"
	"io"
	"log/slog"

	"github.com/jonbarlo/s4/internal/db"
	"github.com/jonbarlo/s4/internal/validate"
)

// Transport is the narrow interface over the remote object store.
// Every call opens and tears down its own connection; implementations
// must tolerate repeated EnsureFolder calls on an existing folder.
type Transport interface {
	EnsureFolder(ctx context.Context, path string) error
	RemoveFolder(ctx context.Context, path string) error
	Put(ctx context.Context, remotePath string, r io.Reader) error
	Get(ctx context.Context, remotePath string, w io.Writer) error
	RemoveFile(ctx context.Context, remotePath string) error
}

// Coordinator sequences transport and store calls for every mutating
// operation, enforcing owner scoping on each store access.
type Coordinator struct {
	DB         *db.DB
	Transport  Transport
	Logger     *slog.Logger
	StagingDir string
}

func (c *Coordinator) log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// CreateBucket ensures the remote folder exists, then inserts the
// bucket row. The folder is created first: a store failure rolls it
// back, so no bucket row can reference a folder that was never made.
func (c *Coordinator) CreateBucket(ctx context.Context, ownerID int64, name, folder string) (*db.Bucket, error) {
	if err := validate.BucketName(name); err != nil {
		return nil, validationf("bucket name: %v", err)
	}
	base, err := validate.FolderPath(folder)
	if err != nil {
		return nil, validationf("target folder: %v", err)
	}

	if err := c.Transport.EnsureFolder(ctx, base); err != nil {
		return nil, &TransportError{Op: "ensure-folder", Path: base, Err: err}
	}

	b, err := c.DB.CreateBucket(ctx, name, base, ownerID)
	if err != nil {
		// Compensate: the folder is now untracked. Its removal failing
		// is logged only; the caller sees the original store failure.
		if rmErr := c.Transport.RemoveFolder(ctx, base); rmErr != nil {
			c.log().Warn("bucket create compensation failed",
				"folder", base, "error", rmErr)
		}
		return nil, &StoreError{Op: "create-bucket", Err: err}
	}
	return b, nil
}

// ListBuckets returns the caller's buckets.
func (c *Coordinator) ListBuckets(ctx context.Context, ownerID int64) ([]db.Bucket, error) {
	out, err := c.DB.ListBucketsForUser(ctx, ownerID)
	if err != nil {
		return nil, &StoreError{Op: "list-buckets", Err: err}
	}
	return out, nil
}

// DeleteBucket removes every remote object under the bucket
// (at-least-effort: single removal failures are logged and the loop
// continues), bulk-deletes the file rows, deletes the bucket row, and
// finally attempts to remove the remote base folder. The folder
// removal failing, for example because unrelated objects still occupy
// it, does not fail the operation. Returns the number of file rows
// removed.
func (c *Coordinator) DeleteBucket(ctx context.Context, ownerID, bucketID int64) (int64, error) {
	b, ok, err := c.DB.GetBucketForUser(ctx, bucketID, ownerID)
	if err != nil {
		return 0, &StoreError{Op: "get-bucket", Err: err}
	}
	if !ok {
		return 0, ErrNotFound
	}

	files, err := c.DB.ListFilesInBucket(ctx, bucketID, ownerID)
	if err != nil {
		return 0, &StoreError{Op: "list-files", Err: err}
	}
	for _, f := range files {
		remote := remotePath(f.TargetFolder, f.Filename)
		if err := c.Transport.RemoveFile(ctx, remote); err != nil {
			c.log().Warn("bucket delete: remote removal failed",
				"bucket", b.Name, "path", remote, "error", err)
		}
	}

	removed, err := c.DB.DeleteFilesInBucket(ctx, bucketID, ownerID)
	if err != nil {
		return 0, &StoreError{Op: "delete-files", Err: err}
	}
	rows, err := c.DB.DeleteBucketForUser(ctx, bucketID, ownerID)
	if err != nil {
		return 0, &StoreError{Op: "delete-bucket", Err: err}
	}
	if rows == 0 {
		// Lost a race with a concurrent delete of the same bucket.
		return 0, ErrNotFound
	}

	// Another bucket may share the same remote folder; leave it alone
	// in that case.
	shared, err := c.DB.CountBucketsReferencingFolder(ctx, b.TargetFolder, bucketID)
	if err != nil {
		c.log().Warn("bucket delete: folder reference check failed",
			"folder", b.TargetFolder, "error", err)
		return removed, nil
	}
	if shared > 0 {
		return removed, nil
	}
	if err := c.Transport.RemoveFolder(ctx, b.TargetFolder); err != nil {
		c.log().Warn("bucket delete: base folder removal failed",
			"bucket", b.Name, "folder", b.TargetFolder, "error", err)
	}
	return removed, nil
}

func remotePath(folder, filename string) string {
	return folder + "/" + filename
}
