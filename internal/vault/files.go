package vault

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jonbarlo/s4/internal/db"
	"github.com/jonbarlo/s4/internal/validate"
)

// Upload stages the payload to a request-scoped temp file, ensures the
// effective remote folder exists, stores the object, then inserts the
// file row. If the row insert fails after the object was stored, the
// object is removed again best-effort. The staged temp file is removed
// on every exit path.
func (c *Coordinator) Upload(ctx context.Context, ownerID, bucketID int64, filename, subPath string, payload io.Reader) (*db.File, error) {
	if err := validate.Filename(filename); err != nil {
		return nil, validationf("filename: %v", err)
	}
	sub, err := validate.SubPath(subPath)
	if err != nil {
		return nil, validationf("target folder: %v", err)
	}

	b, ok, err := c.DB.GetBucketForUser(ctx, bucketID, ownerID)
	if err != nil {
		return nil, &StoreError{Op: "get-bucket", Err: err}
	}
	if !ok {
		return nil, ErrNotFound
	}
	folder := validate.JoinFolder(b.TargetFolder, sub)

	staged, size, err := c.stage(payload)
	if err != nil {
		// Staging failures are server-side (temp dir, disk), not bad
		// caller input.
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	defer func() {
		_ = staged.Close()
		_ = os.Remove(staged.Name())
	}()

	if err := c.Transport.EnsureFolder(ctx, folder); err != nil {
		return nil, &TransportError{Op: "ensure-folder", Path: folder, Err: err}
	}
	remote := remotePath(folder, filename)
	if err := c.Transport.Put(ctx, remote, staged); err != nil {
		return nil, &TransportError{Op: "put", Path: remote, Err: err}
	}

	f := &db.File{
		Filename:     filename,
		Size:         size,
		UploadedAt:   time.Now().Unix(),
		BucketID:     b.ID,
		UserID:       ownerID,
		TargetFolder: folder,
	}
	id, err := c.DB.CreateFile(ctx, f)
	if err != nil {
		// Compensate: the object is stored but untracked. Prefer
		// leaking it over a row with no object, so removal failure is
		// logged only and the store failure is what the caller sees.
		if rmErr := c.Transport.RemoveFile(ctx, remote); rmErr != nil {
			c.log().Warn("upload compensation failed",
				"path", remote, "error", rmErr)
		}
		return nil, &StoreError{Op: "create-file", Err: err}
	}
	f.ID = id
	return f, nil
}

// stage copies the payload into a temp file and rewinds it, reporting
// the byte count. The caller owns removal.
func (c *Coordinator) stage(payload io.Reader) (*os.File, int64, error) {
	tmp, err := os.CreateTemp(c.StagingDir, "s4-staged-*")
	if err != nil {
		return nil, 0, err
	}
	size, err := io.Copy(tmp, payload)
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, 0, err
	}
	return tmp, size, nil
}

// DeleteFile removes the remote object first, then the metadata row.
// A crash between the two leaves at worst a stale row pointing at a
// missing object, which is the reconcilable direction. Deleting an
// absent or foreign file reports ErrNotFound.
func (c *Coordinator) DeleteFile(ctx context.Context, ownerID, fileID int64) error {
	f, ok, err := c.DB.GetFileForUser(ctx, fileID, ownerID)
	if err != nil {
		return &StoreError{Op: "get-file", Err: err}
	}
	if !ok {
		return ErrNotFound
	}

	remote := remotePath(f.TargetFolder, f.Filename)
	if err := c.Transport.RemoveFile(ctx, remote); err != nil {
		return &TransportError{Op: "remove-file", Path: remote, Err: err}
	}

	rows, err := c.DB.DeleteFileForUser(ctx, fileID, ownerID)
	if err != nil {
		return &StoreError{Op: "delete-file", Err: err}
	}
	if rows == 0 {
		// A concurrent delete won the row; the second caller must see
		// not-found, not a second success.
		return ErrNotFound
	}
	return nil
}

// ListFiles returns the caller's file rows.
func (c *Coordinator) ListFiles(ctx context.Context, ownerID int64) ([]db.File, error) {
	out, err := c.DB.ListFilesForUser(ctx, ownerID)
	if err != nil {
		return nil, &StoreError{Op: "list-files", Err: err}
	}
	return out, nil
}

// Download resolves the file owner-scoped, stages the remote bytes to
// a temp file, and returns a reader that deletes the staged copy on
// Close. Callers must Close on every exit path.
func (c *Coordinator) Download(ctx context.Context, ownerID, fileID int64) (io.ReadCloser, *db.File, error) {
	f, ok, err := c.DB.GetFileForUser(ctx, fileID, ownerID)
	if err != nil {
		return nil, nil, &StoreError{Op: "get-file", Err: err}
	}
	if !ok {
		return nil, nil, ErrNotFound
	}

	tmp, err := os.CreateTemp(c.StagingDir, "s4-staged-*")
	if err != nil {
		return nil, nil, fmt.Errorf("stage download: %w", err)
	}
	remote := remotePath(f.TargetFolder, f.Filename)
	if err := c.Transport.Get(ctx, remote, tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, nil, &TransportError{Op: "get", Path: remote, Err: err}
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, nil, &TransportError{Op: "get", Path: remote, Err: err}
	}
	return &stagedFile{File: tmp}, f, nil
}

// stagedFile removes its backing temp file when closed.
type stagedFile struct {
	*os.File
}

func (s *stagedFile) Close() error {
	err := s.File.Close()
	if rmErr := os.Remove(s.File.Name()); err == nil {
		err = rmErr
	}
	return err
}
