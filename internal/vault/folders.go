package vault

import (
	"context"

	"github.com/jonbarlo/s4/internal/validate"
)

// Folders returns the distinct remote folder paths referenced by the
// caller's file rows. Folders are a projection of file placement, not
// stored entities, so the listing is recomputed on every call and can
// never drift from the rows themselves.
func (c *Coordinator) Folders(ctx context.Context, ownerID int64) ([]string, error) {
	out, err := c.DB.DistinctFolders(ctx, ownerID)
	if err != nil {
		return nil, &StoreError{Op: "list-folders", Err: err}
	}
	return out, nil
}

// FolderDeleteResult reports a bulk folder deletion. Deleted counts
// the metadata rows removed; RemoteFailures counts objects whose
// remote removal failed and were left behind.
type FolderDeleteResult struct {
	Deleted        int64
	RemoteFailures int64
}

// DeleteFolder bulk-deletes the contents of one virtual folder inside
// a bucket. Remote removals run at-least-effort: each failure is
// logged and counted, and the loop continues so as many objects as
// possible are removed. The metadata rows are then bulk-deleted
// regardless, because the bias is "no orphaned metadata" over "every
// remote object provably removed". A folder with no matching rows does
// not exist and reports ErrNotFound.
func (c *Coordinator) DeleteFolder(ctx context.Context, ownerID, bucketID int64, relPath string) (FolderDeleteResult, error) {
	var res FolderDeleteResult

	sub, err := validateRelFolder(relPath)
	if err != nil {
		return res, err
	}

	b, ok, err := c.DB.GetBucketForUser(ctx, bucketID, ownerID)
	if err != nil {
		return res, &StoreError{Op: "get-bucket", Err: err}
	}
	if !ok {
		return res, ErrNotFound
	}
	folder := validate.JoinFolder(b.TargetFolder, sub)

	files, err := c.DB.ListFilesInFolder(ctx, bucketID, ownerID, folder)
	if err != nil {
		return res, &StoreError{Op: "list-files", Err: err}
	}
	if len(files) == 0 {
		return res, ErrNotFound
	}

	for _, f := range files {
		remote := remotePath(f.TargetFolder, f.Filename)
		if err := c.Transport.RemoveFile(ctx, remote); err != nil {
			res.RemoteFailures++
			c.log().Warn("folder delete: remote removal failed",
				"path", remote, "error", err)
		}
	}

	deleted, err := c.DB.DeleteFilesInFolder(ctx, bucketID, ownerID, folder)
	if err != nil {
		return res, &StoreError{Op: "delete-files", Err: err}
	}
	res.Deleted = deleted

	if err := c.Transport.RemoveFolder(ctx, folder); err != nil {
		c.log().Warn("folder delete: folder removal failed",
			"folder", folder, "error", err)
	}
	return res, nil
}

func validateRelFolder(relPath string) (string, error) {
	if relPath == "" {
		return "", validationf("folder path is required")
	}
	sub, err := validate.SubPath(relPath)
	if err != nil {
		return "", validationf("folder path: %v", err)
	}
	if sub == "" {
		return "", validationf("folder path is required")
	}
	return sub, nil
}
