package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// nowUnix returns the current Unix timestamp in seconds.
func nowUnix() int64 { return time.Now().Unix() }

// GetConfig fetches a single config key. The boolean reports existence.
func (d *DB) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := d.sql.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&v)
	if err == nil {
		return v, true, nil
	}
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return "", false, err
}

// SetConfig upserts a config key/value pair.
func (d *DB) SetConfig(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("config key is required")
	}
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO config(key, value, updated_at) VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
`, key, value, nowUnix())
	return err
}

// IsInitialized reports whether setup has completed.
func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	v, ok, err := d.GetConfig(ctx, "initialized")
	if err != nil {
		return false, err
	}
	return ok && v == "1", nil
}

// SetInitialized marks the database as setup-complete.
func (d *DB) SetInitialized(ctx context.Context) error {
	return d.SetConfig(ctx, "initialized", "1")
}

// CreateUser inserts a new user and returns its database ID.
func (d *DB) CreateUser(ctx context.Context, username, passHash string, perm Permission) (int64, error) {
	if username == "" || passHash == "" {
		return 0, errors.New("username and password hash are required")
	}
	if !perm.Valid() {
		return 0, errors.New("invalid permission")
	}
	res, err := d.sql.ExecContext(ctx, `
INSERT INTO users(username, password_hash, permissions, created_at, updated_at)
VALUES(?, ?, ?, ?, ?)
`, username, passHash, string(perm), nowUnix(), nowUnix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetUserByUsername looks up a user by username.
func (d *DB) GetUserByUsername(ctx context.Context, username string) (*User, bool, error) {
	return d.getUser(ctx, `
SELECT id, username, password_hash, permissions, created_at, updated_at
FROM users WHERE username=?`, username)
}

// GetUserByID looks up a user by ID.
func (d *DB) GetUserByID(ctx context.Context, id int64) (*User, bool, error) {
	return d.getUser(ctx, `
SELECT id, username, password_hash, permissions, created_at, updated_at
FROM users WHERE id=?`, id)
}

// GetUserByAPIKey resolves an API key value to its owning user.
func (d *DB) GetUserByAPIKey(ctx context.Context, key string) (*User, bool, error) {
	return d.getUser(ctx, `
SELECT u.id, u.username, u.password_hash, u.permissions, u.created_at, u.updated_at
FROM users u JOIN api_keys k ON k.user_id = u.id
WHERE k.key=?`, key)
}

func (d *DB) getUser(ctx context.Context, query string, arg any) (*User, bool, error) {
	var u User
	var perm string
	err := d.sql.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Username, &u.PassHash, &perm, &u.CreatedAt, &u.UpdatedAt)
	if err == nil {
		u.Permissions = Permission(perm)
		return &u, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// SetUserPasswordHash updates a user's password hash.
func (d *DB) SetUserPasswordHash(ctx context.Context, id int64, passHash string) error {
	if id <= 0 {
		return errors.New("invalid user id")
	}
	if passHash == "" {
		return errors.New("password hash is required")
	}
	_, err := d.sql.ExecContext(ctx, `UPDATE users SET password_hash=?, updated_at=? WHERE id=?`, passHash, nowUnix(), id)
	return err
}

// CreateBucket inserts a bucket row owned by userID.
func (d *DB) CreateBucket(ctx context.Context, name, targetFolder string, userID int64) (*Bucket, error) {
	if name == "" || targetFolder == "" {
		return nil, errors.New("name and target folder are required")
	}
	if userID <= 0 {
		return nil, errors.New("invalid user id")
	}
	now := nowUnix()
	res, err := d.sql.ExecContext(ctx, `
INSERT INTO buckets(name, target_folder, user_id, created_at, updated_at)
VALUES(?, ?, ?, ?, ?)
`, name, targetFolder, userID, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Bucket{ID: id, Name: name, TargetFolder: targetFolder, UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
}

// GetBucketForUser fetches a bucket by ID, scoped to its owner. A
// bucket owned by someone else is reported as absent.
func (d *DB) GetBucketForUser(ctx context.Context, id, userID int64) (*Bucket, bool, error) {
	var b Bucket
	err := d.sql.QueryRowContext(ctx, `
SELECT id, name, target_folder, user_id, created_at, updated_at
FROM buckets WHERE id=? AND user_id=?
`, id, userID).Scan(&b.ID, &b.Name, &b.TargetFolder, &b.UserID, &b.CreatedAt, &b.UpdatedAt)
	if err == nil {
		return &b, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// ListBucketsForUser returns all buckets owned by userID.
func (d *DB) ListBucketsForUser(ctx context.Context, userID int64) ([]Bucket, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT id, name, target_folder, user_id, created_at, updated_at
FROM buckets WHERE user_id=? ORDER BY name ASC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.ID, &b.Name, &b.TargetFolder, &b.UserID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBucketForUser removes a bucket owned by userID and reports the
// number of rows deleted (0 means absent or not owned).
func (d *DB) DeleteBucketForUser(ctx context.Context, id, userID int64) (int64, error) {
	if id <= 0 || userID <= 0 {
		return 0, errors.New("invalid id")
	}
	res, err := d.sql.ExecContext(ctx, `DELETE FROM buckets WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateFile inserts a file row and returns its ID.
func (d *DB) CreateFile(ctx context.Context, f *File) (int64, error) {
	if f == nil || f.Filename == "" || f.TargetFolder == "" {
		return 0, errors.New("filename and target folder are required")
	}
	if f.BucketID <= 0 || f.UserID <= 0 {
		return 0, errors.New("invalid bucket or user id")
	}
	now := nowUnix()
	res, err := d.sql.ExecContext(ctx, `
INSERT INTO files(filename, size, uploaded_at, bucket_id, user_id, target_folder, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
`, f.Filename, f.Size, f.UploadedAt, f.BucketID, f.UserID, f.TargetFolder, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetFileForUser fetches a file by ID, scoped to its owner.
func (d *DB) GetFileForUser(ctx context.Context, id, userID int64) (*File, bool, error) {
	var f File
	err := d.sql.QueryRowContext(ctx, `
SELECT id, filename, size, uploaded_at, bucket_id, user_id, target_folder, created_at, updated_at
FROM files WHERE id=? AND user_id=?
`, id, userID).Scan(&f.ID, &f.Filename, &f.Size, &f.UploadedAt, &f.BucketID, &f.UserID, &f.TargetFolder, &f.CreatedAt, &f.UpdatedAt)
	if err == nil {
		return &f, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// ListFilesForUser returns all files owned by userID.
func (d *DB) ListFilesForUser(ctx context.Context, userID int64) ([]File, error) {
	return d.listFiles(ctx, `
SELECT id, filename, size, uploaded_at, bucket_id, user_id, target_folder, created_at, updated_at
FROM files WHERE user_id=? ORDER BY id ASC
`, userID)
}

// ListFilesInBucket returns all of a user's files under one bucket.
func (d *DB) ListFilesInBucket(ctx context.Context, bucketID, userID int64) ([]File, error) {
	return d.listFiles(ctx, `
SELECT id, filename, size, uploaded_at, bucket_id, user_id, target_folder, created_at, updated_at
FROM files WHERE bucket_id=? AND user_id=? ORDER BY id ASC
`, bucketID, userID)
}

// ListFilesInFolder returns a user's files in a bucket whose resolved
// remote folder equals folder exactly.
func (d *DB) ListFilesInFolder(ctx context.Context, bucketID, userID int64, folder string) ([]File, error) {
	return d.listFiles(ctx, `
SELECT id, filename, size, uploaded_at, bucket_id, user_id, target_folder, created_at, updated_at
FROM files WHERE bucket_id=? AND user_id=? AND target_folder=? ORDER BY id ASC
`, bucketID, userID, folder)
}

func (d *DB) listFiles(ctx context.Context, query string, args ...any) ([]File, error) {
	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.Filename, &f.Size, &f.UploadedAt, &f.BucketID, &f.UserID, &f.TargetFolder, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFileForUser removes one file row scoped to its owner and
// reports rows deleted. Two racing deletes cannot both observe 1.
func (d *DB) DeleteFileForUser(ctx context.Context, id, userID int64) (int64, error) {
	if id <= 0 || userID <= 0 {
		return 0, errors.New("invalid id")
	}
	res, err := d.sql.ExecContext(ctx, `DELETE FROM files WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteFilesInFolder bulk-deletes a user's file rows in one bucket
// folder and reports rows deleted.
func (d *DB) DeleteFilesInFolder(ctx context.Context, bucketID, userID int64, folder string) (int64, error) {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM files WHERE bucket_id=? AND user_id=? AND target_folder=?`, bucketID, userID, folder)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteFilesInBucket bulk-deletes all of a user's file rows under one
// bucket and reports rows deleted.
func (d *DB) DeleteFilesInBucket(ctx context.Context, bucketID, userID int64) (int64, error) {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM files WHERE bucket_id=? AND user_id=?`, bucketID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DistinctFolders returns the distinct remote folder paths referenced
// by a user's file rows, sorted. This backs the virtual folder listing.
func (d *DB) DistinctFolders(ctx context.Context, userID int64) ([]string, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT DISTINCT target_folder FROM files WHERE user_id=? ORDER BY target_folder ASC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountBucketsReferencingFolder reports how many buckets other than
// excludeID point at the given remote folder. Used to decide whether a
// bucket delete may remove the folder itself.
func (d *DB) CountBucketsReferencingFolder(ctx context.Context, folder string, excludeID int64) (int64, error) {
	var n int64
	err := d.sql.QueryRowContext(ctx, `
SELECT COUNT(*) FROM buckets WHERE target_folder=? AND id<>?
`, folder, excludeID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// CreateAPIKey stores a new API key for a user and returns its ID.
func (d *DB) CreateAPIKey(ctx context.Context, userID int64, key string) (int64, error) {
	if userID <= 0 || key == "" {
		return 0, errors.New("invalid api key")
	}
	res, err := d.sql.ExecContext(ctx, `
INSERT INTO api_keys(user_id, key, created_at) VALUES(?, ?, ?)
`, userID, key, nowUnix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListAPIKeysForUser returns a user's API keys.
func (d *DB) ListAPIKeysForUser(ctx context.Context, userID int64) ([]APIKey, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT id, user_id, key, created_at FROM api_keys WHERE user_id=? ORDER BY id ASC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Key, &k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// DeleteAPIKeyForUser removes one API key scoped to its owner.
func (d *DB) DeleteAPIKeyForUser(ctx context.Context, id, userID int64) (int64, error) {
	if id <= 0 || userID <= 0 {
		return 0, errors.New("invalid id")
	}
	res, err := d.sql.ExecContext(ctx, `DELETE FROM api_keys WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
