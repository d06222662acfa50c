// Package db implements the SQLite metadata store for s4.
package db

// Permission is an S3-style grant attached to a user account.
type Permission string

const (
	PermFullControl Permission = "FULL_CONTROL"
	PermRead        Permission = "READ"
	PermWrite       Permission = "WRITE"
	PermReadACP     Permission = "READ_ACP"
	PermWriteACP    Permission = "WRITE_ACP"
	PermNone        Permission = "NONE"
)

// Valid reports whether p is one of the known permission values.
func (p Permission) Valid() bool {
	switch p {
	case PermFullControl, PermRead, PermWrite, PermReadACP, PermWriteACP, PermNone:
		return true
	}
	return false
}

// CanRead reports whether the permission allows listing and download.
func (p Permission) CanRead() bool {
	return p == PermFullControl || p == PermRead || p == PermWrite
}

// CanWrite reports whether the permission allows mutating operations.
func (p Permission) CanWrite() bool {
	return p == PermFullControl || p == PermWrite
}

// User is an account that owns buckets, files, and API keys.
type User struct {
	ID          int64
	Username    string
	PassHash    string
	Permissions Permission
	CreatedAt   int64
	UpdatedAt   int64
}

// Bucket maps a named container to one base folder on the remote FTP
// server. The remote folder must exist for the row to be valid.
type Bucket struct {
	ID           int64
	Name         string
	TargetFolder string
	UserID       int64
	CreatedAt    int64
	UpdatedAt    int64
}

// File tracks one remote object at TargetFolder/Filename. The row must
// never exist without the remote object behind it.
type File struct {
	ID           int64
	Filename     string
	Size         int64
	UploadedAt   int64
	BucketID     int64
	UserID       int64
	TargetFolder string
	CreatedAt    int64
	UpdatedAt    int64
}

// APIKey is an opaque credential owned by a user.
type APIKey struct {
	ID        int64
	UserID    int64
	Key       string
	CreatedAt int64
}
