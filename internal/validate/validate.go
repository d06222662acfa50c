// Package validate contains input validation for names and remote paths.
package validate

import (
	"errors"
	"path"
	"regexp"
	"strings"
)

var ErrPathEscape = errors.New("path escapes bucket folder")

// bucketNameRe keeps bucket names DNS-ish: lowercase-friendly, dot,
// dash, underscore, no leading punctuation.
var bucketNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,62}$`)

// BucketName validates a bucket name for length and allowed characters.
func BucketName(s string) error {
	if !bucketNameRe.MatchString(s) {
		return errors.New("invalid bucket name")
	}
	return nil
}

// Filename validates a bare filename. Anything that could address a
// different directory entry is rejected.
func Filename(s string) error {
	if s == "" || s == "." || s == ".." {
		return errors.New("invalid filename")
	}
	if strings.ContainsAny(s, "/\\\x00") {
		return errors.New("invalid filename")
	}
	if len(s) > 255 {
		return errors.New("filename too long")
	}
	return nil
}

// FolderPath validates a bucket's base remote folder. It must be a
// clean absolute-or-relative FTP path with no traversal segments.
func FolderPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("folder path is required")
	}
	if strings.ContainsAny(p, "\\\x00") {
		return "", errors.New("invalid folder path")
	}
	// Reject traversal in the raw input: cleaning would silently
	// resolve "a/../b" into a different tree.
	if hasDotDot(p) {
		return "", ErrPathEscape
	}
	clean := path.Clean(strings.TrimRight(p, "/"))
	if clean == "" || clean == "." || clean == "/" {
		return "", errors.New("invalid folder path")
	}
	return clean, nil
}

// SubPath validates a caller-supplied folder path relative to a
// bucket's base folder. Absolute paths, backslashes, and any ".."
// segment are rejected so the result always nests under the bucket.
func SubPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.ContainsAny(p, "\\\x00") {
		return "", ErrPathEscape
	}
	clean := path.Clean(strings.Trim(p, "/"))
	if clean == "." {
		return "", nil
	}
	if strings.HasPrefix(clean, "/") || hasDotDot(clean) {
		return "", ErrPathEscape
	}
	return clean, nil
}

// JoinFolder resolves the effective remote folder for an upload: the
// bucket base joined with an already-validated sub-path.
func JoinFolder(base, sub string) string {
	if sub == "" {
		return base
	}
	return base + "/" + sub
}

func hasDotDot(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
