// Package storage implements the remote object store adapter (rclone driving
// a Backblaze B2 remote), the retention pruner and local archive housekeeping.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// RemoteTarget is the remote endpoint + bucket + prefix where archives live.
type RemoteTarget struct {
	Remote string
	Bucket string
	Prefix string
}

// Path renders the rclone reference "<remote>:<bucket>/<prefix>".
func (t RemoteTarget) Path() string {
	return t.Remote + ":" + strings.Trim(path.Join(t.Bucket, t.Prefix), "/")
}

// ObjectPath returns the rclone reference of one object under the target.
func (t RemoteTarget) ObjectPath(name string) string {
	return t.Remote + ":" + strings.Trim(path.Join(t.Bucket, t.Prefix, normalizeObjectName(name)), "/")
}

func (t RemoteTarget) String() string {
	return t.Path()
}

// Credentials authenticate the B2 remote when it has to be created.
type Credentials struct {
	AccountID      string
	ApplicationKey string
}

// Empty reports whether no credential was supplied.
func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.AccountID) == "" || strings.TrimSpace(c.ApplicationKey) == ""
}

// RemoteObject is one entry at the remote target.
type RemoteObject struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// RemoteStore is the contract the pipeline needs from an object store.
type RemoteStore interface {
	// EnsureRemote creates the named endpoint from creds unless it already exists.
	EnsureRemote(ctx context.Context, name string, creds Credentials) error
	// Upload copies one local file to the target, keeping its base name.
	Upload(ctx context.Context, localPath string, target RemoteTarget) error
	// List returns the objects at the target ordered oldest first; an empty
	// or missing prefix yields an empty list.
	List(ctx context.Context, target RemoteTarget) ([]RemoteObject, error)
	// Delete removes one object by name.
	Delete(ctx context.Context, target RemoteTarget, name string) error
}

// Stats summarizes the archives at a target.
type Stats struct {
	Archives  int
	Sidecars  int
	TotalSize int64
	Oldest    *time.Time
	Newest    *time.Time
}

// ErrorKind classifies rclone failures.
type ErrorKind string

const (
	ErrorKindPath    ErrorKind = "path"
	ErrorKindAuth    ErrorKind = "auth"
	ErrorKindNetwork ErrorKind = "network"
	ErrorKindTool    ErrorKind = "tool"
	ErrorKindOther   ErrorKind = "other"
)

// StorageError describes a failed remote operation.
type StorageError struct {
	Operation   string // "ensure", "upload", "list", "delete", "download"
	Path        string
	Kind        ErrorKind
	Output      string
	Err         error
	Recoverable bool
}

func (e *StorageError) Error() string {
	recoverable := ""
	if e.Recoverable {
		recoverable = " (recoverable)"
	}
	msg := fmt.Sprintf("remote %s failed for %s [%s]%s: %v", e.Operation, e.Path, e.Kind, recoverable, e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func detectErrorKind(text string) ErrorKind {
	text = strings.ToLower(text)
	switch {
	case containsAny(text,
		"directory not found",
		"file not found",
		"object not found",
		"couldn't find root",
		"path not found"):
		return ErrorKindPath
	case containsAny(text,
		"failed to create file system",
		"couldn't find configuration section",
		"not found in config file",
		"error reading section",
		"401 unauthorized",
		"403 forbidden",
		"unauthorized",
		"bad_auth_token",
		"access denied",
		"permission denied"):
		return ErrorKindAuth
	case containsAny(text,
		"dial tcp",
		"connection refused",
		"connection reset",
		"network is unreachable",
		"i/o timeout",
		"host is down",
		"no such host"):
		return ErrorKindNetwork
	default:
		return ErrorKindOther
	}
}

func containsAny(text string, substrings ...string) bool {
	for _, s := range substrings {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

func isObjectNotFound(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "object not found") ||
		strings.Contains(lower, "file not found") ||
		strings.Contains(lower, "directory not found") ||
		strings.Contains(lower, "doesn't exist")
}

func normalizeObjectName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == "." {
		return ""
	}
	clean := path.Clean("/" + name)
	return strings.TrimPrefix(clean, "/")
}
