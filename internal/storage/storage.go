// Package storage uploads finished archives to a cloud container.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	ErrTargetFailed   = errors.New("remote target unavailable")
	ErrUploadFailed   = errors.New("upload failed")
	ErrNotConfirmed   = errors.New("upload not confirmed")
	ErrInvalidName    = errors.New("invalid container name")
	ErrUnknownBackend = errors.New("unknown storage provider")
)

// Provider is a cloud object store holding one container per run label.
type Provider interface {
	// Name identifies the backend in logs, e.g. "azure".
	Name() string
	// EnsureTarget creates the account (where applicable) and the container
	// if they do not exist yet. It never deletes anything.
	EnsureTarget(ctx context.Context, container string) error
	// Upload stores size bytes from r as object name and returns its location.
	Upload(ctx context.Context, container, name string, r io.Reader, size int64) (string, error)
	// Confirm checks that object name exists remotely with the expected size.
	Confirm(ctx context.Context, container, name string, size int64) error
}

var containerPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9]|-[a-z0-9])*$`)

// ContainerName derives the run container from prefix and label. Azure,
// S3 and GCS all accept 3-63 lowercase letters, digits and single hyphens.
func ContainerName(prefix, label string) (string, error) {
	name := strings.ToLower(prefix + "-" + label)
	name = strings.NewReplacer("_", "-", ".", "-").Replace(name)
	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	name = strings.Trim(name, "-")
	if len(name) < 3 || len(name) > 63 || !containerPattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

// Artifact kinds and their object name prefixes.
const (
	KindSQL    = "sql"
	KindBinlog = "binlog"
)

// ObjectName returns "<kind>-backup-<label><ext>", e.g. sql-backup-2024-01-01.tar.gz.
func ObjectName(kind, label, ext string) string {
	return kind + "-backup-" + label + ext
}

// ContentType maps an archive object name to its MIME type.
func ContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(name, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func confirmSize(name string, want, got int64) error {
	if want >= 0 && got != want {
		return fmt.Errorf("%w: %s has %d bytes, expected %d", ErrNotConfirmed, name, got, want)
	}
	return nil
}
