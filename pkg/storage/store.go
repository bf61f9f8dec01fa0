package storage

import (
	"context"
	"time"
)

// Parameter is one named configuration value. Names are hierarchical,
// e.g. "/pullplatypus/prod/WEBHOOK_URL".
type Parameter struct {
	Name      string
	Value     string
	UpdatedAt time.Time
}

// ParameterStore is a remote source of runtime settings.
type ParameterStore interface {
	// GetParametersByPath returns the direct children of path keyed by their
	// last name segment.
	GetParametersByPath(ctx context.Context, path string) (map[string]string, error)
	PutParameter(ctx context.Context, name, value string) error
	Close() error
}
