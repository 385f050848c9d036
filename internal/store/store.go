// Package store persists completed brand profiles.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/containerd/errdefs"

	"github.com/ashureev/brand-onboarding/internal/domain"
)

// ErrBrandNotFound is returned when a brand id has no row.
var ErrBrandNotFound = fmt.Errorf("brand %w", errdefs.ErrNotFound)

// Repository defines brand persistence.
type Repository interface {
	// CommitBrand writes the brand row, its social media rows and its keyword
	// rows in one transaction and returns the generated brand id.
	CommitBrand(ctx context.Context, profile *domain.BrandProfile) (string, error)

	// GetBrand loads a brand with its child rows.
	GetBrand(ctx context.Context, id string) (*domain.Brand, error)

	// ListBrands returns brands newest first.
	ListBrands(ctx context.Context, limit, offset int) ([]*domain.Brand, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// PersistenceError wraps any failure inside a brand commit. The transaction
// has been rolled back when it is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persist brand: " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err came from a failed commit.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
