package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/oklog/ulid/v2"

	"github.com/ashureev/brand-onboarding/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// dialect captures what differs between the supported databases.
type dialect struct {
	name     string
	schema   string
	numbered bool // $1-style placeholders
}

// SQLStore implements Repository over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

var _ Repository = (*SQLStore)(nil)

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, now: time.Now}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	if _, err := s.db.Exec(s.dialect.schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Dialect names the backing database ("sqlite" or "postgres").
func (s *SQLStore) Dialect() string {
	return s.dialect.name
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func newBrandID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// CommitBrand persists profile atomically in one transaction. Lock waits are
// absorbed by the driver's busy timeout; any failure rolls back and returns
// a *PersistenceError without another attempt.
func (s *SQLStore) CommitBrand(ctx context.Context, profile *domain.BrandProfile) (string, error) {
	if profile == nil {
		return "", &PersistenceError{Op: "validate", Err: fmt.Errorf("nil profile: %w", errdefs.ErrInvalidArgument)}
	}

	now := s.now().UTC()
	id := newBrandID(now)
	if err := s.commitOnce(ctx, id, now, profile); err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLStore) commitOnce(ctx context.Context, id string, now time.Time, profile *domain.BrandProfile) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin", Err: err}
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back brand commit", "brand_id", id, "error", rbErr)
		}
	}()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO brands (id, name, website_url, description, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		id, profile.BrandName, profile.WebsiteURL, profile.Description, now.Unix(),
	)
	if err != nil {
		return &PersistenceError{Op: "insert brand", Err: err}
	}

	socialQuery := s.rebind(`
		INSERT INTO brand_social_media (brand_id, position, platform, handle, url)
		VALUES (?, ?, ?, ?, ?)`)
	for i, sm := range profile.SocialMedia {
		if _, err = tx.ExecContext(ctx, socialQuery, id, i, sm.Platform, sm.Handle, sm.ProfileURL()); err != nil {
			return &PersistenceError{Op: "insert social media", Err: err}
		}
	}

	keywordQuery := s.rebind(`INSERT INTO brand_keywords (brand_id, position, keyword) VALUES (?, ?, ?)`)
	for i, kw := range profile.KeyTerms {
		if _, err = tx.ExecContext(ctx, keywordQuery, id, i, kw); err != nil {
			return &PersistenceError{Op: "insert keyword", Err: err}
		}
	}

	if err = tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

// GetBrand retrieves a brand by id, returning ErrBrandNotFound when absent.
func (s *SQLStore) GetBrand(ctx context.Context, id string) (*domain.Brand, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, website_url, description, created_at
		FROM brands WHERE id = ?`), id)

	var brand domain.Brand
	var createdAt int64
	err := row.Scan(&brand.ID, &brand.Name, &brand.WebsiteURL, &brand.Description, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBrandNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan brand row: %w", err)
	}
	brand.CreatedAt = time.Unix(createdAt, 0).UTC()

	if err := s.loadChildren(ctx, &brand); err != nil {
		return nil, err
	}
	return &brand, nil
}

// ListBrands returns up to limit brands, newest first.
func (s *SQLStore) ListBrands(ctx context.Context, limit, offset int) ([]*domain.Brand, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, name, website_url, description, created_at
		FROM brands
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query brands: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var brands []*domain.Brand
	for rows.Next() {
		var brand domain.Brand
		var createdAt int64
		if err := rows.Scan(&brand.ID, &brand.Name, &brand.WebsiteURL, &brand.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("scan brand row: %w", err)
		}
		brand.CreatedAt = time.Unix(createdAt, 0).UTC()
		brands = append(brands, &brand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate brands: %w", err)
	}
	// Children are loaded after the cursor is closed; sqlite pools may hold a
	// single connection.
	_ = rows.Close()

	for _, brand := range brands {
		if err := s.loadChildren(ctx, brand); err != nil {
			return nil, err
		}
	}
	return brands, nil
}

func (s *SQLStore) loadChildren(ctx context.Context, brand *domain.Brand) error {
	socialRows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT platform, handle, url FROM brand_social_media
		WHERE brand_id = ? ORDER BY position`), brand.ID)
	if err != nil {
		return fmt.Errorf("query social media: %w", err)
	}
	brand.SocialMedia = []domain.SocialMediaRecord{}
	for socialRows.Next() {
		var rec domain.SocialMediaRecord
		if err := socialRows.Scan(&rec.Platform, &rec.Handle, &rec.URL); err != nil {
			_ = socialRows.Close()
			return fmt.Errorf("scan social media row: %w", err)
		}
		brand.SocialMedia = append(brand.SocialMedia, rec)
	}
	if err := socialRows.Err(); err != nil {
		_ = socialRows.Close()
		return fmt.Errorf("iterate social media: %w", err)
	}
	_ = socialRows.Close()

	kwRows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT keyword FROM brand_keywords
		WHERE brand_id = ? ORDER BY position`), brand.ID)
	if err != nil {
		return fmt.Errorf("query keywords: %w", err)
	}
	defer func() { _ = kwRows.Close() }()
	brand.Keywords = []string{}
	for kwRows.Next() {
		var kw string
		if err := kwRows.Scan(&kw); err != nil {
			return fmt.Errorf("scan keyword row: %w", err)
		}
		brand.Keywords = append(brand.Keywords, kw)
	}
	if err := kwRows.Err(); err != nil {
		return fmt.Errorf("iterate keywords: %w", err)
	}
	return nil
}
