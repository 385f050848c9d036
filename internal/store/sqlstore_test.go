package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/brand-onboarding/internal/domain"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "brands.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func countRows(t *testing.T, s *SQLStore, table, brandID string) int {
	t.Helper()
	var query string
	switch table {
	case "brands":
		query = `SELECT COUNT(*) FROM brands WHERE id = ?`
	case "brand_social_media":
		query = `SELECT COUNT(*) FROM brand_social_media WHERE brand_id = ?`
	case "brand_keywords":
		query = `SELECT COUNT(*) FROM brand_keywords WHERE brand_id = ?`
	default:
		t.Fatalf("unknown table %s", table)
	}
	var n int
	require.NoError(t, s.db.QueryRow(query, brandID).Scan(&n))
	return n
}

func countAll(t *testing.T, s *SQLStore, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func sampleProfile() *domain.BrandProfile {
	return &domain.BrandProfile{
		BrandName:   "Acme",
		WebsiteURL:  "https://acme.com",
		Description: "Widgets",
		SocialMedia: []domain.SocialHandle{
			{Platform: "Twitter", Handle: "@acme"},
			{Platform: "Instagram", Handle: "acme.co"},
		},
		KeyTerms: []string{"acme", "widgets", "roadrunner"},
	}
}

func TestCommitBrandWritesAllRows(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	id, err := s.CommitBrand(context.Background(), sampleProfile())
	require.NoError(t, err)
	require.Len(t, id, 26)

	assert.Equal(t, 1, countRows(t, s, "brands", id))
	assert.Equal(t, 2, countRows(t, s, "brand_social_media", id))
	assert.Equal(t, 3, countRows(t, s, "brand_keywords", id))
}

func TestCommitBrandRollsBackOnKeywordFailure(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.db.Exec(`
		CREATE TRIGGER fail_keyword BEFORE INSERT ON brand_keywords
		WHEN NEW.keyword = 'boom'
		BEGIN SELECT RAISE(ABORT, 'keyword rejected'); END;`)
	require.NoError(t, err)

	profile := sampleProfile()
	profile.KeyTerms = []string{"acme", "widgets", "boom"}

	id, err := s.CommitBrand(context.Background(), profile)
	require.Error(t, err)
	assert.Empty(t, id)

	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "insert keyword", pe.Op)
	assert.True(t, IsPersistenceError(err))

	assert.Equal(t, 0, countAll(t, s, "brands"))
	assert.Equal(t, 0, countAll(t, s, "brand_social_media"))
	assert.Equal(t, 0, countAll(t, s, "brand_keywords"))
}

func TestCommitBrandRejectsNilProfile(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.CommitBrand(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestGetBrandRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	id, err := s.CommitBrand(context.Background(), sampleProfile())
	require.NoError(t, err)

	brand, err := s.GetBrand(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Acme", brand.Name)
	assert.Equal(t, "https://acme.com", brand.WebsiteURL)
	assert.Equal(t, []domain.SocialMediaRecord{
		{Platform: "Twitter", Handle: "@acme", URL: "https://twitter.com/acme"},
		{Platform: "Instagram", Handle: "acme.co", URL: "https://instagram.com/acme.co"},
	}, brand.SocialMedia)
	assert.Equal(t, []string{"acme", "widgets", "roadrunner"}, brand.Keywords)
	assert.WithinDuration(t, time.Now(), brand.CreatedAt, time.Minute)
}

func TestGetBrandNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.GetBrand(context.Background(), "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBrandNotFound)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestListBrandsNewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i, name := range []string{"First", "Second", "Third"} {
		at := base.Add(time.Duration(i) * time.Hour)
		s.now = func() time.Time { return at }
		p := sampleProfile()
		p.BrandName = name
		id, err := s.CommitBrand(context.Background(), p)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	brands, err := s.ListBrands(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, brands, 3)
	assert.Equal(t, "Third", brands[0].Name)
	assert.Equal(t, ids[2], brands[0].ID)
	assert.Len(t, brands[0].Keywords, 3)

	page, err := s.ListBrands(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "Second", page[0].Name)
}

func TestEmptyProfileListsCommit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	id, err := s.CommitBrand(context.Background(), &domain.BrandProfile{
		BrandName:   "Solo",
		WebsiteURL:  "https://solo.dev",
		Description: "One person shop",
	})
	require.NoError(t, err)

	brand, err := s.GetBrand(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, brand.SocialMedia)
	assert.Empty(t, brand.Keywords)
}

func TestRebindNumbersPlaceholders(t *testing.T) {
	t.Parallel()

	pg := &SQLStore{dialect: dialect{numbered: true}}
	assert.Equal(t, "INSERT INTO t (a, b) VALUES ($1, $2)", pg.rebind("INSERT INTO t (a, b) VALUES (?, ?)"))

	lite := &SQLStore{}
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}

func TestOpenSelectsSQLiteByDefault(t *testing.T) {
	t.Parallel()

	s, err := Open("", filepath.Join(t.TempDir(), "onboarding.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, "sqlite", s.Dialect())
	assert.NoError(t, s.Ping(context.Background()))
}

func TestCommitBrandDoesNotRetryLockErrors(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.db.Exec(`
		CREATE TRIGGER locked_keyword BEFORE INSERT ON brand_keywords
		BEGIN SELECT RAISE(ABORT, 'database is locked'); END;`)
	require.NoError(t, err)

	start := time.Now()
	_, err = s.CommitBrand(context.Background(), sampleProfile())
	require.Error(t, err)

	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "insert keyword", pe.Op)
	// A single attempt returns without any backoff delay.
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, 0, countAll(t, s, "brands"))
}
