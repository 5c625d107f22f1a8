package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rangeclaims/api/internal/store"
)

func seeded() *store.MemoryStore {
	m := store.NewMemoryStore()
	m.PutListing(store.Listing{ID: "lst-1", Slug: "maple", Tags: `["indoor","outdoor"]`})
	m.PutListing(store.Listing{ID: "lst-2", Slug: "prairie", Tags: `{indoor,"3D course"}`, BowTypesAllowed: "{recurve,compound}"})
	m.PutListing(store.Listing{ID: "lst-3", Slug: "coastal"})
	m.PutListing(store.Listing{ID: "lst-4", Slug: "northern", PostImages: "https://img.example/a.jpg"})
	return m
}

func TestMultiValueReportsWithoutFixing(t *testing.T) {
	m := seeded()
	report, err := MultiValue(context.Background(), m, Options{PageSize: 2})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Scanned)
	require.Len(t, report.Findings, 3)
	assert.Equal(t, "lst-2", report.Findings[0].ListingID)
	assert.Equal(t, "tags", report.Findings[0].Column)
	assert.Equal(t, `["indoor","3D course"]`, report.Findings[0].Canonical)
	assert.Equal(t, []string{"recurve", "compound"}, report.Findings[1].Items)
	assert.Equal(t, "post_images", report.Findings[2].Column)
	assert.False(t, report.Findings[0].Fixed)

	listing, err := m.GetListing(context.Background(), "lst-2")
	require.NoError(t, err)
	assert.Equal(t, `{indoor,"3D course"}`, listing.Tags)
}

func TestMultiValueFixIsIdempotent(t *testing.T) {
	m := seeded()
	ctx := context.Background()

	report, err := MultiValue(ctx, m, Options{Fix: true})
	require.NoError(t, err)
	require.Len(t, report.Findings, 3)
	for _, f := range report.Findings {
		assert.True(t, f.Fixed)
	}

	listing, err := m.GetListing(ctx, "lst-2")
	require.NoError(t, err)
	assert.Equal(t, `["recurve","compound"]`, listing.BowTypesAllowed)

	again, err := MultiValue(ctx, m, Options{Fix: true})
	require.NoError(t, err)
	assert.Empty(t, again.Findings)
}

type failingSource struct {
	*store.MemoryStore
}

func (failingSource) RewriteMultiValue(context.Context, string, string, string) error {
	return errors.New("read-only replica")
}

func TestMultiValueStopsOnRewriteError(t *testing.T) {
	_, err := MultiValue(context.Background(), failingSource{seeded()}, Options{Fix: true})
	assert.ErrorContains(t, err, "read-only replica")
}

func TestMultiValueRewritesJSONNull(t *testing.T) {
	m := store.NewMemoryStore()
	m.PutListing(store.Listing{ID: "lst-1", Slug: "maple", Tags: "null", PostImages: `["a.jpg"]`})
	ctx := context.Background()

	report, err := MultiValue(ctx, m, Options{Fix: true})
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "tags", report.Findings[0].Column)
	assert.Equal(t, "null", report.Findings[0].Raw)
	assert.Equal(t, `["null"]`, report.Findings[0].Canonical)

	again, err := MultiValue(ctx, m, Options{})
	require.NoError(t, err)
	assert.Empty(t, again.Findings)
}
