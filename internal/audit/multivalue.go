// Package audit finds listing rows whose multi-value columns are not stored
// as canonical JSON arrays.
package audit

import (
	"context"
	"fmt"

	"rangeclaims/api/internal/normalize"
	"rangeclaims/api/internal/store"
)

type listingSource interface {
	ListListings(ctx context.Context, afterID string, limit int) ([]store.Listing, error)
	RewriteMultiValue(ctx context.Context, listingID, column, encoded string) error
}

// Finding is one non-canonical column value.
type Finding struct {
	ListingID string   `json:"listingId"`
	Slug      string   `json:"slug"`
	Column    string   `json:"column"`
	Raw       string   `json:"raw"`
	Canonical string   `json:"canonical"`
	Items     []string `json:"items"`
	Fixed     bool     `json:"fixed"`
}

type Report struct {
	Scanned  int       `json:"scanned"`
	Findings []Finding `json:"findings"`
}

type Options struct {
	Fix      bool
	PageSize int
}

// MultiValue pages through every listing in id order. With Fix set, each
// finding is rewritten in place; a failed rewrite stops the scan.
func MultiValue(ctx context.Context, src listingSource, opts Options) (Report, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	report := Report{Findings: []Finding{}}
	after := ""
	for {
		page, err := src.ListListings(ctx, after, opts.PageSize)
		if err != nil {
			return report, fmt.Errorf("list listings after %q: %w", after, err)
		}
		for _, listing := range page {
			report.Scanned++
			for _, column := range store.MultiValueColumns {
				raw := listing.MultiValue(column)
				if normalize.Canonical(raw) {
					continue
				}
				items := normalize.ToList(raw)
				finding := Finding{
					ListingID: listing.ID,
					Slug:      listing.Slug,
					Column:    column,
					Raw:       raw,
					Canonical: normalize.Encode(items),
					Items:     items,
				}
				if opts.Fix {
					if err := src.RewriteMultiValue(ctx, listing.ID, column, finding.Canonical); err != nil {
						return report, fmt.Errorf("rewrite %s.%s: %w", listing.ID, column, err)
					}
					finding.Fixed = true
				}
				report.Findings = append(report.Findings, finding)
			}
		}
		if len(page) < opts.PageSize {
			return report, nil
		}
		after = page[len(page)-1].ID
	}
}
