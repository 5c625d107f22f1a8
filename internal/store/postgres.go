package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"rangeclaims/api/internal/claim"
)

// uniqueViolation is the SQLSTATE Postgres raises for a unique index conflict.
const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const listingColumns = `
	id, name, slug, city, province, address, owner_id, is_claimed, claimed_at,
	views_count, inquiries_count, tags, bow_types_allowed, post_images, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (Listing, error) {
	var (
		item      Listing
		ownerID   sql.NullString
		claimedAt sql.NullTime
	)
	err := row.Scan(
		&item.ID, &item.Name, &item.Slug, &item.City, &item.Province, &item.Address,
		&ownerID, &item.IsClaimed, &claimedAt, &item.ViewsCount, &item.InquiriesCount,
		&item.Tags, &item.BowTypesAllowed, &item.PostImages, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Listing{}, err
	}
	if ownerID.Valid {
		item.OwnerID = &ownerID.String
	}
	if claimedAt.Valid {
		item.ClaimedAt = &claimedAt.Time
	}
	return item, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, listingID string) (Listing, error) {
	item, err := scanListing(s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id=$1`, listingID))
	if errors.Is(err, sql.ErrNoRows) {
		return Listing{}, ErrListingNotFound
	}
	if err != nil {
		return Listing{}, fmt.Errorf("get listing: %w", err)
	}
	return item, nil
}

// ListListings pages through listings ordered by id, starting after afterID.
func (s *PostgresStore) ListListings(ctx context.Context, afterID string, limit int) ([]Listing, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	items := make([]Listing, 0, limit)
	for rows.Next() {
		item, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// RewriteMultiValue replaces the stored encoding of one multi-value column.
func (s *PostgresStore) RewriteMultiValue(ctx context.Context, listingID, column, encoded string) error {
	if !isMultiValueColumn(column) {
		return fmt.Errorf("column %q is not a multi-value field", column)
	}
	// column is checked against a fixed allow-list above
	res, err := s.db.ExecContext(ctx, `UPDATE listings SET `+column+`=$2, updated_at=NOW() WHERE id=$1`, listingID, encoded)
	if err != nil {
		return fmt.Errorf("rewrite %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrListingNotFound
	}
	return nil
}

func isMultiValueColumn(column string) bool {
	for _, candidate := range MultiValueColumns {
		if candidate == column {
			return true
		}
	}
	return false
}

func (s *PostgresStore) GetProfile(ctx context.Context, profileID string) (Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, `SELECT id, email, full_name, role FROM profiles WHERE id=$1`, profileID).
		Scan(&p.ID, &p.Email, &p.FullName, &p.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

const claimColumns = `
	c.id, c.listing_id, c.user_id, c.first_name, c.last_name, c.role_at_range,
	c.phone_number, c.email_address, c.admin_notes, c.decision_reason, c.status,
	c.created_at, c.updated_at, c.decided_at, c.decided_by, COALESCE(l.name, '')
`

func scanClaim(row rowScanner) (Claim, error) {
	var (
		item      Claim
		status    string
		decidedAt sql.NullTime
		decidedBy sql.NullString
	)
	err := row.Scan(
		&item.ID, &item.ListingID, &item.UserID, &item.FirstName, &item.LastName, &item.RoleAtRange,
		&item.Phone, &item.Email, &item.AdminNotes, &item.DecisionReason, &status,
		&item.CreatedAt, &item.UpdatedAt, &decidedAt, &decidedBy, &item.ListingName,
	)
	if err != nil {
		return Claim{}, err
	}
	item.Status = claim.Status(status)
	if decidedAt.Valid {
		item.DecidedAt = &decidedAt.Time
	}
	if decidedBy.Valid {
		item.DecidedBy = &decidedBy.String
	}
	return item, nil
}

// InsertClaim creates a pending claim and its submit event. It refuses listings
// that already have an owner or an open claim.
func (s *PostgresStore) InsertClaim(ctx context.Context, item Claim) (Claim, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Claim{}, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ownerID sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT owner_id FROM listings WHERE id=$1 FOR UPDATE`, item.ListingID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return Claim{}, ErrListingNotFound
	}
	if err != nil {
		return Claim{}, fmt.Errorf("lock listing: %w", err)
	}
	if ownerID.Valid {
		return Claim{}, ErrListingClaimed
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO listing_claims (
			id, listing_id, user_id, first_name, last_name, role_at_range,
			phone_number, email_address, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
	`, item.ID, item.ListingID, item.UserID, item.FirstName, item.LastName, item.RoleAtRange, item.Phone, item.Email)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Claim{}, ErrOpenClaimExists
		}
		return Claim{}, fmt.Errorf("insert claim: %w", err)
	}

	if err := insertEvent(ctx, tx, ClaimEvent{
		ClaimID:    item.ID,
		Transition: string(claim.TransitionSubmit),
		ToStatus:   string(claim.StatusPending),
		ActorID:    item.UserID,
	}); err != nil {
		return Claim{}, err
	}

	created, err := scanClaim(tx.QueryRowContext(ctx, `
		SELECT `+claimColumns+`
		FROM listing_claims c
		LEFT JOIN listings l ON l.id = c.listing_id
		WHERE c.id=$1
	`, item.ID))
	if err != nil {
		return Claim{}, fmt.Errorf("read claim: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Claim{}, fmt.Errorf("commit claim: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetClaim(ctx context.Context, claimID string) (Claim, error) {
	item, err := scanClaim(s.db.QueryRowContext(ctx, `
		SELECT `+claimColumns+`
		FROM listing_claims c
		LEFT JOIN listings l ON l.id = c.listing_id
		WHERE c.id=$1
	`, claimID))
	if errors.Is(err, sql.ErrNoRows) {
		return Claim{}, ErrNotFound
	}
	if err != nil {
		return Claim{}, fmt.Errorf("get claim: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListClaims(ctx context.Context, filter ClaimFilter) ([]Claim, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("c.status = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("c.user_id = $%d", len(args)))
	}
	if filter.ListingID != "" {
		args = append(args, filter.ListingID)
		where = append(where, fmt.Sprintf("c.listing_id = $%d", len(args)))
	}
	query := `SELECT ` + claimColumns + ` FROM listing_claims c LEFT JOIN listings l ON l.id = c.listing_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY c.created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	items := make([]Claim, 0)
	for rows.Next() {
		item, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DecideClaim applies one transition as a conditional update. The claim row, the
// listing owner and the event row commit together or not at all.
func (s *PostgresStore) DecideClaim(ctx context.Context, d Decision) (Claim, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Claim{}, fmt.Errorf("begin decision tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		current   string
		listingID string
		claimant  string
	)
	err = tx.QueryRowContext(ctx, `SELECT status, listing_id, user_id FROM listing_claims WHERE id=$1 FOR UPDATE`, d.ClaimID).
		Scan(&current, &listingID, &claimant)
	if errors.Is(err, sql.ErrNoRows) {
		return Claim{}, ErrNotFound
	}
	if err != nil {
		return Claim{}, fmt.Errorf("lock claim: %w", err)
	}
	if !hasStatus(d.Expected, claim.Status(current)) {
		return Claim{}, ErrConflict
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE listing_claims SET
			status = $2,
			decided_by = $3,
			decided_at = CASE WHEN $4 THEN NOW() ELSE decided_at END,
			decision_reason = CASE WHEN $5 = '' THEN decision_reason ELSE $5 END,
			admin_notes = CASE
				WHEN $6 = '' THEN admin_notes
				WHEN admin_notes = '' THEN $6
				ELSE admin_notes || E'\n' || $6
			END,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($7)
	`, d.ClaimID, string(d.Target), d.ActorID, d.Decided, d.Reason, d.Note, expectedStrings(d.Expected))
	if err != nil {
		return Claim{}, fmt.Errorf("update claim: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return Claim{}, fmt.Errorf("update claim rows: %w", err)
	} else if n == 0 {
		return Claim{}, ErrConflict
	}

	switch {
	case d.SetOwner:
		res, err = tx.ExecContext(ctx, `
			UPDATE listings SET owner_id=$2, is_claimed=TRUE, claimed_at=NOW(), updated_at=NOW()
			WHERE id=$1 AND (owner_id IS NULL OR owner_id=$2)
		`, listingID, claimant)
	case d.ClearOwner:
		res, err = tx.ExecContext(ctx, `
			UPDATE listings SET owner_id=NULL, is_claimed=FALSE, claimed_at=NULL, updated_at=NOW()
			WHERE id=$1 AND owner_id=$2
		`, listingID, claimant)
	}
	if d.SetOwner || d.ClearOwner {
		if err != nil {
			return Claim{}, fmt.Errorf("%w: %v", ErrOwnershipWrite, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return Claim{}, fmt.Errorf("%w: listing %s owner does not match claimant", ErrOwnershipWrite, listingID)
		}
	}

	note := d.Note
	if note == "" {
		note = d.Reason
	}
	if err := insertEvent(ctx, tx, ClaimEvent{
		ClaimID:    d.ClaimID,
		Transition: string(d.Transition),
		FromStatus: current,
		ToStatus:   string(d.Target),
		ActorID:    d.ActorID,
		Note:       note,
	}); err != nil {
		return Claim{}, err
	}

	updated, err := scanClaim(tx.QueryRowContext(ctx, `
		SELECT `+claimColumns+`
		FROM listing_claims c
		LEFT JOIN listings l ON l.id = c.listing_id
		WHERE c.id=$1
	`, d.ClaimID))
	if err != nil {
		return Claim{}, fmt.Errorf("read claim: %w", err)
	}
	if err := tx.Commit(); err != nil {
		if d.SetOwner || d.ClearOwner {
			return Claim{}, fmt.Errorf("%w: commit: %v", ErrOwnershipWrite, err)
		}
		return Claim{}, fmt.Errorf("commit decision: %w", err)
	}
	return updated, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, event ClaimEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO claim_events (claim_id, transition, from_status, to_status, actor_id, note)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ClaimID, event.Transition, event.FromStatus, event.ToStatus, event.ActorID, event.Note)
	if err != nil {
		return fmt.Errorf("insert claim event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListClaimEvents(ctx context.Context, claimID string) ([]ClaimEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, claim_id, transition, from_status, to_status, actor_id, note, created_at
		FROM claim_events
		WHERE claim_id=$1
		ORDER BY id
	`, claimID)
	if err != nil {
		return nil, fmt.Errorf("list claim events: %w", err)
	}
	defer rows.Close()

	items := make([]ClaimEvent, 0)
	for rows.Next() {
		var e ClaimEvent
		if err := rows.Scan(&e.ID, &e.ClaimID, &e.Transition, &e.FromStatus, &e.ToStatus, &e.ActorID, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan claim event: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertClaimDocument(ctx context.Context, doc ClaimDocument) (ClaimDocument, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO claim_documents (id, claim_id, kind, object_key, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING uploaded_at
	`, doc.ID, doc.ClaimID, doc.Kind, doc.ObjectKey, doc.ContentType, doc.SizeBytes, doc.UploadedBy).Scan(&doc.UploadedAt)
	if err != nil {
		return ClaimDocument{}, fmt.Errorf("insert claim document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) ListClaimDocuments(ctx context.Context, claimID string) ([]ClaimDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, claim_id, kind, object_key, content_type, size_bytes, uploaded_by, uploaded_at
		FROM claim_documents
		WHERE claim_id=$1
		ORDER BY uploaded_at
	`, claimID)
	if err != nil {
		return nil, fmt.Errorf("list claim documents: %w", err)
	}
	defer rows.Close()

	items := make([]ClaimDocument, 0)
	for rows.Next() {
		var d ClaimDocument
		if err := rows.Scan(&d.ID, &d.ClaimID, &d.Kind, &d.ObjectKey, &d.ContentType, &d.SizeBytes, &d.UploadedBy, &d.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan claim document: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ClaimCounts(ctx context.Context) (ClaimCounts, error) {
	var c ClaimCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status='pending'),
			COUNT(*) FILTER (WHERE status='contacted'),
			COUNT(*) FILTER (WHERE status='approved')
		FROM listing_claims
	`).Scan(&c.Total, &c.Pending, &c.Contacted, &c.Approved)
	if err != nil {
		return ClaimCounts{}, fmt.Errorf("claim counts: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
