package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rangeclaims/api/internal/claim"
)

// MemoryStore is an in-process store with the same transition semantics as
// PostgresStore. It backs tests and local runs without a database.
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	listings  map[string]Listing
	profiles  map[string]Profile
	claims    map[string]Claim
	order     []string
	events    []ClaimEvent
	documents []ClaimDocument

	// FailOwnership, when set, makes every ownership write fail.
	FailOwnership bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		listings: map[string]Listing{},
		profiles: map[string]Profile{},
		claims:   map[string]Claim{},
	}
}

func (m *MemoryStore) PutListing(item Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = m.now()
	}
	item.UpdatedAt = m.now()
	m.listings[item.ID] = item
}

func (m *MemoryStore) PutProfile(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

func (m *MemoryStore) GetListing(_ context.Context, listingID string) (Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.listings[listingID]
	if !ok {
		return Listing{}, ErrListingNotFound
	}
	return copyListing(item), nil
}

func (m *MemoryStore) ListListings(_ context.Context, afterID string, limit int) ([]Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 200
	}
	ids := make([]string, 0, len(m.listings))
	for id := range m.listings {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	items := make([]Listing, 0, len(ids))
	for _, id := range ids {
		items = append(items, copyListing(m.listings[id]))
	}
	return items, nil
}

func (m *MemoryStore) RewriteMultiValue(_ context.Context, listingID, column, encoded string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.listings[listingID]
	if !ok {
		return ErrListingNotFound
	}
	switch column {
	case "tags":
		item.Tags = encoded
	case "bow_types_allowed":
		item.BowTypesAllowed = encoded
	case "post_images":
		item.PostImages = encoded
	default:
		return fmt.Errorf("column %q is not a multi-value field", column)
	}
	item.UpdatedAt = m.now()
	m.listings[listingID] = item
	return nil
}

func (m *MemoryStore) GetProfile(_ context.Context, profileID string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[profileID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) InsertClaim(_ context.Context, item Claim) (Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing, ok := m.listings[item.ListingID]
	if !ok {
		return Claim{}, ErrListingNotFound
	}
	if listing.OwnerID != nil {
		return Claim{}, ErrListingClaimed
	}
	for _, existing := range m.claims {
		if existing.ListingID == item.ListingID && existing.Status.Open() {
			return Claim{}, ErrOpenClaimExists
		}
	}
	if _, dup := m.claims[item.ID]; dup {
		return Claim{}, fmt.Errorf("insert claim: duplicate id %s", item.ID)
	}

	now := m.now()
	item.Status = claim.StatusPending
	item.CreatedAt = now
	item.UpdatedAt = now
	item.AdminNotes = ""
	item.DecisionReason = ""
	item.DecidedAt = nil
	item.DecidedBy = nil
	item.ListingName = listing.Name
	m.claims[item.ID] = item
	m.order = append(m.order, item.ID)
	m.appendEvent(ClaimEvent{
		ClaimID:    item.ID,
		Transition: string(claim.TransitionSubmit),
		ToStatus:   string(claim.StatusPending),
		ActorID:    item.UserID,
	})
	return item, nil
}

func (m *MemoryStore) GetClaim(_ context.Context, claimID string) (Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.claims[claimID]
	if !ok {
		return Claim{}, ErrNotFound
	}
	return item, nil
}

func (m *MemoryStore) ListClaims(_ context.Context, filter ClaimFilter) ([]Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	items := make([]Claim, 0)
	// newest first
	for i := len(m.order) - 1; i >= 0 && len(items) < limit; i-- {
		item := m.claims[m.order[i]]
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && item.UserID != filter.UserID {
			continue
		}
		if filter.ListingID != "" && item.ListingID != filter.ListingID {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (m *MemoryStore) DecideClaim(_ context.Context, d Decision) (Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.claims[d.ClaimID]
	if !ok {
		return Claim{}, ErrNotFound
	}
	if !hasStatus(d.Expected, item.Status) {
		return Claim{}, ErrConflict
	}

	// Ownership is checked before anything is mutated so a failure leaves no trace.
	listing, hasListing := m.listings[item.ListingID]
	if d.SetOwner || d.ClearOwner {
		if m.FailOwnership || !hasListing {
			return Claim{}, fmt.Errorf("%w: listing %s unavailable", ErrOwnershipWrite, item.ListingID)
		}
		if d.SetOwner && listing.OwnerID != nil && *listing.OwnerID != item.UserID {
			return Claim{}, fmt.Errorf("%w: listing %s owned by another identity", ErrOwnershipWrite, item.ListingID)
		}
		if d.ClearOwner && (listing.OwnerID == nil || *listing.OwnerID != item.UserID) {
			return Claim{}, fmt.Errorf("%w: listing %s owner does not match claimant", ErrOwnershipWrite, item.ListingID)
		}
	}

	now := m.now()
	from := item.Status
	actor := d.ActorID
	item.Status = d.Target
	item.DecidedBy = &actor
	if d.Decided {
		item.DecidedAt = &now
	}
	if d.Reason != "" {
		item.DecisionReason = d.Reason
	}
	item.AdminNotes = appendNote(item.AdminNotes, d.Note)
	item.UpdatedAt = now

	switch {
	case d.SetOwner:
		owner := item.UserID
		listing.OwnerID = &owner
		listing.IsClaimed = true
		listing.ClaimedAt = &now
	case d.ClearOwner:
		listing.OwnerID = nil
		listing.IsClaimed = false
		listing.ClaimedAt = nil
	}
	if d.SetOwner || d.ClearOwner {
		listing.UpdatedAt = now
		m.listings[listing.ID] = listing
	}
	m.claims[item.ID] = item

	note := d.Note
	if note == "" {
		note = d.Reason
	}
	m.appendEvent(ClaimEvent{
		ClaimID:    item.ID,
		Transition: string(d.Transition),
		FromStatus: string(from),
		ToStatus:   string(d.Target),
		ActorID:    d.ActorID,
		Note:       note,
	})
	return item, nil
}

// appendEvent requires m.mu to be held.
func (m *MemoryStore) appendEvent(event ClaimEvent) {
	event.ID = int64(len(m.events) + 1)
	event.CreatedAt = m.now()
	m.events = append(m.events, event)
}

func (m *MemoryStore) ListClaimEvents(_ context.Context, claimID string) ([]ClaimEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]ClaimEvent, 0)
	for _, e := range m.events {
		if e.ClaimID == claimID {
			items = append(items, e)
		}
	}
	return items, nil
}

func (m *MemoryStore) InsertClaimDocument(_ context.Context, doc ClaimDocument) (ClaimDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[doc.ClaimID]; !ok {
		return ClaimDocument{}, ErrNotFound
	}
	doc.UploadedAt = m.now()
	m.documents = append(m.documents, doc)
	return doc, nil
}

func (m *MemoryStore) ListClaimDocuments(_ context.Context, claimID string) ([]ClaimDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]ClaimDocument, 0)
	for _, d := range m.documents {
		if d.ClaimID == claimID {
			items = append(items, d)
		}
	}
	return items, nil
}

func (m *MemoryStore) ClaimCounts(_ context.Context) (ClaimCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c ClaimCounts
	for _, item := range m.claims {
		c.Total++
		switch item.Status {
		case claim.StatusPending:
			c.Pending++
		case claim.StatusContacted:
			c.Contacted++
		case claim.StatusApproved:
			c.Approved++
		}
	}
	return c, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func copyListing(item Listing) Listing {
	if item.OwnerID != nil {
		owner := *item.OwnerID
		item.OwnerID = &owner
	}
	if item.ClaimedAt != nil {
		at := *item.ClaimedAt
		item.ClaimedAt = &at
	}
	return item
}
