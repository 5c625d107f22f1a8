package store

import (
	"errors"
	"time"

	"rangeclaims/api/internal/claim"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrListingNotFound = errors.New("listing not found")
	// ErrConflict means the claim was not in one of the expected prior states
	// when the decision was written.
	ErrConflict        = errors.New("claim state changed")
	ErrOpenClaimExists = errors.New("listing already has an open claim")
	ErrListingClaimed  = errors.New("listing already has an owner")
	// ErrOwnershipWrite means the listing owner could not be written together
	// with the claim transition; nothing was committed.
	ErrOwnershipWrite = errors.New("listing ownership write failed")
)

type Listing struct {
	ID              string
	Name            string
	Slug            string
	City            string
	Province        string
	Address         string
	OwnerID         *string
	IsClaimed       bool
	ClaimedAt       *time.Time
	ViewsCount      int
	InquiriesCount  int
	Tags            string
	BowTypesAllowed string
	PostImages      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MultiValueColumns are the listing columns whose stored encoding varies.
var MultiValueColumns = []string{"tags", "bow_types_allowed", "post_images"}

func (l Listing) MultiValue(column string) string {
	switch column {
	case "tags":
		return l.Tags
	case "bow_types_allowed":
		return l.BowTypesAllowed
	case "post_images":
		return l.PostImages
	default:
		return ""
	}
}

type Profile struct {
	ID       string
	Email    string
	FullName string
	Role     string
}

type Claim struct {
	ID             string
	ListingID      string
	UserID         string
	FirstName      string
	LastName       string
	RoleAtRange    string
	Phone          string
	Email          string
	AdminNotes     string
	DecisionReason string
	Status         claim.Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DecidedAt      *time.Time
	DecidedBy      *string
	// Joined for listings in the admin queue
	ListingName string
}

type ClaimFilter struct {
	Status    claim.Status
	UserID    string
	ListingID string
	Limit     int
}

// Decision is one conditional write against the claim ledger.
type Decision struct {
	ClaimID    string
	Transition claim.Transition
	ActorID    string
	Expected   []claim.Status
	Target     claim.Status
	Note       string
	Reason     string
	// Decided stamps decided_at.
	Decided    bool
	SetOwner   bool
	ClearOwner bool
}

type ClaimEvent struct {
	ID         int64
	ClaimID    string
	Transition string
	FromStatus string
	ToStatus   string
	ActorID    string
	Note       string
	CreatedAt  time.Time
}

type ClaimDocument struct {
	ID          string
	ClaimID     string
	Kind        string
	ObjectKey   string
	ContentType string
	SizeBytes   int64
	UploadedBy  string
	UploadedAt  time.Time
}

type ClaimCounts struct {
	Total     int
	Pending   int
	Contacted int
	Approved  int
}

func expectedStrings(states []claim.Status) []string {
	out := make([]string, 0, len(states))
	for _, s := range states {
		out = append(out, string(s))
	}
	return out
}

func hasStatus(states []claim.Status, s claim.Status) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

func appendNote(existing, note string) string {
	if note == "" {
		return existing
	}
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
