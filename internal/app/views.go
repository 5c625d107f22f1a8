package app

import (
	"time"

	"rangeclaims/api/internal/claim"
	"rangeclaims/api/internal/normalize"
	"rangeclaims/api/internal/store"
)

type ClaimView struct {
	ID             string     `json:"id"`
	ListingID      string     `json:"listingId"`
	ListingName    string     `json:"listingName,omitempty"`
	UserID         string     `json:"userId"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	RoleAtRange    string     `json:"roleAtRange"`
	Phone          string     `json:"phone"`
	Email          string     `json:"email"`
	Status         string     `json:"status"`
	AdminNotes     string     `json:"adminNotes,omitempty"`
	DecisionReason string     `json:"decisionReason,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	DecidedAt      *time.Time `json:"decidedAt,omitempty"`
	DecidedBy      *string    `json:"decidedBy,omitempty"`
	Actions        []string   `json:"actions,omitempty"`
}

// claimView hides moderator-only fields unless full is set.
func claimView(c store.Claim, full bool) ClaimView {
	v := ClaimView{
		ID:             c.ID,
		ListingID:      c.ListingID,
		ListingName:    c.ListingName,
		UserID:         c.UserID,
		FirstName:      c.FirstName,
		LastName:       c.LastName,
		RoleAtRange:    c.RoleAtRange,
		Phone:          c.Phone,
		Email:          c.Email,
		Status:         string(c.Status),
		DecisionReason: c.DecisionReason,
		CreatedAt:      c.CreatedAt,
		DecidedAt:      c.DecidedAt,
	}
	if full {
		v.AdminNotes = c.AdminNotes
		v.DecidedBy = c.DecidedBy
		for _, t := range claim.Actions(c.Status) {
			v.Actions = append(v.Actions, string(t))
		}
	}
	return v
}

func claimViews(items []store.Claim, full bool) []ClaimView {
	out := make([]ClaimView, 0, len(items))
	for _, c := range items {
		out = append(out, claimView(c, full))
	}
	return out
}

type ClaimDetail struct {
	Claim     ClaimView      `json:"claim"`
	Documents []DocumentView `json:"documents"`
}

type DocumentView struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

func documentView(d store.ClaimDocument) DocumentView {
	return DocumentView{
		ID:          d.ID,
		Kind:        d.Kind,
		ContentType: d.ContentType,
		SizeBytes:   d.SizeBytes,
		UploadedAt:  d.UploadedAt,
	}
}

type EventView struct {
	Transition string    `json:"transition"`
	FromStatus string    `json:"fromStatus,omitempty"`
	ToStatus   string    `json:"toStatus"`
	ActorID    string    `json:"actorId"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ListingView struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Slug            string     `json:"slug"`
	City            string     `json:"city"`
	Province        string     `json:"province"`
	Address         string     `json:"address"`
	OwnerID         *string    `json:"ownerId"`
	IsClaimed       bool       `json:"isClaimed"`
	ClaimedAt       *time.Time `json:"claimedAt,omitempty"`
	ViewsCount      int        `json:"viewsCount"`
	InquiriesCount  int        `json:"inquiriesCount"`
	Tags            []string   `json:"tags"`
	BowTypesAllowed []string   `json:"bowTypesAllowed"`
	PostImages      []string   `json:"postImages"`
}

func listingView(l store.Listing) ListingView {
	return ListingView{
		ID:              l.ID,
		Name:            l.Name,
		Slug:            l.Slug,
		City:            l.City,
		Province:        l.Province,
		Address:         l.Address,
		OwnerID:         l.OwnerID,
		IsClaimed:       l.IsClaimed,
		ClaimedAt:       l.ClaimedAt,
		ViewsCount:      l.ViewsCount,
		InquiriesCount:  l.InquiriesCount,
		Tags:            normalize.ToList(l.Tags),
		BowTypesAllowed: normalize.ToList(l.BowTypesAllowed),
		PostImages:      normalize.ToList(l.PostImages),
	}
}

type Stats struct {
	TotalClaims     int `json:"totalClaims"`
	PendingClaims   int `json:"pendingClaims"`
	ContactedClaims int `json:"contactedClaims"`
	ApprovedClaims  int `json:"approvedClaims"`
}
