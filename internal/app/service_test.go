package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rangeclaims/api/internal/config"
	"rangeclaims/api/internal/email"
	"rangeclaims/api/internal/events"
	"rangeclaims/api/internal/evidence"
	"rangeclaims/api/internal/ratelimit"
	"rangeclaims/api/internal/rbac"
	"rangeclaims/api/internal/store"
)

type sentNotification struct {
	kind    email.Kind
	payload email.Payload
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	fail bool
}

func (n *recordingNotifier) Send(_ context.Context, kind email.Kind, payload email.Payload) email.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{kind: kind, payload: payload})
	if n.fail {
		return email.Result{Success: false, Error: "smtp unavailable"}
	}
	return email.Result{Success: true}
}

func (n *recordingNotifier) kinds() []email.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]email.Kind, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.kind)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ClaimEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.ClaimEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Subject())
	}
	return out
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis down")
}

type fixture struct {
	svc       *Service
	store     *store.MemoryStore
	notifier  *recordingNotifier
	publisher *recordingPublisher
	evidence  *evidence.MemoryStorage
}

var (
	claimant = Caller{ID: "usr-claimant", Name: "Robin Hood", Role: rbac.RoleUser}
	other    = Caller{ID: "usr-other", Name: "Will Scarlet", Role: rbac.RoleUser}
	admin    = Caller{ID: "usr-admin", Name: "Marian", Role: rbac.RoleAdmin}
	employee = Caller{ID: "usr-employee", Name: "Tuck", Role: rbac.RoleAdminEmployee}
)

var robinContact = ContactFields{
	FirstName:   "Robin",
	LastName:    "Hood",
	RoleAtRange: "Owner",
	Phone:       "555-0100",
	Email:       "robin@example.com",
}

func newFixture(t *testing.T, mutate ...func(*config.Config, *Deps)) *fixture {
	t.Helper()
	f := &fixture{
		store:     store.NewMemoryStore(),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		evidence:  evidence.NewMemoryStorage(),
	}
	f.store.PutListing(store.Listing{ID: "lst-1", Name: "Maple Leaf Archery", Slug: "maple-leaf-archery", Tags: `{indoor,"3D course"}`})
	f.store.PutListing(store.Listing{ID: "lst-2", Name: "Prairie Bows", Slug: "prairie-bows"})
	f.store.PutProfile(store.Profile{ID: admin.ID, Role: string(rbac.RoleAdmin)})

	cfg := config.Config{JWTSecret: "test-secret", ClaimSubmitLimit: 100, ClaimSubmitWindow: time.Hour}
	deps := Deps{Store: f.store, Notifier: f.notifier, Events: f.publisher, Evidence: f.evidence}
	for _, m := range mutate {
		m(&cfg, &deps)
	}
	f.svc = New(cfg, deps)
	return f
}

func (f *fixture) submit(t *testing.T, listingID string) string {
	t.Helper()
	res, err := f.svc.SubmitClaim(context.Background(), claimant, listingID, robinContact)
	require.NoError(t, err)
	return res.ClaimID
}

func requireKind(t *testing.T, err error, kind Kind, reason string) {
	t.Helper()
	require.Error(t, err)
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr), "expected DomainError, got %T: %v", err, err)
	assert.Equal(t, kind, domainErr.Kind)
	if reason != "" {
		assert.Equal(t, reason, domainErr.Reason)
	}
}

func TestClaimLifecycleEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	submitted, err := f.svc.SubmitClaim(ctx, claimant, "lst-1", robinContact)
	require.NoError(t, err)
	assert.Equal(t, "pending", submitted.Status)
	assert.True(t, submitted.Notified)

	contacted, err := f.svc.MarkContacted(ctx, admin, submitted.ClaimID, "called the front desk")
	require.NoError(t, err)
	assert.Equal(t, "contacted", contacted.Status)
	assert.False(t, contacted.Notified)

	approved, err := f.svc.ApproveClaim(ctx, employee, submitted.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, "approved", approved.Status)
	assert.True(t, approved.Notified)

	listing, err := f.svc.GetListing(ctx, "lst-1")
	require.NoError(t, err)
	require.NotNil(t, listing.OwnerID)
	assert.Equal(t, claimant.ID, *listing.OwnerID)
	assert.True(t, listing.IsClaimed)
	assert.Equal(t, []string{"indoor", "3D course"}, listing.Tags)

	_, err = f.svc.RevokeClaim(ctx, admin, submitted.ClaimID, "   ")
	requireKind(t, err, KindValidation, "REASON_REQUIRED")
	listing, err = f.svc.GetListing(ctx, "lst-1")
	require.NoError(t, err)
	require.NotNil(t, listing.OwnerID)
	assert.Equal(t, claimant.ID, *listing.OwnerID)

	revoked, err := f.svc.RevokeClaim(ctx, admin, submitted.ClaimID, "  ownership transferred  ")
	require.NoError(t, err)
	assert.Equal(t, "revoked", revoked.Status)

	_, err = f.svc.RevokeClaim(ctx, admin, submitted.ClaimID, "again")
	requireKind(t, err, KindConflict, "ILLEGAL_TRANSITION")

	listing, err = f.svc.GetListing(ctx, "lst-1")
	require.NoError(t, err)
	assert.Nil(t, listing.OwnerID)
	assert.False(t, listing.IsClaimed)

	assert.Equal(t, []email.Kind{email.KindClaimReceived, email.KindClaimApproved, email.KindClaimRevoked}, f.notifier.kinds())
	assert.Equal(t, "ownership transferred", f.notifier.sent[2].payload.Reason)
	assert.Equal(t, []string{"claims.submit", "claims.contacted", "claims.approve", "claims.revoke"}, f.publisher.subjects())

	history, err := f.svc.ClaimHistory(ctx, admin, submitted.ClaimID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "called the front desk", history[1].Note)
	assert.Equal(t, "approved", history[3].FromStatus)
	assert.Equal(t, "revoked", history[3].ToStatus)
}

func TestApproveTwiceConflictsWithoutSecondEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "lst-1")

	_, err := f.svc.ApproveClaim(ctx, admin, id)
	require.NoError(t, err)

	_, err = f.svc.ApproveClaim(ctx, admin, id)
	requireKind(t, err, KindConflict, "ILLEGAL_TRANSITION")
	assert.Equal(t, []email.Kind{email.KindClaimReceived, email.KindClaimApproved}, f.notifier.kinds())
}

func TestConcurrentApproveSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, "lst-1")

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ApproveClaim(context.Background(), admin, id)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		requireKind(t, err, KindConflict, "")
	}
	assert.Equal(t, 1, succeeded)
	approvals := 0
	for _, kind := range f.notifier.kinds() {
		if kind == email.KindClaimApproved {
			approvals++
		}
	}
	assert.Equal(t, 1, approvals)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "lst-1")

	_, err := f.svc.RejectClaim(ctx, admin, id, "   ")
	requireKind(t, err, KindValidation, "REASON_REQUIRED")

	detail, err := f.svc.GetClaim(ctx, admin, id)
	require.NoError(t, err)
	assert.Equal(t, "pending", detail.Claim.Status)
	assert.Len(t, f.notifier.kinds(), 1)

	res, err := f.svc.RejectClaim(ctx, admin, id, "Could not verify business")
	require.NoError(t, err)
	assert.Equal(t, "rejected", res.Status)
	assert.Equal(t, "Could not verify business", f.notifier.sent[1].payload.Reason)
}

func TestRejectedClaimCannotBeApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "lst-1")
	_, err := f.svc.RejectClaim(ctx, admin, id, "duplicate")
	require.NoError(t, err)

	_, err = f.svc.ApproveClaim(ctx, admin, id)
	requireKind(t, err, KindConflict, "ILLEGAL_TRANSITION")

	listing, err := f.svc.GetListing(ctx, "lst-1")
	require.NoError(t, err)
	assert.Nil(t, listing.OwnerID)
}

func TestRevokeOnlyFromApproved(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, "lst-1")

	_, err := f.svc.RevokeClaim(context.Background(), admin, id, "no longer owner")
	requireKind(t, err, KindConflict, "ILLEGAL_TRANSITION")
}

func TestRepeatedContactedAppendsNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "lst-1")

	_, err := f.svc.MarkContacted(ctx, admin, id, "left voicemail")
	require.NoError(t, err)
	res, err := f.svc.MarkContacted(ctx, admin, id, "spoke to owner")
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, "contacted", res.Status)

	detail, err := f.svc.GetClaim(ctx, admin, id)
	require.NoError(t, err)
	assert.Contains(t, detail.Claim.AdminNotes, "left voicemail")
	assert.Contains(t, detail.Claim.AdminNotes, "spoke to owner")
	assert.Len(t, f.notifier.kinds(), 1)
}

func TestNotificationFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	f.notifier.fail = true
	ctx := context.Background()

	submitted, err := f.svc.SubmitClaim(ctx, claimant, "lst-1", robinContact)
	require.NoError(t, err)
	assert.False(t, submitted.Notified)

	approved, err := f.svc.ApproveClaim(ctx, admin, submitted.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, "approved", approved.Status)
	assert.False(t, approved.Notified)
}

func TestOwnershipWriteFailureLeavesClaimUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "lst-1")
	f.store.FailOwnership = true

	_, err := f.svc.ApproveClaim(ctx, admin, id)
	requireKind(t, err, KindDependency, "OWNERSHIP_WRITE_FAILED")

	detail, err := f.svc.GetClaim(ctx, admin, id)
	require.NoError(t, err)
	assert.Equal(t, "pending", detail.Claim.Status)
	assert.Equal(t, []email.Kind{email.KindClaimReceived}, f.notifier.kinds())
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		caller  Caller
		listing string
		contact ContactFields
		kind    Kind
		reason  string
	}{
		{name: "anonymous", caller: Caller{}, listing: "lst-1", contact: robinContact, kind: KindUnauthenticated},
		{name: "missing listing id", caller: claimant, listing: " ", contact: robinContact, kind: KindValidation, reason: "MISSING_LISTING_ID"},
		{name: "unknown listing", caller: claimant, listing: "lst-404", contact: robinContact, kind: KindValidation, reason: "LISTING_NOT_FOUND"},
		{name: "missing phone", caller: claimant, listing: "lst-1", contact: ContactFields{FirstName: "Robin", LastName: "Hood", Email: "robin@example.com"}, kind: KindValidation, reason: "MISSING_CONTACT_FIELDS"},
		{name: "bad email", caller: claimant, listing: "lst-1", contact: ContactFields{FirstName: "Robin", LastName: "Hood", Phone: "1", Email: "not-an-email"}, kind: KindValidation, reason: "INVALID_EMAIL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SubmitClaim(ctx, tt.caller, tt.listing, tt.contact)
			requireKind(t, err, tt.kind, tt.reason)
		})
	}
	assert.Empty(t, f.notifier.kinds())
}

func TestSubmitConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "lst-1")

	_, err := f.svc.SubmitClaim(ctx, other, "lst-1", robinContact)
	requireKind(t, err, KindConflict, "OPEN_CLAIM_EXISTS")

	_, err = f.svc.ApproveClaim(ctx, admin, id)
	require.NoError(t, err)

	_, err = f.svc.SubmitClaim(ctx, other, "lst-1", robinContact)
	requireKind(t, err, KindConflict, "LISTING_ALREADY_CLAIMED")
}

func TestSubmitRateLimited(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, _ *Deps) {
		cfg.ClaimSubmitLimit = 1
	})
	ctx := context.Background()
	f.submit(t, "lst-1")

	_, err := f.svc.SubmitClaim(ctx, claimant, "lst-2", robinContact)
	requireKind(t, err, KindRateLimited, "SUBMIT_RATE_LIMITED")
	assert.Equal(t, http.StatusTooManyRequests, mapError(err).Status)
	assert.Equal(t, RetryLater, mapError(err).Retry)

	_, err = f.svc.SubmitClaim(ctx, other, "lst-2", robinContact)
	assert.NoError(t, err)
}

func TestRejectedSubmissionsDoNotSpendQuota(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, _ *Deps) {
		cfg.ClaimSubmitLimit = 1
	})
	ctx := context.Background()
	f.store.PutListing(store.Listing{ID: "lst-3", Name: "Coastal Archers", Slug: "coastal-archers"})
	_, err := f.svc.SubmitClaim(ctx, other, "lst-1", robinContact)
	require.NoError(t, err)

	_, err = f.svc.SubmitClaim(ctx, claimant, "lst-missing", robinContact)
	requireKind(t, err, KindValidation, "LISTING_NOT_FOUND")
	_, err = f.svc.SubmitClaim(ctx, claimant, "lst-1", robinContact)
	requireKind(t, err, KindConflict, "OPEN_CLAIM_EXISTS")

	_, err = f.svc.SubmitClaim(ctx, claimant, "lst-2", robinContact)
	require.NoError(t, err)
	_, err = f.svc.SubmitClaim(ctx, claimant, "lst-3", robinContact)
	requireKind(t, err, KindRateLimited, "SUBMIT_RATE_LIMITED")
}

func TestSubmitLimiterOutageFailsOpen(t *testing.T) {
	f := newFixture(t, func(_ *config.Config, deps *Deps) {
		deps.Limiter = brokenLimiter{}
	})
	_, err := f.svc.SubmitClaim(context.Background(), claimant, "lst-1", robinContact)
	assert.NoError(t, err)
}

func TestDecisionsRequireModerator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "lst-1")

	_, err := f.svc.ApproveClaim(ctx, claimant, id)
	requireKind(t, err, KindAuthorization, "")
	_, err = f.svc.RejectClaim(ctx, Caller{ID: "usr-owner", Role: rbac.RoleOwner}, id, "nope")
	requireKind(t, err, KindAuthorization, "")
	_, err = f.svc.MarkContacted(ctx, Caller{}, id, "")
	requireKind(t, err, KindUnauthenticated, "")

	_, err = f.svc.ApproveClaim(ctx, admin, "clm-missing")
	requireKind(t, err, KindNotFound, "CLAIM_NOT_FOUND")
}

func TestReviewRequiresModerator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "lst-1")
	owner := Caller{ID: "usr-owner", Role: rbac.RoleOwner}

	_, err := f.svc.ListClaims(ctx, owner, "")
	requireKind(t, err, KindAuthorization, "ROLE_REQUIRED")
	_, err = f.svc.ClaimHistory(ctx, claimant, id)
	requireKind(t, err, KindAuthorization, "ROLE_REQUIRED")
	_, err = f.svc.Stats(ctx, claimant)
	requireKind(t, err, KindAuthorization, "ROLE_REQUIRED")
	_, err = f.svc.Stats(ctx, Caller{})
	requireKind(t, err, KindUnauthenticated, "")

	items, err := f.svc.ListClaims(ctx, employee, "pending")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSubmitRequiresSubmitPermission(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitClaim(context.Background(), Caller{ID: "usr-guest", Role: rbac.Role("guest")}, "lst-1", robinContact)
	requireKind(t, err, KindAuthorization, "ROLE_REQUIRED")

	res, err := f.svc.SubmitClaim(context.Background(), Caller{ID: "usr-owner", Role: rbac.RoleOwner}, "lst-2", robinContact)
	require.NoError(t, err)
	assert.Equal(t, "pending", res.Status)
}

func TestClaimVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "lst-1")
	_, err := f.svc.MarkContacted(ctx, admin, id, "internal note")
	require.NoError(t, err)

	own, err := f.svc.GetClaim(ctx, claimant, id)
	require.NoError(t, err)
	assert.Empty(t, own.Claim.AdminNotes)

	full, err := f.svc.GetClaim(ctx, admin, id)
	require.NoError(t, err)
	assert.Equal(t, "internal note", full.Claim.AdminNotes)
	assert.Equal(t, []string{"contacted", "approve", "reject"}, full.Claim.Actions)
	assert.Nil(t, own.Claim.Actions)

	_, err = f.svc.GetClaim(ctx, other, id)
	requireKind(t, err, KindAuthorization, "")

	mine, err := f.svc.MyClaims(ctx, claimant)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	theirs, err := f.svc.MyClaims(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func TestListClaimsAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.submit(t, "lst-1")
	f.submit(t, "lst-2")
	_, err := f.svc.ApproveClaim(ctx, admin, first)
	require.NoError(t, err)

	pending, err := f.svc.ListClaims(ctx, admin, "pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	all, err := f.svc.ListClaims(ctx, admin, "all")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.ListClaims(ctx, admin, "bogus")
	requireKind(t, err, KindValidation, "INVALID_STATUS")
	_, err = f.svc.ListClaims(ctx, claimant, "")
	requireKind(t, err, KindAuthorization, "")

	stats, err := f.svc.Stats(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalClaims: 2, PendingClaims: 1, ApprovedClaims: 1}, stats)
}

func TestAttachClaimDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "lst-1")
	body := []byte("%PDF-1.7 license")

	doc, err := f.svc.AttachClaimDocument(ctx, claimant, id, DocumentUpload{
		Kind: "business_license", ContentType: "application/pdf", Size: int64(len(body)), Body: bytes.NewReader(body),
	})
	require.NoError(t, err)
	assert.Equal(t, "business_license", doc.Kind)

	stored, contentType, ok := f.evidence.Object(evidence.ObjectKey(id, doc.ID, "application/pdf"))
	require.True(t, ok)
	assert.Equal(t, body, stored)
	assert.Equal(t, "application/pdf", contentType)

	detail, err := f.svc.GetClaim(ctx, claimant, id)
	require.NoError(t, err)
	require.Len(t, detail.Documents, 1)

	_, err = f.svc.AttachClaimDocument(ctx, other, id, DocumentUpload{Kind: "other", ContentType: "image/png", Size: 1, Body: bytes.NewReader([]byte{1})})
	requireKind(t, err, KindAuthorization, "")

	_, err = f.svc.AttachClaimDocument(ctx, claimant, id, DocumentUpload{Kind: "selfie", ContentType: "image/png", Size: 1, Body: bytes.NewReader([]byte{1})})
	requireKind(t, err, KindValidation, "INVALID_DOCUMENT")

	_, err = f.svc.RejectClaim(ctx, admin, id, "no")
	require.NoError(t, err)
	_, err = f.svc.AttachClaimDocument(ctx, claimant, id, DocumentUpload{Kind: "other", ContentType: "image/png", Size: 1, Body: bytes.NewReader([]byte{1})})
	requireKind(t, err, KindConflict, "CLAIM_CLOSED")
}

func TestAttachWithoutStorageIsDependencyError(t *testing.T) {
	f := newFixture(t, func(_ *config.Config, deps *Deps) {
		deps.Evidence = nil
	})
	id := f.submit(t, "lst-1")
	_, err := f.svc.AttachClaimDocument(context.Background(), claimant, id, DocumentUpload{
		Kind: "other", ContentType: "image/jpeg", Size: 3, Body: bytes.NewReader([]byte{1, 2, 3}),
	})
	requireKind(t, err, KindDependency, "EVIDENCE_UNAVAILABLE")
}

func TestCallerFromTokenPrefersProfileRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.svc.IssueToken(admin.ID, "Marian", "marian@example.com", rbac.RoleUser)
	require.NoError(t, err)
	caller, err := f.svc.CallerFromToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, caller.Role)

	token, err = f.svc.IssueToken("usr-unknown", "Alan", "alan@example.com", rbac.RoleOwner)
	require.NoError(t, err)
	caller, err = f.svc.CallerFromToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleOwner, caller.Role)

	_, err = f.svc.CallerFromToken(ctx, "garbage")
	assert.Equal(t, KindUnauthenticated, mapError(err).Kind)
}
