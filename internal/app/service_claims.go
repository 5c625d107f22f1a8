package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"rangeclaims/api/internal/claim"
	"rangeclaims/api/internal/email"
	"rangeclaims/api/internal/events"
	"rangeclaims/api/internal/evidence"
	"rangeclaims/api/internal/rbac"
	"rangeclaims/api/internal/store"
	"rangeclaims/api/internal/util"
)

type ContactFields struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	RoleAtRange string `json:"roleAtRange"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
}

func (c ContactFields) trimmed() ContactFields {
	return ContactFields{
		FirstName:   strings.TrimSpace(c.FirstName),
		LastName:    strings.TrimSpace(c.LastName),
		RoleAtRange: strings.TrimSpace(c.RoleAtRange),
		Phone:       strings.TrimSpace(c.Phone),
		Email:       strings.TrimSpace(c.Email),
	}
}

func (c ContactFields) validate() error {
	missing := make([]string, 0)
	if c.FirstName == "" {
		missing = append(missing, "firstName")
	}
	if c.LastName == "" {
		missing = append(missing, "lastName")
	}
	if c.Phone == "" {
		missing = append(missing, "phone")
	}
	if c.Email == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		e := validationError("MISSING_CONTACT_FIELDS", "Contact fields are required")
		e.Details = map[string]any{"missing": missing}
		return e
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return validationError("INVALID_EMAIL", "Email address is not valid")
	}
	return nil
}

type SubmitResult struct {
	ClaimID  string `json:"claimId"`
	Status   string `json:"status"`
	Notified bool   `json:"notified"`
}

type TransitionResult struct {
	ClaimID  string `json:"claimId"`
	Status   string `json:"status"`
	Notified bool   `json:"notified"`
	NoOp     bool   `json:"noop,omitempty"`
}

// SubmitClaim records a pending claim by caller on listingID and sends the
// acknowledgement and admin alert.
func (s *Service) SubmitClaim(ctx context.Context, caller Caller, listingID string, contact ContactFields) (SubmitResult, error) {
	if err := authorize(caller, rbac.ActionSubmitClaim); err != nil {
		return SubmitResult{}, err
	}
	listingID, err := requireID(listingID, "listing_id")
	if err != nil {
		return SubmitResult{}, err
	}
	contact = contact.trimmed()
	if err := contact.validate(); err != nil {
		s.metrics.Transition(string(claim.TransitionSubmit), "invalid")
		return SubmitResult{}, err
	}

	if err := s.checkListingClaimable(ctx, listingID); err != nil {
		mapped := s.submitError(err)
		s.metrics.Transition(string(claim.TransitionSubmit), outcomeOf(mapped))
		return SubmitResult{}, mapped
	}
	// Only submissions that passed validation spend quota.
	if err := s.checkSubmitLimit(ctx, caller.ID); err != nil {
		return SubmitResult{}, err
	}

	created, err := s.store.InsertClaim(ctx, store.Claim{
		ID:          util.NewID("clm"),
		ListingID:   listingID,
		UserID:      caller.ID,
		FirstName:   contact.FirstName,
		LastName:    contact.LastName,
		RoleAtRange: contact.RoleAtRange,
		Phone:       contact.Phone,
		Email:       contact.Email,
	})
	if err != nil {
		mapped := s.submitError(err)
		s.metrics.Transition(string(claim.TransitionSubmit), outcomeOf(mapped))
		return SubmitResult{}, mapped
	}
	s.metrics.Transition(string(claim.TransitionSubmit), "ok")

	notified := s.notify(ctx, email.KindClaimReceived, created, "")
	s.publish(ctx, created, claim.TransitionSubmit, "", caller.ID, notified)

	s.log.Info("claim submitted",
		zap.String("claim_id", created.ID),
		zap.String("listing_id", created.ListingID),
		zap.String("user_id", caller.ID),
		zap.Bool("notified", notified),
	)
	return SubmitResult{ClaimID: created.ID, Status: string(created.Status), Notified: notified}, nil
}

// checkListingClaimable rejects a submission early. InsertClaim still enforces
// the same rules under concurrency.
func (s *Service) checkListingClaimable(ctx context.Context, listingID string) error {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.OwnerID != nil {
		return store.ErrListingClaimed
	}
	open, err := s.store.ListClaims(ctx, store.ClaimFilter{ListingID: listingID})
	if err != nil {
		return err
	}
	for _, c := range open {
		if c.Status.Open() {
			return store.ErrOpenClaimExists
		}
	}
	return nil
}

func (s *Service) checkSubmitLimit(ctx context.Context, userID string) error {
	res, err := s.limiter.Allow(ctx, "claim-submit:"+userID)
	if err != nil {
		// Limiter outages do not block submissions.
		s.log.Warn("claim submit limiter unavailable", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	if !res.Allowed {
		s.metrics.RateLimit()
		e := domainError(KindRateLimited, "SUBMIT_RATE_LIMITED", "Too many claim submissions, try again later", nil)
		e.Details = map[string]any{"retryAfterSeconds": int(res.RetryAfter.Seconds() + 0.5)}
		return e
	}
	return nil
}

func (s *Service) submitError(err error) error {
	switch {
	case errors.Is(err, store.ErrListingNotFound):
		return validationError("LISTING_NOT_FOUND", "Listing does not exist")
	case errors.Is(err, store.ErrListingClaimed):
		return conflictError("LISTING_ALREADY_CLAIMED", "Listing already has a verified owner")
	case errors.Is(err, store.ErrOpenClaimExists):
		return conflictError("OPEN_CLAIM_EXISTS", "Listing already has a claim under review")
	default:
		s.log.Error("claim insert failed", zap.Error(err))
		return dependencyError("PERSISTENCE_FAILED", "Could not record claim", err)
	}
}

// MarkContacted records that an admin reached the claimant. Repeating it on a
// contacted claim only appends notes.
func (s *Service) MarkContacted(ctx context.Context, caller Caller, claimID, notes string) (TransitionResult, error) {
	return s.decide(ctx, caller, claimID, claim.TransitionContacted, notes)
}

func (s *Service) ApproveClaim(ctx context.Context, caller Caller, claimID string) (TransitionResult, error) {
	return s.decide(ctx, caller, claimID, claim.TransitionApprove, "")
}

func (s *Service) RejectClaim(ctx context.Context, caller Caller, claimID, reason string) (TransitionResult, error) {
	return s.decide(ctx, caller, claimID, claim.TransitionReject, reason)
}

func (s *Service) RevokeClaim(ctx context.Context, caller Caller, claimID, reason string) (TransitionResult, error) {
	return s.decide(ctx, caller, claimID, claim.TransitionRevoke, reason)
}

var decisionEmails = map[claim.Transition]email.Kind{
	claim.TransitionApprove: email.KindClaimApproved,
	claim.TransitionReject:  email.KindClaimRejected,
	claim.TransitionRevoke:  email.KindClaimRevoked,
}

func (s *Service) decide(ctx context.Context, caller Caller, claimID string, transition claim.Transition, text string) (TransitionResult, error) {
	if err := authorize(caller, rbac.ActionDecideClaim); err != nil {
		s.metrics.Transition(string(transition), "forbidden")
		return TransitionResult{}, err
	}
	claimID, err := requireID(claimID, "claim_id")
	if err != nil {
		return TransitionResult{}, err
	}

	current, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return TransitionResult{}, s.lookupError(err)
	}

	plan, err := claim.Decide(current.Status, transition, text)
	if err != nil {
		mapped := planError(err)
		s.metrics.Transition(string(transition), outcomeOf(mapped))
		return TransitionResult{}, mapped
	}

	decision := store.Decision{
		ClaimID:    claimID,
		Transition: transition,
		ActorID:    caller.ID,
		Expected:   plan.Expected,
		Target:     plan.Target,
		Decided:    transition != claim.TransitionContacted,
		SetOwner:   plan.MovesOwner && plan.Target == claim.StatusApproved,
		ClearOwner: plan.MovesOwner && plan.Target == claim.StatusRevoked,
	}
	if transition == claim.TransitionContacted {
		decision.Note = plan.Reason
	} else {
		decision.Reason = plan.Reason
	}

	updated, err := s.store.DecideClaim(ctx, decision)
	if err != nil {
		mapped := s.decisionError(err, decision)
		s.metrics.Transition(string(transition), outcomeOf(mapped))
		return TransitionResult{}, mapped
	}
	s.metrics.Transition(string(transition), "ok")

	notified := false
	if kind, ok := decisionEmails[transition]; ok && plan.Notifies {
		notified = s.notify(ctx, kind, updated, plan.Reason)
	}
	s.publish(ctx, updated, transition, current.Status, caller.ID, notified)

	s.log.Info("claim decided",
		zap.String("claim_id", updated.ID),
		zap.String("transition", string(transition)),
		zap.String("from", string(current.Status)),
		zap.String("to", string(updated.Status)),
		zap.String("admin_id", caller.ID),
		zap.Bool("notified", notified),
	)
	return TransitionResult{
		ClaimID:  updated.ID,
		Status:   string(updated.Status),
		Notified: notified,
		NoOp:     plan.NoOp,
	}, nil
}

func planError(err error) error {
	switch {
	case errors.Is(err, claim.ErrReasonRequired):
		return validationError("REASON_REQUIRED", "A non-empty reason is required")
	case errors.Is(err, claim.ErrIllegalTransition):
		return conflictError("ILLEGAL_TRANSITION", err.Error())
	default:
		return err
	}
}

func (s *Service) lookupError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFoundError("CLAIM_NOT_FOUND", "Claim not found")
	}
	return dependencyError("PERSISTENCE_FAILED", "Could not load claim", err)
}

func (s *Service) decisionError(err error, d store.Decision) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFoundError("CLAIM_NOT_FOUND", "Claim not found")
	case errors.Is(err, store.ErrConflict):
		return conflictError("CLAIM_STATE_CHANGED", "Claim was decided by another request")
	case errors.Is(err, store.ErrOwnershipWrite):
		s.log.Error("claim ownership write failed",
			zap.Bool("reconcile", true),
			zap.String("claim_id", d.ClaimID),
			zap.String("transition", string(d.Transition)),
			zap.Error(err),
		)
		return dependencyError("OWNERSHIP_WRITE_FAILED", "Listing ownership could not be updated; no change was made", err)
	default:
		s.log.Error("claim decision failed",
			zap.Bool("reconcile", true),
			zap.String("claim_id", d.ClaimID),
			zap.String("transition", string(d.Transition)),
			zap.Error(err),
		)
		return dependencyError("PERSISTENCE_FAILED", "Could not record decision", err)
	}
}

// notify sends one email for c and reports delivery. Failures are logged only.
func (s *Service) notify(ctx context.Context, kind email.Kind, c store.Claim, reason string) bool {
	res := s.notifier.Send(ctx, kind, email.Payload{
		ClaimID:     c.ID,
		ListingID:   c.ListingID,
		ListingName: c.ListingName,
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		RoleAtRange: c.RoleAtRange,
		Phone:       c.Phone,
		Email:       c.Email,
		Reason:      reason,
	})
	s.metrics.Notification(string(kind), res.Success)
	if !res.Success {
		s.log.Warn("claim notification not delivered",
			zap.String("kind", string(kind)),
			zap.String("claim_id", c.ID),
			zap.String("error", res.Error),
		)
	}
	return res.Success
}

func (s *Service) publish(ctx context.Context, c store.Claim, transition claim.Transition, from claim.Status, actorID string, notified bool) {
	err := s.events.Publish(ctx, events.ClaimEvent{
		ClaimID:    c.ID,
		ListingID:  c.ListingID,
		Transition: string(transition),
		FromStatus: string(from),
		ToStatus:   string(c.Status),
		ActorID:    actorID,
		Notified:   notified,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		s.log.Warn("claim event not published", zap.String("claim_id", c.ID), zap.String("transition", string(transition)), zap.Error(err))
	}
}

func outcomeOf(err error) string {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return "error"
	}
	switch domainErr.Kind {
	case KindValidation, KindNotFound:
		return "invalid"
	case KindConflict:
		return "conflict"
	case KindAuthorization, KindUnauthenticated:
		return "forbidden"
	default:
		return "error"
	}
}

// ListClaims is the moderation queue, newest first. status "" or "all" lists everything.
func (s *Service) ListClaims(ctx context.Context, caller Caller, status string) ([]ClaimView, error) {
	if err := authorize(caller, rbac.ActionReviewClaims); err != nil {
		return nil, err
	}
	parsed, ok := claim.ParseStatus(status)
	if !ok {
		return nil, validationError("INVALID_STATUS", fmt.Sprintf("unknown status %q", status))
	}
	items, err := s.store.ListClaims(ctx, store.ClaimFilter{Status: parsed})
	if err != nil {
		return nil, dependencyError("PERSISTENCE_FAILED", "Could not list claims", err)
	}
	return claimViews(items, true), nil
}

// GetClaim returns a claim to its claimant or to a moderator.
func (s *Service) GetClaim(ctx context.Context, caller Caller, claimID string) (ClaimDetail, error) {
	if !caller.Authenticated() {
		return ClaimDetail{}, unauthenticatedError()
	}
	claimID, err := requireID(claimID, "claim_id")
	if err != nil {
		return ClaimDetail{}, err
	}
	c, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return ClaimDetail{}, s.lookupError(err)
	}
	moderator := rbac.IsModerator(caller.Role)
	if !moderator && c.UserID != caller.ID {
		return ClaimDetail{}, forbiddenError("Only the claimant or an admin may view this claim")
	}
	docs, err := s.store.ListClaimDocuments(ctx, claimID)
	if err != nil {
		return ClaimDetail{}, dependencyError("PERSISTENCE_FAILED", "Could not load claim documents", err)
	}
	detail := ClaimDetail{Claim: claimView(c, moderator), Documents: make([]DocumentView, 0, len(docs))}
	for _, d := range docs {
		detail.Documents = append(detail.Documents, documentView(d))
	}
	return detail, nil
}

// ClaimHistory returns the append-only transition log of one claim.
func (s *Service) ClaimHistory(ctx context.Context, caller Caller, claimID string) ([]EventView, error) {
	if err := authorize(caller, rbac.ActionReviewClaims); err != nil {
		return nil, err
	}
	claimID, err := requireID(claimID, "claim_id")
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetClaim(ctx, claimID); err != nil {
		return nil, s.lookupError(err)
	}
	items, err := s.store.ListClaimEvents(ctx, claimID)
	if err != nil {
		return nil, dependencyError("PERSISTENCE_FAILED", "Could not load claim history", err)
	}
	out := make([]EventView, 0, len(items))
	for _, e := range items {
		out = append(out, EventView{
			Transition: e.Transition,
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			ActorID:    e.ActorID,
			Note:       e.Note,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out, nil
}

func (s *Service) MyClaims(ctx context.Context, caller Caller) ([]ClaimView, error) {
	if !caller.Authenticated() {
		return nil, unauthenticatedError()
	}
	items, err := s.store.ListClaims(ctx, store.ClaimFilter{UserID: caller.ID})
	if err != nil {
		return nil, dependencyError("PERSISTENCE_FAILED", "Could not list claims", err)
	}
	return claimViews(items, false), nil
}

// GetListing returns a listing with its multi-value fields normalized.
func (s *Service) GetListing(ctx context.Context, listingID string) (ListingView, error) {
	listingID, err := requireID(listingID, "listing_id")
	if err != nil {
		return ListingView{}, err
	}
	l, err := s.store.GetListing(ctx, listingID)
	if errors.Is(err, store.ErrListingNotFound) {
		return ListingView{}, notFoundError("LISTING_NOT_FOUND", "Listing not found")
	}
	if err != nil {
		return ListingView{}, dependencyError("PERSISTENCE_FAILED", "Could not load listing", err)
	}
	return listingView(l), nil
}

func (s *Service) Stats(ctx context.Context, caller Caller) (Stats, error) {
	if err := authorize(caller, rbac.ActionReviewClaims); err != nil {
		return Stats{}, err
	}
	counts, err := s.store.ClaimCounts(ctx)
	if err != nil {
		return Stats{}, dependencyError("PERSISTENCE_FAILED", "Could not count claims", err)
	}
	return Stats{
		TotalClaims:     counts.Total,
		PendingClaims:   counts.Pending,
		ContactedClaims: counts.Contacted,
		ApprovedClaims:  counts.Approved,
	}, nil
}

type DocumentUpload struct {
	Kind        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AttachClaimDocument stores verification evidence for the caller's own open claim.
func (s *Service) AttachClaimDocument(ctx context.Context, caller Caller, claimID string, upload DocumentUpload) (DocumentView, error) {
	if !caller.Authenticated() {
		return DocumentView{}, unauthenticatedError()
	}
	claimID, err := requireID(claimID, "claim_id")
	if err != nil {
		return DocumentView{}, err
	}
	c, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return DocumentView{}, s.lookupError(err)
	}
	if c.UserID != caller.ID {
		return DocumentView{}, forbiddenError("Only the claimant may attach documents")
	}
	if !c.Status.Open() {
		return DocumentView{}, conflictError("CLAIM_CLOSED", "Documents can only be attached to claims under review")
	}
	if err := evidence.Validate(upload.Kind, upload.ContentType, upload.Size); err != nil {
		s.metrics.Document(upload.Kind, "invalid")
		return DocumentView{}, validationError("INVALID_DOCUMENT", err.Error())
	}
	if s.evidence == nil {
		return DocumentView{}, dependencyError("EVIDENCE_UNAVAILABLE", "Document storage is not configured", nil)
	}

	docID := util.NewID("doc")
	key := evidence.ObjectKey(claimID, docID, upload.ContentType)
	if err := s.evidence.Put(ctx, key, upload.Body, upload.Size, upload.ContentType); err != nil {
		s.metrics.Document(upload.Kind, "error")
		s.log.Error("claim document upload failed", zap.String("claim_id", claimID), zap.Error(err))
		return DocumentView{}, dependencyError("EVIDENCE_UPLOAD_FAILED", "Could not store document", err)
	}

	doc, err := s.store.InsertClaimDocument(ctx, store.ClaimDocument{
		ID:          docID,
		ClaimID:     claimID,
		Kind:        upload.Kind,
		ObjectKey:   key,
		ContentType: upload.ContentType,
		SizeBytes:   upload.Size,
		UploadedBy:  caller.ID,
	})
	if err != nil {
		if rmErr := s.evidence.Remove(ctx, key); rmErr != nil {
			s.log.Warn("orphaned claim document", zap.String("object_key", key), zap.Error(rmErr))
		}
		s.metrics.Document(upload.Kind, "error")
		return DocumentView{}, dependencyError("PERSISTENCE_FAILED", "Could not record document", err)
	}
	s.metrics.Document(upload.Kind, "ok")
	return documentView(doc), nil
}
