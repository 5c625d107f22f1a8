package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"rangeclaims/api/internal/auth"
	"rangeclaims/api/internal/config"
	"rangeclaims/api/internal/email"
	"rangeclaims/api/internal/events"
	"rangeclaims/api/internal/evidence"
	"rangeclaims/api/internal/metrics"
	"rangeclaims/api/internal/ratelimit"
	"rangeclaims/api/internal/rbac"
	"rangeclaims/api/internal/store"
)

// Caller is the resolved identity behind a request.
type Caller struct {
	ID    string
	Name  string
	Email string
	Role  rbac.Role
}

func (c Caller) Authenticated() bool {
	return c.ID != ""
}

type dataStore interface {
	GetListing(context.Context, string) (store.Listing, error)
	GetProfile(context.Context, string) (store.Profile, error)
	InsertClaim(context.Context, store.Claim) (store.Claim, error)
	GetClaim(context.Context, string) (store.Claim, error)
	ListClaims(context.Context, store.ClaimFilter) ([]store.Claim, error)
	DecideClaim(context.Context, store.Decision) (store.Claim, error)
	ListClaimEvents(context.Context, string) ([]store.ClaimEvent, error)
	InsertClaimDocument(context.Context, store.ClaimDocument) (store.ClaimDocument, error)
	ListClaimDocuments(context.Context, string) ([]store.ClaimDocument, error)
	ClaimCounts(context.Context) (store.ClaimCounts, error)
	Ping(context.Context) error
}

type notifier interface {
	Send(context.Context, email.Kind, email.Payload) email.Result
}

// Deps are the collaborators a Service is built from. Store is required; the
// rest fall back to no-op or in-process implementations.
type Deps struct {
	Store    dataStore
	Notifier notifier
	Events   events.Publisher
	Limiter  ratelimit.Limiter
	Evidence evidence.Storage
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type Service struct {
	cfg      config.Config
	store    dataStore
	notifier notifier
	events   events.Publisher
	limiter  ratelimit.Limiter
	evidence evidence.Storage
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		notifier: deps.Notifier,
		events:   deps.Events,
		limiter:  deps.Limiter,
		evidence: deps.Evidence,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		now:      time.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.notifier == nil {
		s.notifier = email.NewDispatcher(nil, email.DispatcherConfig{}, s.log)
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewMemoryLimiter(cfg.ClaimSubmitLimit, cfg.ClaimSubmitWindow)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CallerFromToken verifies a bearer token. The stored profile role wins over
// the role carried in the token.
func (s *Service) CallerFromToken(ctx context.Context, token string) (Caller, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Caller{}, err
	}
	caller := Caller{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
		Role:  rbac.Normalize(claims.Role),
	}

	profile, err := s.store.GetProfile(ctx, claims.Subject)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return caller, nil
	case err != nil:
		return Caller{}, dependencyError("PROFILE_LOOKUP_FAILED", "Could not resolve caller", err)
	}
	caller.Role = rbac.Normalize(profile.Role)
	if profile.FullName != "" {
		caller.Name = profile.FullName
	}
	if profile.Email != "" {
		caller.Email = profile.Email
	}
	return caller, nil
}

// IssueToken signs an access token for subject. Used by rangectl to mint
// operator tokens; end-user tokens come from the identity provider.
func (s *Service) IssueToken(subject, name, mail string, role rbac.Role) (string, error) {
	ttl := s.cfg.AccessTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return auth.IssueToken([]byte(s.cfg.JWTSecret), subject, auth.Claims{Name: name, Email: mail, Role: string(role)}, ttl)
}

func authorize(caller Caller, action rbac.Action) error {
	if !caller.Authenticated() {
		return unauthenticatedError()
	}
	if !rbac.Can(caller.Role, action) {
		if action == rbac.ActionSubmitClaim {
			return forbiddenError("Role may not submit claims")
		}
		return forbiddenError("Admin role required")
	}
	return nil
}

func requireID(value, field string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", validationError("MISSING_"+strings.ToUpper(field), fmt.Sprintf("%s is required", field))
	}
	return trimmed, nil
}
