package email

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Kind string

const (
	KindClaimReceived Kind = "claim_received"
	KindClaimApproved Kind = "claim_approved"
	KindClaimRejected Kind = "claim_rejected"
	KindClaimRevoked  Kind = "claim_revoked"
)

// Payload carries what every claim notification may need. Fields a kind does
// not use are ignored.
type Payload struct {
	ClaimID     string
	ListingID   string
	ListingName string
	FirstName   string
	LastName    string
	RoleAtRange string
	Phone       string
	Email       string
	Reason      string
}

// Result reports delivery. Error is empty when Success is true.
type Result struct {
	Success bool
	Error   string
}

type DispatcherConfig struct {
	AppName     string
	AppURL      string
	ReplyTo     string
	AdminNotify string
	Timeout     time.Duration
}

// Dispatcher turns claim transitions into emails. Send never fails the caller.
type Dispatcher struct {
	sender Sender
	cfg    DispatcherConfig
	log    *zap.Logger
}

// NewDispatcher accepts a nil sender; every send then reports ErrNotConfigured.
func NewDispatcher(sender Sender, cfg DispatcherConfig, log *zap.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.AppName == "" {
		cfg.AppName = "Archery Ranges Canada"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{sender: sender, cfg: cfg, log: log}
}

func (d *Dispatcher) Send(ctx context.Context, kind Kind, p Payload) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("email dispatch panicked", zap.String("kind", string(kind)), zap.Any("panic", r))
			res = Result{Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	if d.sender == nil {
		return Result{Error: ErrNotConfigured.Error()}
	}
	if strings.TrimSpace(p.Email) == "" {
		return Result{Error: "claimant email missing"}
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	var err error
	switch kind {
	case KindClaimReceived:
		err = d.sendReceived(ctx, p)
	case KindClaimApproved, KindClaimRejected, KindClaimRevoked:
		err = d.deliver(ctx, string(kind), []string{p.Email}, p)
	default:
		err = fmt.Errorf("unknown notification kind %q", kind)
	}
	if err != nil {
		d.log.Warn("claim notification failed",
			zap.String("kind", string(kind)),
			zap.String("claim_id", p.ClaimID),
			zap.Error(err),
		)
		return Result{Error: err.Error()}
	}
	d.log.Info("claim notification sent", zap.String("kind", string(kind)), zap.String("claim_id", p.ClaimID))
	return Result{Success: true}
}

// sendReceived sends the claimant acknowledgement and the admin alert
// concurrently. Both must succeed.
func (d *Dispatcher) sendReceived(ctx context.Context, p Payload) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.deliver(gctx, "claim_received", []string{p.Email}, p)
	})
	if d.cfg.AdminNotify != "" {
		g.Go(func() error {
			return d.deliver(gctx, "admin_claim_alert", []string{d.cfg.AdminNotify}, p)
		})
	}
	return g.Wait()
}

// deliver recovers its own panics because sendReceived runs it on errgroup
// goroutines, outside the recover in Send.
func (d *Dispatcher) deliver(ctx context.Context, template string, to []string, p Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("email delivery panicked", zap.String("template", template), zap.Any("panic", r))
			err = fmt.Errorf("%s: panic: %v", template, r)
		}
	}()

	msg, err := render(template, templateData{
		AppName:      d.cfg.AppName,
		ClaimID:      p.ClaimID,
		ListingName:  p.ListingName,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		RoleAtRange:  p.RoleAtRange,
		Phone:        p.Phone,
		Email:        p.Email,
		Reason:       p.Reason,
		DashboardURL: d.dashboardURL(template, p),
	})
	if err != nil {
		return fmt.Errorf("render %s: %w", template, err)
	}
	if err := d.sender.Send(ctx, Message{
		To:      to,
		ReplyTo: d.cfg.ReplyTo,
		Subject: msg.subject,
		HTML:    msg.html,
		Text:    msg.text,
	}); err != nil {
		return fmt.Errorf("%s: %w", template, err)
	}
	return nil
}

func (d *Dispatcher) dashboardURL(template string, p Payload) string {
	base := strings.TrimRight(d.cfg.AppURL, "/")
	if template == "admin_claim_alert" {
		return base + "/admin/claims/" + p.ClaimID
	}
	return base + "/dashboard"
}
