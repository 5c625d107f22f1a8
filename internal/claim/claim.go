// Package claim holds the listing claim lifecycle: states, transitions and the
// rules deciding which moves are legal.
package claim

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusContacted Status = "contacted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusRevoked   Status = "revoked"
)

type Transition string

const (
	TransitionSubmit    Transition = "submit"
	TransitionContacted Transition = "contacted"
	TransitionApprove   Transition = "approve"
	TransitionReject    Transition = "reject"
	TransitionRevoke    Transition = "revoke"
)

var (
	ErrIllegalTransition = errors.New("illegal claim transition")
	ErrReasonRequired    = errors.New("reason is required")
)

type rule struct {
	from         []Status
	to           Status
	needsReason  bool
	movesOwner   bool
	notifies     bool
	sameStateNop bool
}

var rules = map[Transition]rule{
	TransitionContacted: {
		from:         []Status{StatusPending},
		to:           StatusContacted,
		sameStateNop: true,
	},
	TransitionApprove: {
		from:       []Status{StatusPending, StatusContacted},
		to:         StatusApproved,
		movesOwner: true,
		notifies:   true,
	},
	TransitionReject: {
		from:        []Status{StatusPending, StatusContacted},
		to:          StatusRejected,
		needsReason: true,
		notifies:    true,
	},
	TransitionRevoke: {
		from:        []Status{StatusApproved},
		to:          StatusRevoked,
		needsReason: true,
		movesOwner:  true,
		notifies:    true,
	},
}

// Plan is the validated outcome of applying a transition to a claim in a given
// state. Expected lists the prior states the persistence layer must still observe
// when it writes Target.
type Plan struct {
	Transition Transition
	Expected   []Status
	Target     Status
	Reason     string
	MovesOwner bool
	Notifies   bool
	NoOp       bool
}

// Decide validates a decision transition against the current state. It never
// mutates anything.
func Decide(current Status, transition Transition, reason string) (Plan, error) {
	r, ok := rules[transition]
	if !ok {
		return Plan{}, fmt.Errorf("%w: unknown transition %q", ErrIllegalTransition, transition)
	}
	reason = strings.TrimSpace(reason)
	if r.needsReason && reason == "" {
		return Plan{}, ErrReasonRequired
	}
	plan := Plan{
		Transition: transition,
		Expected:   append([]Status(nil), r.from...),
		Target:     r.to,
		Reason:     reason,
		MovesOwner: r.movesOwner,
		Notifies:   r.notifies,
	}
	if r.sameStateNop && current == r.to {
		plan.NoOp = true
		plan.Expected = []Status{r.to}
		return plan, nil
	}
	if !contains(r.from, current) {
		return Plan{}, fmt.Errorf("%w: cannot %s a %s claim", ErrIllegalTransition, transition, current)
	}
	return plan, nil
}

// Allowed reports whether transition may be applied to a claim in state from.
func Allowed(from Status, transition Transition) bool {
	r, ok := rules[transition]
	if !ok {
		return false
	}
	return contains(r.from, from) || (r.sameStateNop && from == r.to)
}

var decisions = []Transition{TransitionContacted, TransitionApprove, TransitionReject, TransitionRevoke}

// Actions lists the decisions a moderator may still take on a claim in state s.
func Actions(s Status) []Transition {
	if s.Terminal() {
		return nil
	}
	var out []Transition
	for _, t := range decisions {
		if Allowed(s, t) {
			out = append(out, t)
		}
	}
	return out
}

func (s Status) Open() bool {
	return s == StatusPending || s == StatusContacted
}

func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusRevoked
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusContacted, StatusApproved, StatusRejected, StatusRevoked:
		return true
	default:
		return false
	}
}

// ParseStatus accepts any casing; "" and "all" mean no filter.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" || normalized == "all" {
		return "", true
	}
	return normalized, normalized.Valid()
}

func contains(states []Status, s Status) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}
