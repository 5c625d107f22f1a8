package claim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideLegalMoves(t *testing.T) {
	cases := []struct {
		name       string
		from       Status
		transition Transition
		reason     string
		target     Status
		movesOwner bool
		notifies   bool
	}{
		{name: "pending contacted", from: StatusPending, transition: TransitionContacted, target: StatusContacted},
		{name: "pending approve", from: StatusPending, transition: TransitionApprove, target: StatusApproved, movesOwner: true, notifies: true},
		{name: "contacted approve", from: StatusContacted, transition: TransitionApprove, target: StatusApproved, movesOwner: true, notifies: true},
		{name: "pending reject", from: StatusPending, transition: TransitionReject, reason: "no proof", target: StatusRejected, notifies: true},
		{name: "contacted reject", from: StatusContacted, transition: TransitionReject, reason: "no proof", target: StatusRejected, notifies: true},
		{name: "approved revoke", from: StatusApproved, transition: TransitionRevoke, reason: "fraudulent", target: StatusRevoked, movesOwner: true, notifies: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := Decide(tc.from, tc.transition, tc.reason)
			require.NoError(t, err)
			assert.Equal(t, tc.target, plan.Target)
			assert.Equal(t, tc.movesOwner, plan.MovesOwner)
			assert.Equal(t, tc.notifies, plan.Notifies)
			assert.False(t, plan.NoOp)
			assert.Contains(t, plan.Expected, tc.from)
		})
	}
}

func TestDecideRejectsIllegalMoves(t *testing.T) {
	cases := []struct {
		from       Status
		transition Transition
	}{
		{StatusRejected, TransitionApprove},
		{StatusRevoked, TransitionApprove},
		{StatusApproved, TransitionApprove},
		{StatusRejected, TransitionReject},
		{StatusApproved, TransitionReject},
		{StatusRevoked, TransitionReject},
		{StatusPending, TransitionRevoke},
		{StatusContacted, TransitionRevoke},
		{StatusRevoked, TransitionRevoke},
		{StatusRejected, TransitionRevoke},
		{StatusApproved, TransitionContacted},
		{StatusRejected, TransitionContacted},
		{StatusRevoked, TransitionContacted},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.transition), func(t *testing.T) {
			_, err := Decide(tc.from, tc.transition, "a reason")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrIllegalTransition))
			assert.False(t, Allowed(tc.from, tc.transition))
		})
	}
}

func TestDecideContactedTwiceIsNoOp(t *testing.T) {
	plan, err := Decide(StatusContacted, TransitionContacted, "")
	require.NoError(t, err)
	assert.True(t, plan.NoOp)
	assert.Equal(t, []Status{StatusContacted}, plan.Expected)
	assert.True(t, Allowed(StatusContacted, TransitionContacted))
}

func TestDecideRequiresReason(t *testing.T) {
	for _, transition := range []Transition{TransitionReject, TransitionRevoke} {
		for _, reason := range []string{"", "   ", "\t\n"} {
			_, err := Decide(StatusApproved, transition, reason)
			assert.ErrorIs(t, err, ErrReasonRequired, "transition=%s reason=%q", transition, reason)
		}
	}
}

func TestDecideTrimsReason(t *testing.T) {
	plan, err := Decide(StatusPending, TransitionReject, "  duplicate listing  ")
	require.NoError(t, err)
	assert.Equal(t, "duplicate listing", plan.Reason)
}

func TestDecideUnknownTransition(t *testing.T) {
	_, err := Decide(StatusPending, Transition("merge"), "")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = Decide(StatusPending, TransitionSubmit, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, StatusPending.Open())
	assert.True(t, StatusContacted.Open())
	assert.False(t, StatusApproved.Open())
	assert.True(t, StatusRevoked.Terminal())
	assert.False(t, StatusApproved.Terminal())

	status, ok := ParseStatus(" Approved ")
	assert.True(t, ok)
	assert.Equal(t, StatusApproved, status)

	status, ok = ParseStatus("all")
	assert.True(t, ok)
	assert.Equal(t, Status(""), status)

	_, ok = ParseStatus("merged")
	assert.False(t, ok)
}

func TestActions(t *testing.T) {
	assert.Equal(t, []Transition{TransitionContacted, TransitionApprove, TransitionReject}, Actions(StatusPending))
	assert.Equal(t, []Transition{TransitionContacted, TransitionApprove, TransitionReject}, Actions(StatusContacted))
	assert.Equal(t, []Transition{TransitionRevoke}, Actions(StatusApproved))
	assert.Nil(t, Actions(StatusRejected))
	assert.Nil(t, Actions(StatusRevoked))
}
