package study

import "fmt"

// Transition names a legal status change.
type Transition string

const (
	TransitionSubmit          Transition = "submit"
	TransitionRequestChanges  Transition = "request_changes"
	TransitionApprove         Transition = "approve"
	TransitionReject          Transition = "reject"
	TransitionReopen          Transition = "reopen"
	TransitionStartCollection Transition = "start_collection"
	TransitionComplete        Transition = "complete"
)

type edge struct {
	to         Status
	transition Transition
}

// transitionTable is the complete set of legal edges, keyed by source status.
// Edge order is the order AllowedTargets reports.
var transitionTable = map[Status][]edge{
	StatusDraft: {
		{StatusPendingApproval, TransitionSubmit},
	},
	StatusPendingApproval: {
		{StatusDraft, TransitionRequestChanges},
		{StatusApproved, TransitionApprove},
		{StatusRejected, TransitionReject},
	},
	StatusRejected: {
		{StatusDraft, TransitionReopen},
	},
	StatusApproved: {
		{StatusCollecting, TransitionStartCollection},
	},
	StatusCollecting: {
		{StatusCompleted, TransitionComplete},
	},
	StatusCompleted: nil,
}

// TransitionError reports an illegal or unguarded status change.
type TransitionError struct {
	From    Status
	To      Status
	Allowed []Status
	Reason  string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// AllowedTargets returns the statuses reachable from from in one step.
func AllowedTargets(from Status) []Status {
	edges := transitionTable[from]
	targets := make([]Status, 0, len(edges))
	for _, e := range edges {
		targets = append(targets, e.to)
	}
	return targets
}

// Lookup returns the named transition for from -> to, if the edge exists.
func Lookup(from, to Status) (Transition, bool) {
	for _, e := range transitionTable[from] {
		if e.to == to {
			return e.transition, true
		}
	}
	return "", false
}

// TransitionContext carries the facts the transition guards need.
type TransitionContext struct {
	From          Status
	To            Status
	QuestionCount int
}

// CheckTransition validates a requested status change and returns its name.
func CheckTransition(ctx TransitionContext) (Transition, error) {
	transition, ok := Lookup(ctx.From, ctx.To)
	if !ok {
		return "", &TransitionError{From: ctx.From, To: ctx.To, Allowed: AllowedTargets(ctx.From)}
	}
	if transition == TransitionSubmit && ctx.QuestionCount < 1 {
		return "", &TransitionError{
			From:    ctx.From,
			To:      ctx.To,
			Allowed: AllowedTargets(ctx.From),
			Reason:  "study must have at least one question before it can be submitted",
		}
	}
	return transition, nil
}
