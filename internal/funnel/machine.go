// Package funnel decides prospect stage transitions. It performs no I/O: the
// caller supplies the loaded state, the resolved agent and the clock reading.
package funnel

import (
	"time"

	"funnelcore/pkg/domain"
)

// Input is everything Decide needs to judge one transition request.
type Input struct {
	Current         domain.Stage
	Requested       domain.Stage
	ProspectorOwner string
	CloserOwner     *string
	Actor           domain.Agent
	At              time.Time
	Note            string
}

// Decision is an accepted transition.
type Decision struct {
	NewStage     domain.Stage
	Outcome      domain.Outcome
	OwnerUpdates domain.OwnerUpdates
	Event        domain.TransitionEvent
}

// edge identifies a transition between two stages.
type edge struct {
	from, to domain.Stage
}

// handoffEdge is the single edge on which ownership moves to a closer.
var handoffEdge = edge{from: domain.StageInContact, to: domain.StageMeetingScheduled}

// Decide validates a transition request and computes its effects. Rejections
// are returned as *domain.Rejection.
func Decide(in Input) (Decision, error) {
	if in.Current.Terminal() {
		return Decision{}, domain.Reject(domain.ReasonTerminalState,
			"prospect is %s; no further transitions are permitted", in.Current)
	}
	if !in.Current.Valid() {
		return Decision{}, domain.Reject(domain.ReasonInvalidTransition, "unknown current stage %q", in.Current)
	}
	if !in.Requested.Valid() {
		return Decision{}, domain.Reject(domain.ReasonInvalidTransition, "unknown stage %q", in.Requested)
	}
	if !Allowed(in.Current, in.Requested) {
		return Decision{}, domain.Reject(domain.ReasonInvalidTransition,
			"cannot move from %s to %s", in.Current, in.Requested)
	}
	if !in.Actor.Active {
		return Decision{}, domain.Reject(domain.ReasonUnauthorized, "agent %s is inactive", in.Actor.ID)
	}

	var owners domain.OwnerUpdates
	if (edge{from: in.Current, to: in.Requested}) == handoffEdge {
		if in.Actor.Role != domain.RoleCloser {
			return Decision{}, domain.Reject(domain.ReasonInvalidAgentRole,
				"handoff to %s requires a closer, agent %s is %s", in.Requested, in.Actor.ID, in.Actor.Role)
		}
		closer := in.Actor.ID
		owners.CloserOwner = &closer
	} else if err := authorize(in); err != nil {
		return Decision{}, err
	}

	return Decision{
		NewStage:     in.Requested,
		Outcome:      in.Requested.Outcome(),
		OwnerUpdates: owners,
		Event: domain.TransitionEvent{
			From:    in.Current,
			To:      in.Requested,
			At:      in.At.UTC(),
			AgentID: in.Actor.ID,
			Note:    in.Note,
		},
	}, nil
}

// Allowed reports whether the stage graph contains the edge from -> to.
func Allowed(from, to domain.Stage) bool {
	if from.Terminal() || !from.Valid() {
		return false
	}
	if to == domain.StageLost {
		return true
	}
	next, ok := from.Next()
	return ok && next == to
}

// Successors lists the stages reachable from s in one step.
func Successors(s domain.Stage) []domain.Stage {
	var out []domain.Stage
	if next, ok := s.Next(); ok {
		out = append(out, next)
	}
	if !s.Terminal() && s.Valid() {
		out = append(out, domain.StageLost)
	}
	return out
}

// authorize checks that the actor owns the stage the prospect is leaving.
func authorize(in Input) error {
	if in.Actor.Role == domain.RoleAdmin {
		return nil
	}
	switch in.Current.OwnerRole() {
	case domain.RoleProspector:
		if in.Actor.ID == in.ProspectorOwner {
			return nil
		}
		return domain.Reject(domain.ReasonUnauthorized,
			"stage %s is owned by prospector %s", in.Current, in.ProspectorOwner)
	default:
		if in.CloserOwner != nil && in.Actor.ID == *in.CloserOwner {
			return nil
		}
		owner := "<none>"
		if in.CloserOwner != nil {
			owner = *in.CloserOwner
		}
		return domain.Reject(domain.ReasonUnauthorized, "stage %s is owned by closer %s", in.Current, owner)
	}
}
