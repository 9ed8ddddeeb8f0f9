// Package domain defines the prospect funnel entities, the error taxonomy and
// the storage contracts shared by funnelcore's persistence backends.
package domain

import "time"

// EntityType identifies the type of record stored by the core.
type EntityType string

const (
	// EntityProspect identifies a prospect record.
	EntityProspect EntityType = "prospect"
	// EntityAgent identifies an agent record.
	EntityAgent EntityType = "agent"
	// EntityDocument identifies a document attached to a prospect.
	EntityDocument EntityType = "document"
)

// Stage is one discrete step of the fixed funnel sequence.
type Stage string

// Funnel stages in progression order. Won and lost are terminal.
const (
	StageNewProspect      Stage = "new_prospect"
	StageInContact        Stage = "in_contact"
	StageMeetingScheduled Stage = "meeting_scheduled"
	StageMeetingCompleted Stage = "meeting_completed"
	StageNegotiating      Stage = "negotiating"
	StageWon              Stage = "won"
	StageLost             Stage = "lost"
)

var stageOrder = []Stage{
	StageNewProspect,
	StageInContact,
	StageMeetingScheduled,
	StageMeetingCompleted,
	StageNegotiating,
	StageWon,
	StageLost,
}

// Stages returns every funnel stage in progression order.
func Stages() []Stage {
	return append([]Stage(nil), stageOrder...)
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, st := range stageOrder {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s Stage) Terminal() bool {
	return s == StageWon || s == StageLost
}

// Next returns the direct linear successor of s. Terminal stages have none.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageNewProspect:
		return StageInContact, true
	case StageInContact:
		return StageMeetingScheduled, true
	case StageMeetingScheduled:
		return StageMeetingCompleted, true
	case StageMeetingCompleted:
		return StageNegotiating, true
	case StageNegotiating:
		return StageWon, true
	default:
		return "", false
	}
}

// OwnerRole returns the role that owns prospects sitting in s.
func (s Stage) OwnerRole() Role {
	switch s {
	case StageNewProspect, StageInContact:
		return RoleProspector
	default:
		return RoleCloser
	}
}

// Outcome derives the outcome classification for s.
func (s Stage) Outcome() Outcome {
	switch s {
	case StageWon:
		return OutcomeWon
	case StageLost:
		return OutcomeLost
	default:
		return OutcomeInProgress
	}
}

// Outcome classifies a prospect by its terminal stage, if any.
type Outcome string

const (
	OutcomeInProgress Outcome = "in_progress"
	OutcomeWon        Outcome = "won"
	OutcomeLost       Outcome = "lost"
)

// Role is the function an agent performs in the funnel.
type Role string

const (
	RoleProspector Role = "prospector"
	RoleCloser     Role = "closer"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleProspector || r == RoleCloser || r == RoleAdmin
}

// Agent is an identity resolved by an external source. The core references
// agents but never mutates them.
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Contact holds the prospect's contact fields.
type Contact struct {
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Prospect is the funnel aggregate. Stage, owners and history are written
// exclusively by the transition orchestrator.
type Prospect struct {
	ID string `json:"id"`
	Contact
	Stage           Stage             `json:"stage"`
	Outcome         Outcome           `json:"outcome"`
	ProspectorOwner string            `json:"prospector_owner"`
	CloserOwner     *string           `json:"closer_owner,omitempty"`
	StageChangedAt  time.Time         `json:"stage_changed_at"`
	Notes           string            `json:"notes,omitempty"`
	Documents       []Document        `json:"documents"`
	History         []TransitionEvent `json:"history"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Revision        int64             `json:"revision"`
}

// LastEvent returns the most recent transition, if any.
func (p Prospect) LastEvent() (TransitionEvent, bool) {
	if len(p.History) == 0 {
		return TransitionEvent{}, false
	}
	return p.History[len(p.History)-1], true
}

// Clone returns a deep copy of p.
func (p Prospect) Clone() Prospect {
	cp := p
	if p.CloserOwner != nil {
		owner := *p.CloserOwner
		cp.CloserOwner = &owner
	}
	cp.History = append([]TransitionEvent(nil), p.History...)
	cp.Documents = make([]Document, len(p.Documents))
	for i, d := range p.Documents {
		cp.Documents[i] = d.Clone()
	}
	return cp
}

// TransitionEvent is the immutable record of one stage change.
type TransitionEvent struct {
	From    Stage     `json:"from"`
	To      Stage     `json:"to"`
	At      time.Time `json:"at"`
	AgentID string    `json:"agent_id"`
	Note    string    `json:"note,omitempty"`
}

// Document describes an attachment recorded against a prospect. BlobKey is set
// when the content itself was written to the blob store.
type Document struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	ContentType string            `json:"content_type,omitempty"`
	Size        int64             `json:"size"`
	BlobKey     string            `json:"blob_key,omitempty"`
	UploadedBy  string            `json:"uploaded_by"`
	UploadedAt  time.Time         `json:"uploaded_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	cp := d
	if d.Metadata != nil {
		cp.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// OwnerUpdates lists owner fields a transition changes. A nil field is left as is.
type OwnerUpdates struct {
	CloserOwner *string
}

// Empty reports whether no owner field changes.
func (u OwnerUpdates) Empty() bool {
	return u.CloserOwner == nil
}
