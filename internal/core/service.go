// Package core hosts the funnel service: the transition orchestrator and the
// prospect, agent and document operations around it. Every exported operation
// runs through Service.run, which traces, times, logs and audits it.
package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"funnelcore/internal/blob"
	"funnelcore/internal/funnel"
	"funnelcore/internal/repository"
	"funnelcore/pkg/domain"
)

const (
	opCreateProspect  = "create_prospect"
	opApplyTransition = "apply_transition"
	opGetProspect     = "get_prospect"
	opListProspects   = "list_prospects"
	opGetTimeline     = "get_timeline"
	opAppendDocument  = "append_document"
	opGetDocument     = "get_document"
	opDocumentURL     = "document_url"
	opResolveAgent    = "resolve_agent"
	opRegisterAgent   = "register_agent"
	opListAgents      = "list_agents"
)

// Service coordinates the repository, the funnel state machine and the
// storage adapter. It is safe for concurrent use.
type Service struct {
	adapter domain.Adapter
	repo    *repository.Repository
	clock   Clock
	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
	blobs   blob.Store
	cache   TimelineCache
	newID   func() string
}

// NewService constructs a service over an opened adapter. The caller keeps
// ownership of the adapter and closes it at shutdown.
func NewService(adapter domain.Adapter, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		adapter: adapter,
		repo:    repository.New(adapter.Dialect()),
		clock:   o.clock,
		logger:  o.logger,
		audit:   o.audit,
		metrics: o.metrics,
		tracer:  o.tracer,
		blobs:   o.blobs,
		cache:   o.cache,
		newID:   o.newID,
	}
}

// ProspectInput carries the caller-supplied fields of a new prospect.
type ProspectInput struct {
	domain.Contact
	Notes string
}

// DocumentInput describes a document being attached. Size is only used when
// no content is supplied.
type DocumentInput struct {
	Name        string
	ContentType string
	Size        int64
	Metadata    map[string]string
}

// ListFilter narrows ListProspects.
type ListFilter = repository.ProspectFilter

// CreateProspect registers a prospect in new_prospect owned by the assigning
// agent, who must be an active prospector or an admin.
func (s *Service) CreateProspect(ctx context.Context, in ProspectInput, assigner domain.Agent) (domain.Prospect, error) {
	id := s.newID()
	var created domain.Prospect
	err := s.run(ctx, opCreateProspect, id, func(ctx context.Context) error {
		if strings.TrimSpace(in.Name) == "" {
			return &domain.ValidationError{Field: "name", Message: "required"}
		}
		if !assigner.Active {
			return domain.Reject(domain.ReasonUnauthorized, "agent %s is inactive", assigner.ID)
		}
		if assigner.Role != domain.RoleProspector && assigner.Role != domain.RoleAdmin {
			return domain.Reject(domain.ReasonInvalidAgentRole,
				"prospects are assigned by prospectors or admins, agent %s is %s", assigner.ID, assigner.Role)
		}
		now := s.clock.Now().UTC()
		p := domain.Prospect{
			ID:              id,
			Contact:         in.Contact,
			Stage:           domain.StageNewProspect,
			Outcome:         domain.OutcomeInProgress,
			ProspectorOwner: assigner.ID,
			StageChangedAt:  now,
			Notes:           in.Notes,
			Documents:       []domain.Document{},
			History:         []domain.TransitionEvent{},
			CreatedAt:       now,
			UpdatedAt:       now,
			Revision:        1,
		}
		return s.adapter.WithTransaction(ctx, func(ctx context.Context, tx domain.Executor) error {
			if err := s.repo.CreateProspect(ctx, tx, p); err != nil {
				return err
			}
			var err error
			created, err = s.repo.GetProspect(ctx, tx, id)
			return err
		})
	})
	if err != nil {
		return domain.Prospect{}, err
	}
	return created, nil
}

// ApplyTransition moves a prospect to the requested stage on behalf of actor.
// The read, the decision, the stage write and the history append share one
// transaction; a rejection leaves the prospect untouched.
func (s *Service) ApplyTransition(ctx context.Context, prospectID string, requested domain.Stage, actor domain.Agent, note string) (domain.Prospect, error) {
	var (
		updated  domain.Prospect
		decision funnel.Decision
	)
	err := s.run(ctx, opApplyTransition, prospectID, func(ctx context.Context) error {
		return s.adapter.WithTransaction(ctx, func(ctx context.Context, tx domain.Executor) error {
			current, err := s.repo.GetProspectForUpdate(ctx, tx, prospectID)
			if err != nil {
				return err
			}
			// History timestamps never decrease, even if the clock steps back.
			at := s.clock.Now().UTC()
			if last, ok := current.LastEvent(); ok && at.Before(last.At) {
				at = last.At
			}
			decision, err = funnel.Decide(funnel.Input{
				Current:         current.Stage,
				Requested:       requested,
				ProspectorOwner: current.ProspectorOwner,
				CloserOwner:     current.CloserOwner,
				Actor:           actor,
				At:              at,
				Note:            note,
			})
			if err != nil {
				return err
			}
			if _, err := s.repo.UpdateStageAndOwners(ctx, tx, prospectID, current.Revision,
				decision.NewStage, decision.OwnerUpdates, at); err != nil {
				return err
			}
			if _, err := s.repo.AppendHistoryEvent(ctx, tx, prospectID, decision.Event); err != nil {
				return err
			}
			updated, err = s.repo.GetProspect(ctx, tx, prospectID)
			return err
		})
	})
	if err != nil {
		return domain.Prospect{}, err
	}
	if obs, ok := s.metrics.(TransitionObserver); ok {
		obs.ObserveTransition(ctx, decision.Event.From, decision.Event.To)
	}
	s.refreshTimeline(ctx, prospectID, updated.History)
	return updated, nil
}

// GetProspect returns the stored prospect snapshot.
func (s *Service) GetProspect(ctx context.Context, id string) (domain.Prospect, error) {
	var p domain.Prospect
	err := s.run(ctx, opGetProspect, id, func(ctx context.Context) error {
		var err error
		p, err = s.repo.GetProspect(ctx, s.adapter, id)
		return err
	})
	return p, err
}

// ListProspects returns prospects matching filter, oldest first.
func (s *Service) ListProspects(ctx context.Context, filter ListFilter) ([]domain.Prospect, error) {
	var out []domain.Prospect
	err := s.run(ctx, opListProspects, "", func(ctx context.Context) error {
		if filter.Stage != "" && !filter.Stage.Valid() {
			return &domain.ValidationError{Field: "stage", Message: fmt.Sprintf("unknown stage %q", filter.Stage)}
		}
		var err error
		out, err = s.repo.ListProspects(ctx, s.adapter, filter)
		return err
	})
	return out, err
}

// GetTimeline returns the prospect's transition history, oldest first. When a
// cache is configured it is consulted first and filled on a miss.
func (s *Service) GetTimeline(ctx context.Context, prospectID string) ([]domain.TransitionEvent, error) {
	var events []domain.TransitionEvent
	err := s.run(ctx, opGetTimeline, prospectID, func(ctx context.Context) error {
		cached, ok, err := s.cache.Get(ctx, prospectID)
		if err != nil {
			s.logger.Warn("timeline cache read failed", "prospect_id", prospectID, "error", err)
		} else if ok {
			events = cached
			return nil
		}
		events, err = s.repo.GetHistory(ctx, s.adapter, prospectID)
		if err != nil {
			return err
		}
		if _, err := s.cache.Store(ctx, prospectID, events); err != nil {
			s.logger.Warn("timeline cache fill failed", "prospect_id", prospectID, "error", err)
		}
		return nil
	})
	return events, err
}

// AppendDocument attaches a document to a prospect. When content is non-nil it
// is written to the blob store first and removed again if the metadata write
// fails.
func (s *Service) AppendDocument(ctx context.Context, prospectID string, in DocumentInput, content io.Reader, actor domain.Agent) ([]domain.Document, error) {
	var docs []domain.Document
	err := s.run(ctx, opAppendDocument, prospectID, func(ctx context.Context) error {
		if strings.TrimSpace(in.Name) == "" {
			return &domain.ValidationError{Field: "name", Message: "required"}
		}
		if !actor.Active {
			return domain.Reject(domain.ReasonUnauthorized, "agent %s is inactive", actor.ID)
		}
		if _, err := s.repo.GetProspect(ctx, s.adapter, prospectID); err != nil {
			return err
		}
		doc := domain.Document{
			ID:          s.newID(),
			Name:        in.Name,
			ContentType: in.ContentType,
			Size:        in.Size,
			UploadedBy:  actor.ID,
			UploadedAt:  s.clock.Now().UTC(),
			Metadata:    in.Metadata,
		}
		if content != nil {
			key := blob.DocumentKey(prospectID, doc.ID, in.Name)
			info, err := s.blobs.Put(ctx, key, content, blob.PutOptions{ContentType: in.ContentType, Metadata: in.Metadata})
			if err != nil {
				return &domain.StorageError{Op: "put document content", Err: err}
			}
			doc.BlobKey = info.Key
			doc.Size = info.Size
		}
		err := s.adapter.WithTransaction(ctx, func(ctx context.Context, tx domain.Executor) error {
			var err error
			docs, err = s.repo.AppendDocument(ctx, tx, prospectID, doc)
			return err
		})
		if err != nil && doc.BlobKey != "" {
			if _, derr := s.blobs.Delete(context.WithoutCancel(ctx), doc.BlobKey); derr != nil {
				s.logger.Warn("orphaned document content", "key", doc.BlobKey, "error", derr)
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// GetDocument returns a document's metadata and, when stored, its content.
// The caller closes the reader.
func (s *Service) GetDocument(ctx context.Context, prospectID, documentID string) (domain.Document, io.ReadCloser, error) {
	var (
		doc  domain.Document
		body io.ReadCloser
	)
	err := s.run(ctx, opGetDocument, prospectID, func(ctx context.Context) error {
		var err error
		doc, err = s.findDocument(ctx, prospectID, documentID)
		if err != nil || doc.BlobKey == "" {
			return err
		}
		_, body, err = s.blobs.Get(ctx, doc.BlobKey)
		if errors.Is(err, blob.ErrNotFound) {
			return domain.ErrNotFound{Entity: domain.EntityDocument, ID: documentID}
		}
		if err != nil {
			return &domain.StorageError{Op: "get document content", Err: err}
		}
		return nil
	})
	if err != nil {
		return domain.Document{}, nil, err
	}
	if body == nil {
		body = io.NopCloser(bytes.NewReader(nil))
	}
	return doc, body, nil
}

// DocumentURL returns a time-limited download URL for a stored document.
// Backends without signing yield blob.ErrUnsupported.
func (s *Service) DocumentURL(ctx context.Context, prospectID, documentID string, expiry time.Duration) (string, error) {
	var url string
	err := s.run(ctx, opDocumentURL, prospectID, func(ctx context.Context) error {
		doc, err := s.findDocument(ctx, prospectID, documentID)
		if err != nil {
			return err
		}
		if doc.BlobKey == "" {
			return domain.ErrNotFound{Entity: domain.EntityDocument, ID: documentID}
		}
		url, err = s.blobs.PresignURL(ctx, doc.BlobKey, blob.SignedURLOptions{Method: "GET", Expiry: expiry})
		return err
	})
	return url, err
}

func (s *Service) findDocument(ctx context.Context, prospectID, documentID string) (domain.Document, error) {
	docs, err := s.repo.GetDocuments(ctx, s.adapter, prospectID)
	if err != nil {
		return domain.Document{}, err
	}
	for _, d := range docs {
		if d.ID == documentID {
			return d, nil
		}
	}
	return domain.Document{}, domain.ErrNotFound{Entity: domain.EntityDocument, ID: documentID}
}

// ResolveAgent loads the agent with id.
func (s *Service) ResolveAgent(ctx context.Context, id string) (domain.Agent, error) {
	var agent domain.Agent
	err := s.run(ctx, opResolveAgent, id, func(ctx context.Context) error {
		var err error
		agent, err = s.repo.GetAgent(ctx, s.adapter, id)
		return err
	})
	return agent, err
}

// RegisterAgent stores a new agent. A missing id is generated; an id that is
// already registered is refused with a validation error and the stored agent
// is left as it was.
func (s *Service) RegisterAgent(ctx context.Context, agent domain.Agent) (domain.Agent, error) {
	if agent.ID == "" {
		agent.ID = s.newID()
	}
	err := s.run(ctx, opRegisterAgent, agent.ID, func(ctx context.Context) error {
		if strings.TrimSpace(agent.Name) == "" {
			return &domain.ValidationError{Field: "name", Message: "required"}
		}
		if !agent.Role.Valid() {
			return &domain.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", agent.Role)}
		}
		if agent.CreatedAt.IsZero() {
			agent.CreatedAt = s.clock.Now().UTC()
		}
		return s.adapter.WithTransaction(ctx, func(ctx context.Context, tx domain.Executor) error {
			if err := s.repo.CreateAgent(ctx, tx, agent); err != nil {
				return err
			}
			var err error
			agent, err = s.repo.GetAgent(ctx, tx, agent.ID)
			return err
		})
	})
	if err != nil {
		return domain.Agent{}, err
	}
	return agent, nil
}

// ListAgents returns every registered agent ordered by id.
func (s *Service) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	var agents []domain.Agent
	err := s.run(ctx, opListAgents, "", func(ctx context.Context) error {
		var err error
		agents, err = s.repo.ListAgents(ctx, s.adapter)
		return err
	})
	return agents, err
}

// refreshTimeline writes the committed history to the cache. If the write
// fails the entry is dropped so readers fall back to the database.
func (s *Service) refreshTimeline(ctx context.Context, prospectID string, events []domain.TransitionEvent) {
	ctx = context.WithoutCancel(ctx)
	_, err := s.cache.Store(ctx, prospectID, events)
	if err == nil {
		return
	}
	s.logger.Warn("timeline cache refresh failed", "prospect_id", prospectID, "error", err)
	if err := s.cache.Invalidate(ctx, prospectID); err != nil {
		s.logger.Error("timeline cache invalidation failed", "prospect_id", prospectID, "error", err)
	}
}

// run wraps one service operation with tracing, metrics, logging and audit.
// Business rejections and conflicts are expected outcomes and log at warn;
// everything else logs at error.
func (s *Service) run(ctx context.Context, op, entityID string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)

	if err == nil {
		s.logger.Debug("operation completed", "operation", op, "entity_id", entityID, "duration", duration)
		s.recordAuditSuccess(ctx, op, entityID, duration)
		return nil
	}
	reason := classify(err)
	switch reason {
	case "storage", "internal":
		s.logger.Error("operation failed", "operation", op, "entity_id", entityID, "reason", reason, "error", err)
	default:
		s.logger.Warn("operation refused", "operation", op, "entity_id", entityID, "reason", reason, "error", err)
	}
	s.recordAudit(ctx, op, entityID, AuditStatusError, reason, duration)
	return err
}

// classify maps an error onto a short reason code for logs and audit.
func classify(err error) string {
	if rej, ok := domain.AsRejection(err); ok {
		return string(rej.Reason)
	}
	switch {
	case domain.IsNotFound(err):
		return "not_found"
	case domain.IsConflict(err):
		return "conflict"
	case domain.IsValidation(err):
		return "validation"
	case domain.IsStorage(err):
		return "storage"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, blob.ErrUnsupported):
		return "unsupported"
	default:
		return "internal"
	}
}
