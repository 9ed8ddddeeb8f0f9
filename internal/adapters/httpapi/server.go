// Package httpapi exposes the funnel service over HTTP. The acting agent is
// taken from the X-Agent-ID header and resolved against the agents table;
// authentication is left to the fronting proxy.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"funnelcore/docs/schema/openapi"
	"funnelcore/internal/core"
	"funnelcore/pkg/domain"
)

// AgentHeader carries the acting agent id.
const AgentHeader = "X-Agent-ID"

// MetaHeaderPrefix marks request headers copied into document metadata.
const MetaHeaderPrefix = "X-Document-Meta-"

const maxJSONBody = 1 << 20

// unknownAgentBucket is the limiter key shared by all unresolved agent ids.
const unknownAgentBucket = "\x00unknown"

// Service is the subset of core.Service the HTTP adapter drives.
type Service interface {
	CreateProspect(ctx context.Context, in core.ProspectInput, assigner domain.Agent) (domain.Prospect, error)
	ApplyTransition(ctx context.Context, prospectID string, requested domain.Stage, actor domain.Agent, note string) (domain.Prospect, error)
	GetProspect(ctx context.Context, id string) (domain.Prospect, error)
	ListProspects(ctx context.Context, filter core.ListFilter) ([]domain.Prospect, error)
	GetTimeline(ctx context.Context, prospectID string) ([]domain.TransitionEvent, error)
	AppendDocument(ctx context.Context, prospectID string, in core.DocumentInput, content io.Reader, actor domain.Agent) ([]domain.Document, error)
	GetDocument(ctx context.Context, prospectID, documentID string) (domain.Document, io.ReadCloser, error)
	DocumentURL(ctx context.Context, prospectID, documentID string, expiry time.Duration) (string, error)
	ResolveAgent(ctx context.Context, id string) (domain.Agent, error)
	RegisterAgent(ctx context.Context, agent domain.Agent) (domain.Agent, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)
}

var _ Service = (*core.Service)(nil)

type options struct {
	logger    core.Logger
	rps       float64
	burst     int
	now       func() time.Time
	metrics   http.Handler
	maxUpload int64
	urlExpiry time.Duration
}

// Option customises the handler.
type Option func(*options)

// WithLogger sets the logger used for failed requests.
func WithLogger(l core.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRateLimit limits each agent to rps requests per second with the given
// burst. Non-positive values disable limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		o.rps = rps
		o.burst = burst
	}
}

// WithMetricsHandler mounts h at /metrics outside the agent middleware.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *options) { o.metrics = h }
}

// WithMaxUpload caps document uploads in bytes.
func WithMaxUpload(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxUpload = n
		}
	}
}

func withNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

type server struct {
	svc     Service
	logger  core.Logger
	limiter *agentLimiter
	now     func() time.Time
	opts    options
}

type agentKey struct{}

// NewHandler builds the router.
func NewHandler(svc Service, opts ...Option) http.Handler {
	return newServer(svc, opts...).routes()
}

func newServer(svc Service, opts ...Option) *server {
	o := options{
		logger:    nopLogger{},
		now:       time.Now,
		maxUpload: 32 << 20,
		urlExpiry: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &server{
		svc:     svc,
		logger:  o.logger,
		limiter: newAgentLimiter(o.rps, o.burst, 0),
		now:     o.now,
		opts:    o,
	}
}

func (s *server) routes() http.Handler {
	o := s.opts
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openapi.Spec())
	})
	if o.metrics != nil {
		r.Handle("/metrics", o.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.resolveAgent)
		r.Route("/prospects", func(r chi.Router) {
			r.Post("/", s.createProspect)
			r.Get("/", s.listProspects)
			r.Route("/{prospectID}", func(r chi.Router) {
				r.Get("/", s.getProspect)
				r.Post("/transitions", s.applyTransition)
				r.Get("/timeline", s.getTimeline)
				r.Post("/documents", s.appendDocument)
				r.Get("/documents/{documentID}/content", s.getDocumentContent)
				r.Get("/documents/{documentID}/url", s.getDocumentURL)
			})
		})
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", s.listAgents)
			r.Post("/", s.registerAgent)
		})
	})
	return r
}

func (s *server) resolveAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(AgentHeader))
		if id == "" {
			writeMessage(w, http.StatusUnauthorized, "unauthenticated", "missing "+AgentHeader+" header")
			return
		}
		agent, err := s.svc.ResolveAgent(r.Context(), id)
		if domain.IsNotFound(err) {
			// Unknown ids share one bucket so they cannot grow the limiter.
			if !s.limiter.allow(unknownAgentBucket, s.now()) {
				writeRateLimited(w)
				return
			}
			writeMessage(w, http.StatusUnauthorized, "unauthenticated", "unknown agent "+id)
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !s.limiter.allow(agent.ID, s.now()) {
			writeRateLimited(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), agentKey{}, agent)))
	})
}

func writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	writeMessage(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}

func actorFrom(r *http.Request) domain.Agent {
	agent, _ := r.Context().Value(agentKey{}).(domain.Agent)
	return agent
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

type createProspectRequest struct {
	Name    string `json:"name"`
	Company string `json:"company"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Source  string `json:"source"`
	Notes   string `json:"notes"`
}

func (s *server) createProspect(w http.ResponseWriter, r *http.Request) {
	var req createProspectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	in := core.ProspectInput{
		Contact: domain.Contact{
			Name:    req.Name,
			Company: req.Company,
			Email:   req.Email,
			Phone:   req.Phone,
			Source:  req.Source,
		},
		Notes: req.Notes,
	}
	p, err := s.svc.CreateProspect(r.Context(), in, actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/prospects/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (s *server) listProspects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.ListFilter{
		Stage: domain.Stage(q.Get("stage")),
		Owner: q.Get("owner"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.fail(w, r, &domain.ValidationError{Field: "limit", Message: "must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}
	prospects, err := s.svc.ListProspects(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prospects)
}

func (s *server) getProspect(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.GetProspect(r.Context(), chi.URLParam(r, "prospectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type transitionRequest struct {
	To   domain.Stage `json:"to"`
	Note string       `json:"note"`
}

func (s *server) applyTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.svc.ApplyTransition(r.Context(), chi.URLParam(r, "prospectID"), req.To, actorFrom(r), req.Note)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) getTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.GetTimeline(r.Context(), chi.URLParam(r, "prospectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// appendDocument takes the raw request body as document content. The name
// comes from the name query parameter and metadata from X-Document-Meta-*
// headers.
func (s *server) appendDocument(w http.ResponseWriter, r *http.Request) {
	in := core.DocumentInput{
		Name:        r.URL.Query().Get("name"),
		ContentType: r.Header.Get("Content-Type"),
		Metadata:    documentMetadata(r.Header),
	}
	var content io.Reader
	if r.ContentLength != 0 {
		if r.ContentLength > s.opts.maxUpload {
			writeMessage(w, http.StatusRequestEntityTooLarge, "too_large", "document exceeds upload limit")
			return
		}
		content = http.MaxBytesReader(w, r.Body, s.opts.maxUpload)
	}
	docs, err := s.svc.AppendDocument(r.Context(), chi.URLParam(r, "prospectID"), in, content, actorFrom(r))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeMessage(w, http.StatusRequestEntityTooLarge, "too_large", "document exceeds upload limit")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, docs)
}

func documentMetadata(h http.Header) map[string]string {
	var meta map[string]string
	for key, values := range h {
		canonical := http.CanonicalHeaderKey(key)
		if !strings.HasPrefix(canonical, MetaHeaderPrefix) || len(values) == 0 {
			continue
		}
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[strings.ToLower(strings.TrimPrefix(canonical, MetaHeaderPrefix))] = values[0]
	}
	return meta
}

func (s *server) getDocumentContent(w http.ResponseWriter, r *http.Request) {
	doc, body, err := s.svc.GetDocument(r.Context(), chi.URLParam(r, "prospectID"), chi.URLParam(r, "documentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer func() { _ = body.Close() }()
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(doc.Name, `"`, "")+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("document stream interrupted", "document_id", doc.ID, "error", err)
	}
}

func (s *server) getDocumentURL(w http.ResponseWriter, r *http.Request) {
	expiry := s.opts.urlExpiry
	if raw := r.URL.Query().Get("expiry"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.fail(w, r, &domain.ValidationError{Field: "expiry", Message: "must be a positive duration"})
			return
		}
		expiry = d
	}
	url, err := s.svc.DocumentURL(r.Context(), chi.URLParam(r, "prospectID"), chi.URLParam(r, "documentID"), expiry)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.svc.ListAgents(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

type registerAgentRequest struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Role   domain.Role `json:"role"`
	Active *bool       `json:"active"`
}

// registerAgent is limited to active admins.
func (s *server) registerAgent(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !actor.Active || actor.Role != domain.RoleAdmin {
		s.fail(w, r, domain.Reject(domain.ReasonUnauthorized, "agent %s may not register agents", actor.ID))
		return
	}
	var req registerAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	agent, err := s.svc.RegisterAgent(r.Context(), domain.Agent{ID: req.ID, Name: req.Name, Role: req.Role, Active: active})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
