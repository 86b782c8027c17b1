package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/docketsync/docketsync/internal/docket"
	"github.com/docketsync/docketsync/internal/jobqueue"
)

type Logger interface {
	Printf(format string, args ...any)
}

const defaultMaxBodyBytes = 1 << 20

// envelopeSchema constrains the delivery shape before any field is trusted.
const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["webhook_id", "event", "timestamp", "payload"],
  "properties": {
    "webhook_id": {"type": "string", "minLength": 1, "maxLength": 128},
    "event": {
      "type": "string",
      "enum": ["judge.updated", "court.updated", "decision.created", "decision.updated"]
    },
    "timestamp": {"type": "string", "minLength": 1},
    "payload": {
      "type": "object",
      "properties": {
        "id": {"type": "string", "minLength": 1, "maxLength": 128}
      }
    }
  }
}`

type envelope struct {
	WebhookID string            `json:"webhook_id"`
	Event     string            `json:"event"`
	Timestamp string            `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

type eventRoute struct {
	jobType  string
	priority int
}

// Event-driven refreshes outrank scheduled full sweeps, which enqueue at
// priority zero.
var eventRoutes = map[string]eventRoute{
	"judge.updated":    {docket.JobTypeJudge, 10},
	"court.updated":    {docket.JobTypeCourt, 10},
	"decision.created": {docket.JobTypeDecision, 10},
	"decision.updated": {docket.JobTypeDecision, 10},
}

// Receiver is the inbound HTTP surface: the webhook endpoint plus the
// token-guarded queue control endpoints.
type Receiver struct {
	store        docket.Store
	queue        *jobqueue.Queue
	scheme       SignatureScheme
	schema       *jsonschema.Schema
	adminSecret  []byte
	maxBodyBytes int64
	logger       Logger
	now          func() time.Time
}

type ReceiverOptions struct {
	Store  docket.Store
	Queue  *jobqueue.Queue
	Scheme SignatureScheme
	// AdminSecret signs the HS256 bearer tokens accepted on the control
	// endpoints. Empty disables them.
	AdminSecret  string
	MaxBodyBytes int64
	Logger       Logger
	Now          func() time.Time
}

func NewReceiver(opts ReceiverOptions) (*Receiver, error) {
	if opts.Store == nil {
		return nil, errors.New("webhook: store is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("webhook: queue is required")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	schema, err := compileEnvelopeSchema()
	if err != nil {
		return nil, err
	}
	return &Receiver{
		store:        opts.Store,
		queue:        opts.Queue,
		scheme:       opts.Scheme,
		schema:       schema,
		adminSecret:  []byte(opts.AdminSecret),
		maxBodyBytes: opts.MaxBodyBytes,
		logger:       opts.Logger,
		now:          opts.Now,
	}, nil
}

func compileEnvelopeSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("webhook: parse envelope schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("envelope.json", doc); err != nil {
		return nil, fmt.Errorf("webhook: register envelope schema: %w", err)
	}
	schema, err := compiler.Compile("envelope.json")
	if err != nil {
		return nil, fmt.Errorf("webhook: compile envelope schema: %w", err)
	}
	return schema, nil
}

// Handler returns the mux with all routes registered.
func (r *Receiver) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", r.handleHealth)
	mux.HandleFunc("POST /v1/webhooks/docket", r.handleWebhook)
	mux.HandleFunc("POST /v1/admin/jobs", r.requireScope("jobs:write", r.handleEnqueue))
	mux.HandleFunc("POST /v1/admin/jobs/cancel", r.requireScope("jobs:write", r.handleCancel))
	mux.HandleFunc("GET /v1/admin/jobs/stats", r.requireScope("jobs:read", r.handleStats))
	mux.HandleFunc("GET /v1/admin/jobs/{id}", r.requireScope("jobs:read", r.handleJob))
	return mux
}

func (r *Receiver) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Receiver) handleWebhook(w http.ResponseWriter, req *http.Request) {
	body, err := readRequestBody(w, req, r.maxBodyBytes)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	signature := req.Header.Get(r.scheme.SignatureHeader)
	timestamp := req.Header.Get(r.scheme.TimestampHeader)
	if err := r.scheme.Verify(body, signature, timestamp, r.now()); err != nil {
		r.logf("webhook rejected: %v", err)
		writeError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := r.schema.Validate(doc); err != nil {
		writeError(w, http.StatusBadRequest, "body does not match webhook envelope")
		return
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	route, ok := eventRoutes[env.Event]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown event")
		return
	}

	created, err := r.store.RecordWebhook(req.Context(), docket.ProcessedWebhook{
		WebhookID:   env.WebhookID,
		Event:       env.Event,
		ProcessedAt: r.now().UTC(),
		Outcome:     "enqueued",
	})
	if err != nil {
		r.logf("webhook %s: record failed: %v", env.WebhookID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !created {
		// Replayed delivery; acknowledge without enqueueing again.
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "webhook_id": env.WebhookID})
		return
	}

	options := map[string]string{}
	if id := env.Payload["id"]; id != "" {
		options["remote_id"] = id
	}
	job, err := r.queue.Enqueue(req.Context(), route.jobType, options, route.priority)
	if err != nil {
		r.logf("webhook %s: enqueue failed: %v", env.WebhookID, err)
		// Release the dedup record so the sender's retry is not swallowed
		// as a duplicate of a delivery that never produced a job.
		if delErr := r.store.DeleteWebhook(context.WithoutCancel(req.Context()), env.WebhookID); delErr != nil {
			r.logf("webhook %s: dedup rollback failed: %v", env.WebhookID, delErr)
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	r.logf("webhook %s event=%s enqueued job=%s", env.WebhookID, env.Event, job.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "enqueued", "job_id": job.ID})
}

type enqueueRequest struct {
	Type     string            `json:"type"`
	Options  map[string]string `json:"options"`
	Priority int               `json:"priority"`
}

func (r *Receiver) handleEnqueue(w http.ResponseWriter, req *http.Request) {
	var body enqueueRequest
	if !r.decodeJSONBody(w, req, &body) {
		return
	}
	job, err := r.queue.Enqueue(req.Context(), body.Type, body.Options, body.Priority)
	if err != nil {
		if errors.Is(err, docket.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		r.logf("enqueue failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, jobPayload(job))
}

type cancelRequest struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func (r *Receiver) handleCancel(w http.ResponseWriter, req *http.Request) {
	var body cancelRequest
	if !r.decodeJSONBody(w, req, &body) {
		return
	}
	switch {
	case body.ID != "":
		if err := r.queue.CancelByID(req.Context(), body.ID); err != nil {
			if errors.Is(err, docket.ErrNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			r.logf("cancel job %s failed: %v", body.ID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "id": body.ID})
	case body.Type != "":
		n, err := r.queue.CancelByType(req.Context(), body.Type)
		if err != nil {
			if errors.Is(err, docket.ErrInvalidInput) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			r.logf("cancel type %s failed: %v", body.Type, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "type": body.Type, "count": n})
	default:
		writeError(w, http.StatusBadRequest, "id or type is required")
	}
}

func (r *Receiver) handleStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.queue.Stats(req.Context())
	if err != nil {
		r.logf("stats failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Receiver) handleJob(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	job, err := r.queue.Job(req.Context(), id)
	if err != nil {
		if errors.Is(err, docket.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		r.logf("get job %s failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, jobPayload(job))
}

func jobPayload(job docket.SyncJob) map[string]any {
	out := map[string]any{
		"id":          job.ID,
		"type":        job.Type,
		"priority":    job.Priority,
		"state":       job.State,
		"enqueued_at": job.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(job.Options) > 0 {
		out["options"] = job.Options
	}
	if job.StartedAt != nil {
		out["started_at"] = job.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if job.FinishedAt != nil {
		out["finished_at"] = job.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	if job.Error != "" {
		out["error"] = job.Error
	}
	return out
}

// requireScope wraps a control handler with HS256 bearer auth. The token
// must carry the scope in its space-separated "scope" claim.
func (r *Receiver) requireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if len(r.adminSecret) == 0 {
			writeError(w, http.StatusForbidden, "control endpoints disabled")
			return
		}
		header := req.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			return r.adminSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !hasScope(claims, scope) {
			writeError(w, http.StatusForbidden, "insufficient scope")
			return
		}
		next(w, req)
	}
}

func hasScope(claims jwt.MapClaims, want string) bool {
	raw, _ := claims["scope"].(string)
	for _, s := range strings.Fields(raw) {
		if s == want {
			return true
		}
	}
	return false
}

// MintAdminToken issues a short-lived control token; used by the enqueue
// CLI and tests.
func MintAdminToken(secret string, scopes []string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"scope": strings.Join(scopes, " "),
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (r *Receiver) decodeJSONBody(w http.ResponseWriter, req *http.Request, out any) bool {
	body, err := readRequestBody(w, req, r.maxBodyBytes)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

func readRequestBody(w http.ResponseWriter, req *http.Request, limit int64) ([]byte, error) {
	req.Body = http.MaxBytesReader(w, req.Body, limit)
	defer req.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(req.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (r *Receiver) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
