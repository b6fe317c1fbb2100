package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwhitford/cabinet/internal/extract"
	"github.com/mwhitford/cabinet/internal/fields"
	"github.com/mwhitford/cabinet/internal/review"
	"github.com/mwhitford/cabinet/internal/store"
)

// RecordSaver is the persistence collaborator boundary.
type RecordSaver interface {
	SaveRecord(ctx context.Context, rec *store.Record) (*store.Record, error)
}

// Policy holds the local intake policy values, all supplied by config.
type Policy struct {
	MaxUploadBytes int64
	Thresholds     fields.Thresholds
	// StageDelay keeps Classifying and Extracting observable as distinct
	// stages even when they share the scan round trip.
	StageDelay time.Duration
}

// Config wires an Orchestrator.
type Config struct {
	Client extract.Client
	Saver  RecordSaver
	Logger *slog.Logger
	Policy Policy

	// Now anchors expiry extraction; defaults to time.Now.
	Now func() time.Time
}

// Orchestrator owns every IntakeSession and is the only component that
// mutates one. Stage transitions happen through the pure reducer; the
// orchestrator supplies the effects around them.
type Orchestrator struct {
	client extract.Client
	saver  RecordSaver
	logger *slog.Logger
	policy Policy
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*state
	activeID string
}

// state is the orchestrator-private side of a session: the raw file, the
// cancellation handle for in-flight calls, and the review controller.
type state struct {
	session Session
	file    extract.File

	// ctx/cancel cover this session's network work. Each session owns its
	// handle, so two sessions can never cross-cancel each other.
	ctx    context.Context
	cancel context.CancelFunc

	review *review.Controller

	// skip records a skip request made while Scanning, so a result (or
	// timeout) racing with the request still resolves to the skip path.
	skip bool

	// superseded marks a session replaced by a newer one; late results
	// from its in-flight calls are discarded, never applied.
	superseded bool

	// done closes when the scan pipeline goroutine exits.
	done chan struct{}
}

// ErrUnknownSession is returned for operations on a session that does not
// exist (or was reset).
var ErrUnknownSession = errors.New("unknown intake session")

// SetPolicy replaces the intake policy. Sessions already past validation
// keep running; new sessions and review bucketing see the new values.
func (o *Orchestrator) SetPolicy(p Policy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p.MaxUploadBytes == 0 {
		p.MaxUploadBytes = 10 << 20
	}
	if p.Thresholds == (fields.Thresholds{}) {
		p.Thresholds = fields.DefaultThresholds
	}
	o.policy = p
}

// policyNow reads the current policy under the lock.
func (o *Orchestrator) policyNow() Policy {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.policy
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.Policy.MaxUploadBytes == 0 {
		cfg.Policy.MaxUploadBytes = 10 << 20
	}
	if cfg.Policy.Thresholds == (fields.Thresholds{}) {
		cfg.Policy.Thresholds = fields.DefaultThresholds
	}

	return &Orchestrator{
		client:   cfg.Client,
		saver:    cfg.Saver,
		logger:   logger,
		policy:   cfg.Policy,
		now:      now,
		sessions: make(map[string]*state),
	}
}

// Start validates the file and begins a new intake session. Validation
// failures return a ValidationError and no session is created: the pipeline
// refuses to start rather than entering an Error stage. Starting a new
// session cancels the previous one's in-flight work first. The session
// outlives the caller; it runs on its own context, cancelled only by Skip,
// Reset, or supersession.
func (o *Orchestrator) Start(file extract.File) (Session, error) {
	if err := validateFile(file, o.policyNow().MaxUploadBytes); err != nil {
		return Session{}, err
	}
	contentType := normalizeContentType(file)

	o.mu.Lock()
	if prev, ok := o.sessions[o.activeID]; ok && !prev.session.Stage.Terminal() {
		prev.superseded = true
		prev.cancel()
		o.logger.Info("superseded previous intake session", "id", prev.session.ID)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	st := &state{
		session: Session{
			ID:          uuid.New().String(),
			FileName:    file.Name,
			FileSize:    file.Size(),
			ContentType: contentType,
			Stage:       StageIdle,
			UpdatedAt:   o.now(),
		},
		file:   file,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	o.sessions[st.session.ID] = st
	o.activeID = st.session.ID
	snapshot := st.session
	o.mu.Unlock()

	o.logger.Info("intake session started",
		"id", snapshot.ID, "file", file.Name, "size", file.Size(), "type", contentType)

	go o.run(st)
	return snapshot, nil
}

// Session returns a snapshot of a session.
func (o *Orchestrator) Session(id string) (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sessions[id]
	if !ok {
		return Session{}, false
	}
	return st.session, true
}

// Skip aborts the in-flight scan and falls back to storing the raw file
// with minimal metadata. Only reachable while Scanning on the staged path;
// partial extraction from the aborted call is discarded.
func (o *Orchestrator) Skip(id string) error {
	o.mu.Lock()
	st, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return ErrUnknownSession
	}
	if isImage(st.session.ContentType) {
		o.mu.Unlock()
		return fmt.Errorf("skip is only available for document scans")
	}
	if st.session.Stage != StageScanning {
		o.mu.Unlock()
		return fmt.Errorf("skip is only available while scanning (stage %s)", st.session.Stage)
	}
	st.skip = true
	cancel := st.cancel
	o.mu.Unlock()

	o.logger.Info("skip requested, aborting scan", "id", id)
	cancel()
	return nil
}

// SetField records a human correction during Review.
func (o *Orchestrator) SetField(id, name string, value any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	if st.session.Stage != StageReview {
		return fmt.Errorf("fields can only be edited during review (stage %s)", st.session.Stage)
	}
	st.review.SetField(name, value)
	return nil
}

// ConfirmPreview freezes review into the PreviewConfirm stage and returns
// the merged payload the save will persist.
func (o *Orchestrator) ConfirmPreview(id string) (map[string]any, error) {
	o.mu.Lock()
	st, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return nil, ErrUnknownSession
	}
	if st.session.Stage != StageReview {
		o.mu.Unlock()
		return nil, fmt.Errorf("nothing to confirm (stage %s)", st.session.Stage)
	}
	st.session = Apply(st.session, Event{Kind: EventAdvance, Stage: StagePreviewConfirm, Progress: 92, At: o.now()})
	ctrl := st.review
	o.mu.Unlock()

	return ctrl.Merge(), nil
}

// Save merges edits over the extracted values, uploads the raw file, and
// persists the final record. Valid from Review or PreviewConfirm.
func (o *Orchestrator) Save(id string) (Session, error) {
	o.mu.Lock()
	st, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return Session{}, ErrUnknownSession
	}
	if st.session.Stage != StageReview && st.session.Stage != StagePreviewConfirm {
		stage := st.session.Stage
		o.mu.Unlock()
		return Session{}, fmt.Errorf("session is not ready to save (stage %s)", stage)
	}
	st.session = Apply(st.session, Event{Kind: EventAdvance, Stage: StageSaving, Progress: 95, At: o.now()})
	docType := st.session.DocumentType
	domain := st.session.SuggestedDomain
	o.mu.Unlock()

	merged := st.review.Merge()
	sess := o.persist(st.ctx, st, merged, docType, domain)
	return sess, nil
}

// Reset cancels any in-flight work and destroys the session. Error states
// recover this way: the user starts over from Idle with no partial state
// carried forward.
func (o *Orchestrator) Reset(id string) {
	o.mu.Lock()
	st, ok := o.sessions[id]
	if ok {
		st.superseded = true
		st.cancel()
		delete(o.sessions, id)
		if o.activeID == id {
			o.activeID = ""
		}
	}
	o.mu.Unlock()

	if ok {
		o.logger.Info("intake session reset", "id", id)
	}
}

// apply runs an event through the reducer under the lock, dropping events
// aimed at superseded sessions so stale async results are never applied.
func (o *Orchestrator) apply(st *state, e Event) Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st.superseded {
		return st.session
	}
	e.At = o.now()
	st.session = Apply(st.session, e)
	return st.session
}

// snapshot returns the session value under the lock.
func (o *Orchestrator) snapshot(st *state) Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return st.session
}
