package funnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"advisor/schemas"
	"advisor/video"
)

const (
	TEXT_FINAL_SCREEN_TITLE    = "final_screen_title"
	TEXT_FINAL_SCREEN_SUBTITLE = "final_screen_subtitle"

	DEFAULT_FINAL_SCREEN_TITLE = "Perfect, {firstName}!"
	DEFAULT_PERSIST_TIMEOUT    = 15 * time.Second
)

var (
	ErrSubmitInFlight = errors.New("funnel: submission already in progress")
	ErrUnknownPath    = errors.New("funnel: unknown path")
	ErrSessionClosed  = errors.New("funnel: session closed")
)

// MissingFieldsError lists the intake fields that were required but blank.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "funnel: missing required fields: " + strings.Join(e.Fields, ", ")
}

// Persister writes a lead snapshot to the configured sheet.
type Persister interface {
	Persist(ctx context.Context, target schemas.SheetTarget, lead schemas.Lead) schemas.PersistResult
}

type IntakeForm struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	AdvisorName string `json:"advisor_name"`
}

type FeedbackForm struct {
	Feedback     string `json:"feedback"`
	FollowupDate string `json:"followup_date"`
}

type SessionOptions struct {
	Config    *schemas.FunnelConfig
	Engine    video.Engine
	Persister Persister
	// Router defaults to one built from Config.
	Router *Router
	Clock  Clock
	Logger *slog.Logger
	// PersistTimeout bounds each checkpoint write. Defaults to 15s.
	PersistTimeout time.Duration
}

// Session is one visitor's pass through the funnel. All methods are safe for
// concurrent use. Listeners registered with Subscribe must not call back into
// the session.
type Session struct {
	id             string
	cfg            *schemas.FunnelConfig
	router         *Router
	gate           *video.Gate
	persister      Persister
	clock          Clock
	logger         *slog.Logger
	persistTimeout time.Duration

	mu         sync.Mutex
	step       schemas.Step
	lead       schemas.Lead
	epoch      uint64
	timer      Timer
	submitting bool
	started    bool
	closed     bool
	createdAt  time.Time
	updatedAt  time.Time
	seq        uint64
	outbox     []schemas.StepEvent

	notifyMu  sync.Mutex
	listeners []func(schemas.StepEvent)

	queue *persistQueue
}

func NewSession(id string, opts SessionOptions) (*Session, error) {
	if opts.Config == nil {
		return nil, errors.New("funnel: nil config")
	}
	if opts.Engine == nil {
		return nil, errors.New("funnel: nil video engine")
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DEFAULT_PERSIST_TIMEOUT
	}
	if opts.Router == nil {
		router, err := NewRouter(opts.Config)
		if err != nil {
			return nil, err
		}
		opts.Router = router
	}

	logger := opts.Logger.With("component", "funnel", "session_id", id)
	now := opts.Clock.Now()
	s := &Session{
		id:             id,
		cfg:            opts.Config,
		router:         opts.Router,
		gate:           video.NewGate(opts.Engine, video.OptionsFromConfig(opts.Config.Player, logger)),
		persister:      opts.Persister,
		clock:          opts.Clock,
		logger:         logger,
		persistTimeout: opts.PersistTimeout,
		step:           schemas.StepIntake,
		createdAt:      now,
		updatedAt:      now,
		queue:          newPersistQueue(),
	}
	go s.queue.run(s.runPersist)
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// Subscribe registers fn for every step event emitted from now on.
func (s *Session) Subscribe(fn func(schemas.StepEvent)) {
	s.notifyMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.notifyMu.Unlock()
}

// Start announces the initial step. Calling it again is a no-op.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.emitLocked(schemas.EventStepShown, nil)
	s.mu.Unlock()
	s.flush()
}

func (s *Session) Step() schemas.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

func (s *Session) Lead() schemas.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lead
}

func (s *Session) Snapshot() schemas.FunnelSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schemas.FunnelSnapshot{
		ID:         s.id,
		Step:       s.step,
		Lead:       s.lead,
		Completion: s.completionLocked(),
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
}

// SubmitIntake records the visitor's identity, persists it and moves on to
// the intro video. The step advances whatever the persistence outcome.
func (s *Session) SubmitIntake(ctx context.Context, form IntakeForm) (schemas.PersistResult, error) {
	s.mu.Lock()
	if err := s.checkSubmitLocked(schemas.StepIntake); err != nil {
		s.mu.Unlock()
		return schemas.PersistResult{}, err
	}
	form = trimIntake(form)
	if missing := s.missingFields(form); len(missing) > 0 {
		s.mu.Unlock()
		return schemas.PersistResult{}, &MissingFieldsError{Fields: missing}
	}
	s.lead.FirstName = form.FirstName
	s.lead.LastName = form.LastName
	s.lead.Email = form.Email
	s.lead.Phone = form.Phone
	s.lead.AdvisorName = form.AdvisorName
	return s.submitAndAdvance(ctx)
}

// SubmitFeedback records the optional feedback fields, persists the final
// snapshot and completes the funnel.
func (s *Session) SubmitFeedback(ctx context.Context, form FeedbackForm) (schemas.PersistResult, error) {
	s.mu.Lock()
	if err := s.checkSubmitLocked(schemas.StepFeedback); err != nil {
		s.mu.Unlock()
		return schemas.PersistResult{}, err
	}
	s.lead.Feedback = strings.TrimSpace(form.Feedback)
	s.lead.FollowupDate = strings.TrimSpace(form.FollowupDate)
	return s.submitAndAdvance(ctx)
}

func (s *Session) checkSubmitLocked(want schemas.Step) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.submitting {
		return ErrSubmitInFlight
	}
	if s.step != want {
		return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, TriggerSubmit, s.step)
	}
	return nil
}

// submitAndAdvance is entered with s.mu held and releases it.
func (s *Session) submitAndAdvance(ctx context.Context) (schemas.PersistResult, error) {
	s.submitting = true
	job := s.enqueueLocked(ctx, true)
	s.mu.Unlock()

	var res schemas.PersistResult
	select {
	case res = <-job.done:
	case <-ctx.Done():
		res = schemas.PersistResult{Status: schemas.PersistError, Seq: job.seq, Err: ctx.Err()}
	}

	s.mu.Lock()
	s.submitting = false
	if s.closed {
		s.mu.Unlock()
		return res, ErrSessionClosed
	}
	err := s.transitionLocked(TriggerSubmit)
	s.mu.Unlock()
	s.flush()
	return res, err
}

// Choose records the visitor's path, queues a checkpoint without waiting for
// it and starts the path video.
func (s *Session) Choose(ctx context.Context, tag string) error {
	tag = strings.TrimSpace(tag)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.step != schemas.StepChoice {
		step := s.step
		s.mu.Unlock()
		return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, TriggerChoose, step)
	}
	if _, ok := s.cfg.Path(tag); !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownPath, tag)
	}
	s.lead.Path = tag
	s.enqueueLocked(ctx, false)
	err := s.transitionLocked(TriggerChoose)
	s.mu.Unlock()
	s.flush()
	return err
}

// Skip is the manual skip on the intro video and the manual continue on the
// path video.
func (s *Session) Skip() error {
	return s.trigger(TriggerSkip)
}

func (s *Session) Back() error {
	return s.trigger(TriggerBack)
}

func (s *Session) trigger(t Trigger) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	err := s.transitionLocked(t)
	s.mu.Unlock()
	s.flush()
	return err
}

// advance applies a trigger raised by a video or timer callback. Callbacks
// that belong to an earlier visit of the step are dropped.
func (s *Session) advance(epoch uint64, t Trigger) {
	s.mu.Lock()
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	if err := s.transitionLocked(t); err != nil {
		s.logger.Debug("ignored trigger", "trigger", t, "error", err)
	}
	s.mu.Unlock()
	s.flush()
}

func (s *Session) fallback(epoch uint64) {
	s.mu.Lock()
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if s.cfg.Timing.FallbackAction == schemas.FallbackReveal {
		s.emitLocked(schemas.EventSkipAvailable, nil)
		s.mu.Unlock()
		s.flush()
		return
	}
	s.logger.Info("video fallback elapsed", "step", s.step)
	if err := s.transitionLocked(TriggerTimeout); err != nil {
		s.logger.Debug("ignored fallback", "error", err)
	}
	s.mu.Unlock()
	s.flush()
}

func (s *Session) transitionLocked(t Trigger) error {
	next, err := Next(s.step, t, Options{Feedback: s.cfg.Feedback})
	if err != nil {
		return err
	}
	s.leaveLocked()
	s.step = next
	s.epoch++
	s.updatedAt = s.clock.Now()
	s.enterLocked()
	s.emitLocked(schemas.EventStepShown, nil)
	return nil
}

func (s *Session) leaveLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if slot, ok := slotFor(s.step); ok {
		s.gate.Stop(slot)
	}
}

func (s *Session) enterLocked() {
	slot, ok := slotFor(s.step)
	if !ok {
		return
	}

	var (
		ref    string
		window time.Duration
	)
	if slot == video.SlotIntro {
		ref, window = s.router.IntroVideo(), s.cfg.Timing.IntroFallback
	} else {
		var err error
		ref, err = s.router.PathVideo(s.lead)
		if err != nil {
			s.logger.Warn("path video unresolved", "path", s.lead.Path, "error", err)
		}
		window = s.cfg.Timing.PathFallback
	}

	epoch := s.epoch
	if ref != "" {
		s.gate.Load(slot, ref, func() { s.advance(epoch, TriggerVideoEnded) })
	}
	if window > 0 {
		s.timer = s.clock.AfterFunc(window, func() { s.fallback(epoch) })
	}
}

func slotFor(step schemas.Step) (video.Slot, bool) {
	switch step {
	case schemas.StepIntroVideo:
		return video.SlotIntro, true
	case schemas.StepPathVideo:
		return video.SlotPath, true
	}
	return "", false
}

// Completion is the final screen content, available once the funnel is done.
func (s *Session) Completion() *schemas.Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completionLocked()
}

func (s *Session) completionLocked() *schemas.Completion {
	if s.step != schemas.StepDone {
		return nil
	}
	title := s.cfg.Text(TEXT_FINAL_SCREEN_TITLE)
	if title == "" {
		title = DEFAULT_FINAL_SCREEN_TITLE
	}
	return &schemas.Completion{
		Title:      strings.ReplaceAll(title, "{firstName}", s.lead.FirstName),
		Subtitle:   s.cfg.Text(TEXT_FINAL_SCREEN_SUBTITLE),
		BookingURL: bookingURL(s.cfg, s.lead.AdvisorName),
	}
}

func bookingURL(cfg *schemas.FunnelConfig, advisor string) string {
	advisor = strings.TrimSpace(advisor)
	if advisor != "" {
		for _, a := range cfg.Advisors {
			if strings.EqualFold(strings.TrimSpace(a.Name), advisor) && a.BookingURL != "" {
				return a.BookingURL
			}
		}
	}
	return cfg.BookingURL
}

// Close stops the active video and timer and waits for queued checkpoints
// to be written.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	slot, playing := slotFor(s.step)
	s.mu.Unlock()

	if playing {
		s.gate.Stop(slot)
	}
	s.gate.Close()
	s.queue.close()
}

func (s *Session) emitLocked(action string, persist *schemas.PersistResult) {
	s.outbox = append(s.outbox, schemas.StepEvent{
		SessionID: s.id,
		Action:    action,
		Step:      s.step,
		Lead:      s.lead,
		Persist:   persist,
		CreatedAt: s.clock.Now(),
	})
}

// flush delivers queued events in the order they were emitted.
func (s *Session) flush() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	events := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	for _, ev := range events {
		for _, fn := range s.listeners {
			fn(ev)
		}
	}
}

func (s *Session) missingFields(form IntakeForm) []string {
	values := map[string]string{
		"first_name":   form.FirstName,
		"last_name":    form.LastName,
		"email":        form.Email,
		"phone":        form.Phone,
		"advisor_name": form.AdvisorName,
	}
	missing := []string{}
	if form.FirstName == "" {
		missing = append(missing, "first_name")
	}
	for _, field := range s.cfg.RequiredFields {
		if field == "first_name" {
			continue
		}
		if v, known := values[field]; known && v == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

func trimIntake(f IntakeForm) IntakeForm {
	return IntakeForm{
		FirstName:   strings.TrimSpace(f.FirstName),
		LastName:    strings.TrimSpace(f.LastName),
		Email:       strings.TrimSpace(f.Email),
		Phone:       strings.TrimSpace(f.Phone),
		AdvisorName: strings.TrimSpace(f.AdvisorName),
	}
}
