package funnel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"advisor/database"
	"advisor/schemas"
	"advisor/sink"
	"advisor/video"
)

func testConfig() *schemas.FunnelConfig {
	cfg := &schemas.FunnelConfig{
		CompanyName: "DB Financials",
		BookingURL:  "https://cal.example.com/default",
		Advisors:    []schemas.Advisor{{Name: "Rui Costa", BookingURL: "https://cal.example.com/rui"}},
		Sheet:       schemas.SheetConfig{ID: "sheet-1"},
		Videos: map[string]string{
			"intro":   "https://www.youtube.com/watch?v=LXb3EKWsInQ",
			"recruit": "https://youtu.be/jNQXAC9IVRw",
			"sales":   "aqz-KE-bpKQ",
		},
		Paths: []schemas.PathOption{
			{Tag: "recruit", Label: "I want to recruit agents"},
			{Tag: "sales", Label: "I want to sell more policies"},
		},
		Feedback: true,
		Texts: map[string]string{
			TEXT_FINAL_SCREEN_TITLE:    "Perfect, {firstName}!",
			TEXT_FINAL_SCREEN_SUBTITLE: "Let's chat.",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

type harness struct {
	session   *Session
	engine    *fakeEngine
	clock     *fakeClock
	store     *database.MemoryStore
	persister *scriptedPersister
	events    *eventLog
}

func newHarness(t *testing.T, cfg *schemas.FunnelConfig) *harness {
	t.Helper()
	h := &harness{
		engine: newFakeEngine(),
		clock:  newFakeClock(),
		store:  database.NewMemoryStore(),
		events: &eventLog{},
	}
	h.persister = &scriptedPersister{inner: sink.New(h.store)}

	s, err := NewSession("sess-1", SessionOptions{
		Config:    cfg,
		Engine:    h.engine,
		Persister: h.persister,
		Clock:     h.clock,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	s.Subscribe(h.events.add)
	s.Start()
	h.session = s
	return h
}

var ana = IntakeForm{FirstName: "Ana", Phone: "555-1234", AdvisorName: "rui costa"}

func TestSession_FullFunnel(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	target := testConfig().Target()

	res, err := h.session.SubmitIntake(ctx, ana)
	require.NoError(t, err)
	assert.Equal(t, schemas.PersistCreated, res.Status)
	assert.Equal(t, "(ana,555-1234)", res.Key)
	assert.Equal(t, schemas.StepIntroVideo, h.session.Step())
	assert.Equal(t, "LXb3EKWsInQ", h.engine.player(video.SlotIntro).last())

	h.engine.emit(video.SlotIntro, video.EventEnded)
	assert.Equal(t, schemas.StepChoice, h.session.Step())
	assert.Equal(t, 1, h.engine.player(video.SlotIntro).stopCount())

	require.NoError(t, h.session.Choose(ctx, "recruit"))
	assert.Equal(t, schemas.StepPathVideo, h.session.Step())
	assert.Equal(t, "jNQXAC9IVRw", h.engine.player(video.SlotPath).last())
	assert.Equal(t, "recruit", h.session.Lead().Path)

	require.NoError(t, h.session.Skip())
	assert.Equal(t, schemas.StepFeedback, h.session.Step())

	res, err = h.session.SubmitFeedback(ctx, FeedbackForm{Feedback: "great", FollowupDate: "2024-04-01"})
	require.NoError(t, err)
	assert.Equal(t, schemas.PersistUpdated, res.Status)
	assert.Equal(t, schemas.StepDone, h.session.Step())

	assert.Equal(t, 1, h.store.Len(target), "one row per visitor")
	row, found, err := h.store.Row(ctx, target, "1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "recruit", row.Lead.Path)
	assert.Equal(t, "great", row.Lead.Feedback)
	assert.Equal(t, "Ana", row.Lead.FirstName)

	c := h.session.Completion()
	require.NotNil(t, c)
	assert.Equal(t, "Perfect, Ana!", c.Title)
	assert.Equal(t, "Let's chat.", c.Subtitle)
	assert.Equal(t, "https://cal.example.com/rui", c.BookingURL)

	assert.Equal(t, []schemas.Step{
		schemas.StepIntake,
		schemas.StepIntroVideo,
		schemas.StepChoice,
		schemas.StepPathVideo,
		schemas.StepFeedback,
		schemas.StepDone,
	}, h.events.steps())
}

func TestSession_CheckpointsAreWrittenInOrder(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.session.SubmitIntake(ctx, ana)
	require.NoError(t, err)
	require.NoError(t, h.session.Skip())
	require.NoError(t, h.session.Choose(ctx, "sales"))
	require.NoError(t, h.session.Skip())
	_, err = h.session.SubmitFeedback(ctx, FeedbackForm{Feedback: "done"})
	require.NoError(t, err)

	h.persister.mu.Lock()
	calls := append([]schemas.Lead(nil), h.persister.calls...)
	h.persister.mu.Unlock()

	require.Len(t, calls, 3)
	assert.Empty(t, calls[0].Path)
	assert.Equal(t, "sales", calls[1].Path)
	assert.Empty(t, calls[1].Feedback)
	assert.Equal(t, "done", calls[2].Feedback)
	assert.Equal(t, "sales", calls[2].Path, "later steps never clear earlier fields")
}

func TestSession_IntroFallbackAdvancesExactlyOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.session.SubmitIntake(context.Background(), ana)
	require.NoError(t, err)

	h.clock.Advance(4 * time.Second)
	assert.Equal(t, schemas.StepIntroVideo, h.session.Step())

	h.clock.Advance(time.Second)
	assert.Equal(t, schemas.StepChoice, h.session.Step())

	// A late ended event from the intro player is ignored.
	h.engine.emit(video.SlotIntro, video.EventEnded)
	assert.Equal(t, schemas.StepChoice, h.session.Step())
	assert.Equal(t, []schemas.Step{schemas.StepIntake, schemas.StepIntroVideo, schemas.StepChoice}, h.events.steps())
}

func TestSession_EndedBeforeFallbackCancelsTimer(t *testing.T) {
	cfg := testConfig()
	cfg.Feedback = false
	h := newHarness(t, cfg)
	ctx := context.Background()

	_, err := h.session.SubmitIntake(ctx, ana)
	require.NoError(t, err)
	require.NoError(t, h.session.Skip())
	require.NoError(t, h.session.Choose(ctx, "sales"))

	h.engine.emit(video.SlotPath, video.EventEnded)
	assert.Equal(t, schemas.StepDone, h.session.Step())
	assert.Equal(t, 0, h.clock.pending())

	h.clock.Advance(10 * time.Second)
	h.engine.emit(video.SlotPath, video.EventEnded)
	assert.Equal(t, schemas.StepDone, h.session.Step())
	assert.Len(t, h.events.steps(), 5)
}

func TestSession_LateEndFromPreviousIntroIsIgnored(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.session.SubmitIntake(ctx, ana)
	require.NoError(t, err)
	h.engine.emit(video.SlotIntro, video.EventStarted)
	require.NoError(t, h.session.Back())

	_, err = h.session.SubmitIntake(ctx, ana)
	require.NoError(t, err)
	require.Equal(t, schemas.StepIntroVideo, h.session.Step())

	h.engine.emit(video.SlotIntro, video.EventEnded)
	assert.Equal(t, schemas.StepIntroVideo, h.session.Step())

	h.engine.emit(video.SlotIntro, video.EventStarted)
	h.engine.emit(video.SlotIntro, video.EventEnded)
	assert.Equal(t, schemas.StepChoice, h.session.Step())
}

func TestSession_PathFallbackWindow(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.session.SubmitIntake(ctx, ana)
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)
	require.NoError(t, h.session.Choose(ctx, "recruit"))

	h.clock.Advance(9 * time.Second)
	assert.Equal(t, schemas.StepPathVideo, h.session.Step())
	h.clock.Advance(time.Second)
	assert.Equal(t, schemas.StepFeedback, h.session.Step())
}

func TestSession_RevealFallback(t *testing.T) {
	cfg := testConfig()
	cfg.Timing.FallbackAction = schemas.FallbackReveal
	h := newHarness(t, cfg)

	_, err := h.session.SubmitIntake(context.Background(), ana)
	require.NoError(t, err)

	h.clock.Advance(5 * time.Second)
	assert.Equal(t, schemas.StepIntroVideo, h.session.Step())
	assert.Equal(t, 1, h.events.count(schemas.EventSkipAvailable))

	require.NoError(t, h.session.Skip())
	assert.Equal(t, schemas.StepChoice, h.session.Step())
}

func TestSession_BackStopsVideoAndTimer(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.session.SubmitIntake(ctx, ana)
	require.NoError(t, err)
	require.NoError(t, h.session.Back())
	assert.Equal(t, schemas.StepIntake, h.session.Step())
	assert.Equal(t, 1, h.engine.player(video.SlotIntro).stopCount())

	h.clock.Advance(time.Minute)
	h.engine.emit(video.SlotIntro, video.EventEnded)
	assert.Equal(t, schemas.StepIntake, h.session.Step())

	// Resubmitting keeps the same row.
	_, err = h.session.SubmitIntake(ctx, IntakeForm{FirstName: "Ana", Phone: "555-1234", Email: "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.store.Len(testConfig().Target()))

	h.clock.Advance(5 * time.Second)
	require.NoError(t, h.session.Choose(ctx, "sales"))
	require.NoError(t, h.session.Back())
	assert.Equal(t, schemas.StepChoice, h.session.Step())
	assert.ErrorIs(t, h.session.Back(), ErrInvalidTransition)
}

func TestSession_DoubleSubmitPersistsOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	h.persister.hold = make(chan struct{})
	h.persister.entered = make(chan struct{}, 4)

	var (
		wg    sync.WaitGroup
		first error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, first = h.session.SubmitIntake(context.Background(), ana)
	}()
	<-h.persister.entered

	_, err := h.session.SubmitIntake(context.Background(), ana)
	assert.ErrorIs(t, err, ErrSubmitInFlight)

	close(h.persister.hold)
	wg.Wait()
	require.NoError(t, first)
	assert.Equal(t, 1, h.persister.callCount())
	assert.Equal(t, schemas.StepIntroVideo, h.session.Step())

	// The guard is released after the call.
	require.NoError(t, h.session.Back())
	_, err = h.session.SubmitIntake(context.Background(), ana)
	require.NoError(t, err)
	assert.Equal(t, 2, h.persister.callCount())
}

func TestSession_PersistFailureDoesNotBlock(t *testing.T) {
	h := newHarness(t, testConfig())
	h.persister.fail = errors.New("sheets: 403 forbidden")

	res, err := h.session.SubmitIntake(context.Background(), ana)
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, schemas.StepIntroVideo, h.session.Step())

	require.Eventually(t, func() bool {
		return h.events.count(schemas.EventPersisted) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSession_RequiredFields(t *testing.T) {
	cfg := testConfig()
	cfg.RequiredFields = []string{"last_name", "email"}
	h := newHarness(t, cfg)

	_, err := h.session.SubmitIntake(context.Background(), IntakeForm{FirstName: "  ", LastName: "Silva"})
	var missing *MissingFieldsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"first_name", "email"}, missing.Fields)
	assert.Equal(t, schemas.StepIntake, h.session.Step())
	assert.Equal(t, 0, h.persister.callCount())
}

func TestSession_ChooseValidation(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	assert.ErrorIs(t, h.session.Choose(ctx, "recruit"), ErrInvalidTransition)

	_, err := h.session.SubmitIntake(ctx, ana)
	require.NoError(t, err)
	require.NoError(t, h.session.Skip())

	assert.ErrorIs(t, h.session.Choose(ctx, "astronaut"), ErrUnknownPath)
	assert.Equal(t, schemas.StepChoice, h.session.Step())
	assert.Empty(t, h.session.Lead().Path)
}

func TestSession_EngineNotReadyFallbackRescues(t *testing.T) {
	h := newHarness(t, testConfig())
	h.engine.mu.Lock()
	h.engine.ready = false
	h.engine.mu.Unlock()

	_, err := h.session.SubmitIntake(context.Background(), ana)
	require.NoError(t, err)
	assert.Nil(t, h.engine.player(video.SlotIntro))

	h.clock.Advance(5 * time.Second)
	assert.Equal(t, schemas.StepChoice, h.session.Step())
}

func TestSession_CompletionDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.Feedback = false
	cfg.Texts = nil
	h := newHarness(t, cfg)
	ctx := context.Background()

	assert.Nil(t, h.session.Completion())

	_, err := h.session.SubmitIntake(ctx, IntakeForm{FirstName: "Bia", Email: "bia@example.com", AdvisorName: "Unknown"})
	require.NoError(t, err)
	require.NoError(t, h.session.Skip())
	require.NoError(t, h.session.Choose(ctx, "sales"))
	require.NoError(t, h.session.Skip())

	snap := h.session.Snapshot()
	require.NotNil(t, snap.Completion)
	assert.Equal(t, "Perfect, Bia!", snap.Completion.Title)
	assert.Equal(t, "https://cal.example.com/default", snap.Completion.BookingURL)
	assert.Equal(t, "sess-1", snap.ID)
}

func TestSession_Close(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.session.SubmitIntake(ctx, ana)
	require.NoError(t, err)
	h.session.Close()

	assert.Equal(t, 1, h.engine.player(video.SlotIntro).stopCount())
	assert.ErrorIs(t, h.session.Skip(), ErrSessionClosed)
	_, err = h.session.SubmitFeedback(ctx, FeedbackForm{})
	assert.ErrorIs(t, err, ErrSessionClosed)

	h.clock.Advance(time.Minute)
	assert.Equal(t, schemas.StepIntroVideo, h.session.Step())
}

// Driving a session with manual triggers lands on the same step as folding
// the transition table over the same triggers.
func TestSession_AgreesWithFold(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	triggers := []Trigger{TriggerSubmit, TriggerBack, TriggerSubmit, TriggerSkip, TriggerChoose, TriggerBack, TriggerChoose, TriggerSkip}
	for _, tr := range triggers {
		var err error
		switch tr {
		case TriggerSubmit:
			_, err = h.session.SubmitIntake(ctx, ana)
		case TriggerChoose:
			err = h.session.Choose(ctx, "recruit")
		case TriggerBack:
			err = h.session.Back()
		case TriggerSkip:
			err = h.session.Skip()
		}
		require.NoError(t, err, string(tr))
	}

	want, err := Fold(schemas.StepIntake, triggers, Options{Feedback: true})
	require.NoError(t, err)
	assert.Equal(t, want, h.session.Step())
}
