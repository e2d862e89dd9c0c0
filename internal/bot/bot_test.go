package bot

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"reserva/internal/access"
	"reserva/internal/audit"
	"reserva/internal/availability"
	"reserva/internal/database"
	"reserva/internal/events"
	"reserva/internal/model"
	"reserva/internal/panel"
	"reserva/internal/queue"
	"reserva/internal/session"
	"reserva/internal/submission"
	"reserva/internal/wizard"
)

const chatID int64 = 1001

var now = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

type fakeTelegram struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, c)
	f.mu.Unlock()
	return tgbotapi.Message{}, nil
}

func (f *fakeTelegram) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeTelegram) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeTelegram) SelfUser() tgbotapi.User {
	return tgbotapi.User{UserName: "reserva_test_bot"}
}

func (f *fakeTelegram) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeTelegram) lastText() string {
	texts := f.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (f *fakeTelegram) saw(substr string) bool {
	for _, t := range f.texts() {
		if strings.Contains(t, substr) {
			return true
		}
	}
	return false
}

func (f *fakeTelegram) count(substr string) int {
	n := 0
	for _, t := range f.texts() {
		if strings.Contains(t, substr) {
			n++
		}
	}
	return n
}

func (f *fakeTelegram) documents() []tgbotapi.DocumentConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.DocumentConfig
	for _, c := range f.sent {
		if d, ok := c.(tgbotapi.DocumentConfig); ok {
			out = append(out, d)
		}
	}
	return out
}

type recordingBackend struct {
	mu      sync.Mutex
	records []model.SubmissionRecord
}

func (r *recordingBackend) Submit(_ context.Context, rec model.SubmissionRecord) error {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	return nil
}

func (r *recordingBackend) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type staticCapacity struct {
	result panel.Result
}

func (s staticCapacity) CheckCapacity(context.Context, panel.Query) (panel.Result, error) {
	return s.result, nil
}

// gatedCapacity holds every check until a result is released.
type gatedCapacity struct {
	release chan panel.Result
	mu      sync.Mutex
	queries []panel.Query
}

func (g *gatedCapacity) CheckCapacity(ctx context.Context, q panel.Query) (panel.Result, error) {
	g.mu.Lock()
	g.queries = append(g.queries, q)
	g.mu.Unlock()
	select {
	case res := <-g.release:
		return res, nil
	case <-ctx.Done():
		return panel.Result{}, ctx.Err()
	}
}

func (g *gatedCapacity) calls() []panel.Query {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]panel.Query(nil), g.queries...)
}

type switchConn struct {
	online atomic.Bool
}

func (c *switchConn) Online() bool { return c.online.Load() }

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type mockExporter struct {
	mock.Mock
}

func (m *mockExporter) Export(ctx context.Context, w audit.ExcelWriter, from, to time.Time) (int, error) {
	args := m.Called(ctx, w, from, to)
	return args.Int(0), args.Error(1)
}

type harness struct {
	bot     *Bot
	tg      *fakeTelegram
	store   *session.MemoryStore
	backend *recordingBackend
	avail   *availability.Store
	clock   *testClock
}

// newHarness builds a bot around fakes. Unless deps carries a pipeline, the
// reservations go to h.backend, which is always online.
func newHarness(t *testing.T, deps Deps) *harness {
	t.Helper()
	clock := &testClock{t: now}
	avail := availability.NewStore(nil,
		availability.WithLocation(time.UTC),
		availability.WithClock(clock.Now))
	avail.Set(availability.DefaultConfig())

	h := &harness{
		tg:      &fakeTelegram{},
		store:   session.NewMemoryStore(),
		backend: &recordingBackend{},
		avail:   avail,
		clock:   clock,
	}
	deps.Availability = avail
	deps.Sessions = h.store
	if deps.Pipeline == nil {
		deps.Pipeline = submission.NewPipeline(h.backend, nil, submission.AlwaysOnline{}, nil, submission.Options{
			ResetDelay: time.Hour,
			Now:        func() time.Time { return now },
		}, nil)
	}
	if deps.Capacity == nil {
		deps.Capacity = staticCapacity{result: panel.Result{Available: true}}
	}
	deps.Panel.Debounce = 5 * time.Millisecond

	b, err := NewWithTelegramClient(h.tg, deps, nil)
	require.NoError(t, err)
	h.bot = b
	t.Cleanup(func() { b.Shutdown(context.Background()) })
	return h
}

func (h *harness) command(text string, userID int64) {
	cmd := strings.Fields(text)[0]
	h.bot.handleUpdate(context.Background(), &tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID},
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}})
}

func (h *harness) text(text string) {
	h.bot.handleUpdate(context.Background(), &tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: chatID},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}})
}

func (h *harness) press(data string) {
	h.bot.handleUpdate(context.Background(), &tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: chatID},
		Data:    data,
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: chatID}},
	}})
}

func (h *harness) session(t *testing.T) *chatSession {
	t.Helper()
	cs, ok := h.bot.sessions.lookup(chatID)
	require.True(t, ok)
	return cs
}

func (h *harness) fillPersonalData() {
	h.command("/start", chatID)
	h.text("Maria Souza")
	h.text("maria@example.com")
	h.text("11987654321")
	h.text("1990-03-04")
}

// reachMeetingSummary fills a meeting on date up to the summary.
func (h *harness) reachMeetingSummary(t *testing.T, date string) {
	t.Helper()
	h.fillPersonalData()
	h.press("type:meeting")
	h.text("6")
	h.press("date:" + date)
	h.press("time:19:00")
	h.press("loc:near_play")
	h.press("skip:notes")
	require.Equal(t, wizard.StepSummary, h.session(t).wizard.Step())
}

func (h *harness) storeDocument(t *testing.T, doc map[string]any) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, h.store.Set(context.Background(), sessionKey(chatID), data))
}

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "reserva.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return queue.New(db, nil)
}

func TestStartAsksForName(t *testing.T) {
	h := newHarness(t, Deps{})
	h.command("/start", chatID)
	assert.Equal(t, questions[fieldName], h.tg.lastText())
}

func TestPersonalDataAdvancesToDetails(t *testing.T) {
	h := newHarness(t, Deps{})
	h.fillPersonalData()

	cs := h.session(t)
	assert.Equal(t, wizard.StepReservationDetails, cs.wizard.Step())
	assert.Equal(t, "(11) 98765-4321", cs.wizard.Draft().Phone)
	assert.Equal(t, questions[fieldType], h.tg.lastText())
}

func TestInvalidAnswerIsNotStored(t *testing.T) {
	h := newHarness(t, Deps{})
	h.command("/start", chatID)
	h.text("Maria Souza")
	h.text("not-an-email")

	cs := h.session(t)
	assert.Empty(t, cs.wizard.Draft().Email)
	assert.Equal(t, questions[fieldEmail], h.tg.lastText())
	assert.True(t, h.tg.saw("email"))
}

func TestUnderageBirthDateRejected(t *testing.T) {
	h := newHarness(t, Deps{})
	h.command("/start", chatID)
	h.text("Maria Souza")
	h.text("maria@example.com")
	h.text("(11) 98765-4321")
	h.text("2010-01-01")

	cs := h.session(t)
	assert.True(t, cs.wizard.Draft().BirthDate.IsZero())
	assert.Equal(t, wizard.StepPersonalData, cs.wizard.Step())
	assert.Equal(t, questions[fieldBirthDate], h.tg.lastText())
}

func TestMeetingFlowSubmits(t *testing.T) {
	h := newHarness(t, Deps{})
	h.fillPersonalData()

	h.press("type:meeting")
	assert.Equal(t, questions[fieldPartySize], h.tg.lastText())
	h.text("6")
	assert.True(t, strings.HasPrefix(h.tg.lastText(), questions[fieldDate]))
	h.press("date:2025-06-14")
	assert.Equal(t, questions[fieldTime], h.tg.lastText())
	h.press("time:19:00")
	h.press("loc:near_play")
	assert.Equal(t, questions[fieldNotes], h.tg.lastText())
	h.press("skip:notes")

	cs := h.session(t)
	require.Equal(t, wizard.StepSummary, cs.wizard.Step())
	assert.True(t, strings.HasPrefix(h.tg.lastText(), "Please check your reservation"))

	h.press("confirm")
	require.Equal(t, 1, h.backend.count())
	rec := h.backend.records[0]
	assert.Equal(t, "Maria Souza", rec.PersonalData.Name)
	assert.Equal(t, model.TypeMeeting, rec.ReservationType.Type)
	assert.Equal(t, 6, rec.ReservationDetails.PartySize)
	assert.Equal(t, "19:00", rec.ReservationDetails.DesiredTime)
	assert.Nil(t, rec.ReservationDetails.Notes)
	assert.True(t, h.tg.saw("Your reservation was sent"))

	h.press("confirm")
	assert.Equal(t, 1, h.backend.count(), "a sent reservation is not sent twice")
}

func TestClosedDateAsksAgain(t *testing.T) {
	h := newHarness(t, Deps{})
	h.fillPersonalData()
	h.press("type:meeting")
	h.text("4")
	h.press("date:2025-06-15")

	assert.True(t, h.tg.saw(availability.MsgSundayClosed))
	assert.True(t, strings.HasPrefix(h.tg.lastText(), questions[fieldDate]))
	assert.Equal(t, wizard.StepReservationDetails, h.session(t).wizard.Step())
}

func TestTypedTimeMustBeOffered(t *testing.T) {
	h := newHarness(t, Deps{})
	h.fillPersonalData()
	h.press("type:meeting")
	h.text("4")
	h.text("14.06.2025")
	h.text("23:00")

	assert.Empty(t, h.session(t).wizard.Draft().DesiredTime)
	assert.True(t, h.tg.saw("desiredTime is not offered on this date"))
	assert.Equal(t, questions[fieldTime], h.tg.lastText())
}

func TestChangingTypeDropsVariantFields(t *testing.T) {
	h := newHarness(t, Deps{})
	h.fillPersonalData()
	h.press("type:party")
	h.press("menu:fixed_package")
	h.press("type:birthday")

	d := h.session(t).wizard.Draft()
	assert.Equal(t, model.TypeBirthday, d.Type())
	assert.Equal(t, model.BirthdayVariant{}, d.Variant)
	assert.Equal(t, questions[fieldPanel], h.tg.lastText())
}

func TestBirthdayPanelWaitsForCapacityCheck(t *testing.T) {
	h := newHarness(t, Deps{Capacity: staticCapacity{result: panel.Result{Available: true, SlotsUsed: 1}}})
	h.fillPersonalData()
	h.press("type:birthday")
	h.press("panel:yes")
	h.press("skip:panelNotes")
	h.text("12")
	h.press("date:2025-06-14")
	h.press("time:19:30")
	h.press("loc:near_stage")
	h.press("skip:notes")

	require.Eventually(t, func() bool {
		return h.tg.saw("Please check your reservation")
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return h.tg.saw("The panel is available")
	}, time.Second, 5*time.Millisecond)

	cs := h.session(t)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	assert.Equal(t, wizard.StepSummary, cs.wizard.Step())
	assert.Equal(t, panel.StatusAvailable, cs.engine.State().Status)
}

func TestPanelLimitBlocksDetails(t *testing.T) {
	h := newHarness(t, Deps{Capacity: staticCapacity{result: panel.Result{Available: true, SlotsUsed: 2}}})
	h.fillPersonalData()
	h.press("type:birthday")
	h.press("panel:yes")
	h.press("skip:panelNotes")
	h.text("12")
	h.press("date:2025-06-14")
	h.press("time:19:30")
	h.press("loc:near_stage")
	h.press("skip:notes")

	require.Eventually(t, func() bool {
		return h.tg.saw("panel booking limit reached")
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return h.tg.saw("Please fix the following")
	}, time.Second, 5*time.Millisecond)

	cs := h.session(t)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	assert.Equal(t, wizard.StepReservationDetails, cs.wizard.Step())
}

func TestBackRetreatsAndShowsReview(t *testing.T) {
	h := newHarness(t, Deps{})
	h.fillPersonalData()
	h.command("/back", chatID)

	assert.Equal(t, wizard.StepPersonalData, h.session(t).wizard.Step())
	assert.True(t, strings.HasPrefix(h.tg.lastText(), "Personal data"))
	assert.Contains(t, h.tg.lastText(), "maria@example.com")
}

func TestResetClearsStoredSession(t *testing.T) {
	h := newHarness(t, Deps{})
	h.fillPersonalData()
	_, err := h.store.Get(context.Background(), sessionKey(chatID))
	require.NoError(t, err)

	h.command("/reset", chatID)
	_, err = h.store.Get(context.Background(), sessionKey(chatID))
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Empty(t, h.session(t).wizard.Draft().Name)
}

func TestRestoreFromCrashBackup(t *testing.T) {
	h := newHarness(t, Deps{})
	d := model.NewDraft()
	d.Name = "Ana Lima"
	data, err := json.Marshal(map[string]any{"draft": d, "currentStep": wizard.StepPersonalData})
	require.NoError(t, err)
	require.NoError(t, h.store.Set(context.Background(), sessionKey(chatID)+wizard.BackupSuffix, data))

	h.command("/start", chatID)
	assert.True(t, h.tg.saw("Welcome back"))
	assert.Equal(t, "Ana Lima", h.session(t).wizard.Draft().Name)
	assert.Equal(t, questions[fieldEmail], h.tg.lastText())

	_, err = h.store.Get(context.Background(), sessionKey(chatID)+wizard.BackupSuffix)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestShutdownSnapshotsLiveSessions(t *testing.T) {
	h := newHarness(t, Deps{})
	h.command("/start", chatID)
	h.text("Maria Souza")

	h.bot.Shutdown(context.Background())
	data, err := h.store.Get(context.Background(), sessionKey(chatID)+wizard.BackupSuffix)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Maria Souza")
}

func TestCleanupDropsIdleSessions(t *testing.T) {
	h := newHarness(t, Deps{})
	h.command("/start", chatID)

	assert.Zero(t, h.bot.sessions.cleanup(time.Now(), time.Hour))
	assert.Equal(t, 1, h.bot.sessions.cleanup(time.Now().Add(2*time.Hour), time.Hour))
	_, ok := h.bot.sessions.lookup(chatID)
	assert.False(t, ok)
}

func TestExportIsManagerOnly(t *testing.T) {
	exporter := new(mockExporter)
	from := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	exporter.On("Export", mock.Anything, mock.Anything, from, from.AddDate(0, 1, 0)).Return(3, nil).Once()

	h := newHarness(t, Deps{Journal: exporter, Managers: []int64{42}})

	h.command("/export 2025-05", 7)
	assert.Equal(t, "Unknown command. Try /help.", h.tg.lastText())
	assert.Empty(t, h.tg.documents())

	h.command("/export 2025-05", 42)
	docs := h.tg.documents()
	require.Len(t, docs, 1)
	assert.Equal(t, "3 journal entries", docs[0].Caption)
	exporter.AssertExpectations(t)
}

func TestBlockedUserIsIgnored(t *testing.T) {
	db, err := database.NewDB(filepath.Join(t.TempDir(), "reserva.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	gate := access.NewService(db, []int64{42}, nil)

	h := newHarness(t, Deps{Access: gate, Managers: []int64{42}})

	h.command("/block", 42)
	assert.Equal(t, "Usage: /block <user id> [reason]", h.tg.lastText())

	h.command("/blocked", 42)
	assert.Equal(t, "Nobody is blocked.", h.tg.lastText())

	h.command("/block 1001 spam", 42)
	assert.Equal(t, "User 1001 blocked.", h.tg.lastText())
	h.command("/blocked", 42)
	assert.Equal(t, "Blocked users:\n1001 (spam)", h.tg.lastText())

	h.text("hello")
	assert.Equal(t, "Access denied: spam", h.tg.lastText())
	_, ok := h.bot.sessions.lookup(chatID)
	assert.False(t, ok, "blocked users never get a session")

	h.command("/block 7", 1001)
	assert.Equal(t, "Access denied: spam", h.tg.lastText())

	h.command("/unblock 1001", 42)
	assert.Equal(t, "User 1001 unblocked.", h.tg.lastText())
	h.command("/unblock 1001", 42)
	assert.Equal(t, "User 1001 was not blocked.", h.tg.lastText())

	h.command("/start", chatID)
	assert.Equal(t, questions[fieldName], h.tg.lastText())
}

func TestThrottledClientSpacesSends(t *testing.T) {
	inner := &fakeTelegram{}
	tg := newThrottledClient(inner, 50, 1)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := tg.Send(tgbotapi.NewMessage(chatID, "x"))
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
	assert.Len(t, inner.texts(), 3)
}

func TestCalendarMarksClosedDays(t *testing.T) {
	kb := calendarKeyboard(2025, time.June, func(d model.Date) bool {
		return d.Weekday() != time.Sunday
	})
	var open, closed int
	for _, row := range kb.InlineKeyboard[2 : len(kb.InlineKeyboard)-1] {
		for _, btn := range row {
			switch {
			case btn.CallbackData != nil && strings.HasPrefix(*btn.CallbackData, "date:"):
				open++
			case btn.Text == "·":
				closed++
			}
		}
	}
	assert.Equal(t, 5, closed)
	assert.Equal(t, 25, open)
}

func TestParseUserDate(t *testing.T) {
	for _, in := range []string{"2025-06-14", "14.06.2025", "14/06/2025"} {
		d, err := parseUserDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, model.MustDate(2025, 6, 14), d)
	}
	_, err := parseUserDate("June 14")
	assert.Error(t, err)
}

func TestOfflineReservationResolvesAfterReplay(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	conn := &switchConn{}
	bus := events.NewEventBus()
	backend := &recordingBackend{}
	pipeline := submission.NewPipeline(backend, q, conn, bus, submission.Options{
		ResetDelay: 10 * time.Millisecond,
		ReplayRate: 1000,
		Now:        func() time.Time { return now },
	}, nil)

	h := newHarness(t, Deps{Pipeline: pipeline, Queue: q, ResetDelay: 10 * time.Millisecond})
	bus.Subscribe(h.bot.HandleDelivered, events.TypeReplayed)
	h.reachMeetingSummary(t, "2025-06-14")

	h.press("confirm")
	assert.True(t, h.tg.saw("We are offline right now"))
	cs := h.session(t)
	status, _ := cs.wizard.Status()
	require.Equal(t, wizard.StatusPending, status)

	h.press("confirm")
	assert.Equal(t, pendingNotice, h.tg.lastText())
	h.text("Another name")
	assert.Equal(t, pendingNotice, h.tg.lastText())
	assert.Equal(t, "Maria Souza", cs.wizard.Draft().Name)
	queued, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued, "a pending reservation is queued once")

	conn.online.Store(true)
	n, err := pipeline.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, backend.count())
	assert.True(t, h.tg.saw("Your queued reservation was delivered"))

	require.Eventually(t, func() bool {
		return h.tg.saw("Ready for a new reservation")
	}, time.Second, 5*time.Millisecond)
	status, _ = cs.wizard.Status()
	assert.Equal(t, wizard.StatusIdle, status)
	assert.Empty(t, cs.wizard.Draft().Name)
	_, err = h.store.Get(ctx, sessionKey(chatID))
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestRestoredPendingDraftStaysLocked(t *testing.T) {
	q := newQueue(t)
	d := model.NewDraft()
	d.Name = "Ana Lima"
	rec := model.NewSubmissionRecord(&d, now)
	require.NoError(t, q.Enqueue(context.Background(), sessionKey(chatID), rec))

	h := newHarness(t, Deps{Queue: q})
	h.storeDocument(t, map[string]any{"draft": d, "currentStep": wizard.StepSummary, "pendingFormId": rec.FormID})

	h.command("/start", chatID)
	assert.Equal(t, pendingNotice, h.tg.lastText())
	h.press("confirm")
	assert.Equal(t, pendingNotice, h.tg.lastText())
	assert.Zero(t, h.backend.count())
}

func TestRestoredDraftDeliveredWhileAwayIsCleared(t *testing.T) {
	h := newHarness(t, Deps{Queue: newQueue(t)})
	d := model.NewDraft()
	d.Name = "Ana Lima"
	h.storeDocument(t, map[string]any{"draft": d, "currentStep": wizard.StepSummary, "pendingFormId": "already-sent"})

	h.command("/start", chatID)
	assert.True(t, h.tg.saw("Your queued reservation was delivered"))
	assert.False(t, h.tg.saw("Welcome back"))
	assert.Equal(t, questions[fieldName], h.tg.lastText())
	assert.Empty(t, h.session(t).wizard.Draft().Name)
	_, err := h.store.Get(context.Background(), sessionKey(chatID))
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestHandleDeliveredClearsStoredDraft(t *testing.T) {
	h := newHarness(t, Deps{})
	d := model.NewDraft()
	d.Name = "Ana Lima"
	h.storeDocument(t, map[string]any{"draft": d, "currentStep": wizard.StepSummary, "pendingFormId": "f-1"})

	err := h.bot.HandleDelivered(events.Event{Type: events.TypeReplayed, SessionKey: "elsewhere:1", Record: model.SubmissionRecord{FormID: "f-1"}})
	require.NoError(t, err)
	_, err = h.store.Get(context.Background(), sessionKey(chatID))
	require.NoError(t, err, "foreign keys are ignored")

	err = h.bot.HandleDelivered(events.Event{Type: events.TypeReplayed, SessionKey: sessionKey(chatID), Record: model.SubmissionRecord{FormID: "f-1"}})
	require.NoError(t, err)
	_, err = h.store.Get(context.Background(), sessionKey(chatID))
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Equal(t, deliveredNotice, h.tg.lastText())
}

func TestSundayExceptionPanelGatesDetails(t *testing.T) {
	tests := []struct {
		name     string
		result   panel.Result
		advances bool
	}{
		{"unavailable", panel.Result{Available: false, Message: "no panel team that day"}, false},
		{"available", panel.Result{Available: true, SlotsUsed: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capacity := &gatedCapacity{release: make(chan panel.Result, 1)}
			h := newHarness(t, Deps{Capacity: capacity})
			cfg := availability.DefaultConfig()
			cfg.Exceptions = []availability.Exception{{Date: model.MustDate(2025, 6, 22), TimeSlots: []string{"12:00"}}}
			h.avail.Set(cfg)

			h.fillPersonalData()
			h.press("type:birthday")
			h.press("panel:yes")
			h.press("skip:panelNotes")
			h.text("12")
			h.press("date:2025-06-22")
			require.True(t, h.tg.saw(questions[fieldTime]), "the exception opens the sunday")
			h.press("time:12:00")
			h.press("loc:outdoor_area")
			h.press("skip:notes")

			require.Eventually(t, func() bool { return len(capacity.calls()) == 1 }, time.Second, 5*time.Millisecond)
			assert.True(t, h.tg.saw("Checking panel availability"))
			h.press("next")
			cs := h.session(t)
			cs.mu.Lock()
			assert.Equal(t, wizard.StepReservationDetails, cs.wizard.Step(), "no advance while the check runs")
			cs.mu.Unlock()

			capacity.release <- tt.result
			if tt.advances {
				require.Eventually(t, func() bool {
					return h.tg.saw("Please check your reservation")
				}, time.Second, 5*time.Millisecond)
				assert.True(t, h.tg.saw("The panel is available"))
			} else {
				require.Eventually(t, func() bool {
					return h.tg.saw("Please fix the following")
				}, time.Second, 5*time.Millisecond)
				assert.True(t, h.tg.saw("no panel team that day"))
			}

			cs.mu.Lock()
			step := cs.wizard.Step()
			cs.mu.Unlock()
			if tt.advances {
				assert.Equal(t, wizard.StepSummary, step)
			} else {
				assert.Equal(t, wizard.StepReservationDetails, step)
			}
			assert.Equal(t, []panel.Query{{Date: model.MustDate(2025, 6, 22), PartySize: 12, Location: model.LocationOutdoorArea}}, capacity.calls())
		})
	}
}

func TestLatePanelChangeDoesNotRepeatOldNotice(t *testing.T) {
	h := newHarness(t, Deps{Capacity: staticCapacity{result: panel.Result{Available: true}}})
	h.fillPersonalData()
	h.press("type:birthday")
	h.press("panel:yes")
	h.press("skip:panelNotes")
	h.text("12")
	h.press("date:2025-06-14")
	h.press("time:19:30")
	h.press("loc:near_stage")
	h.press("skip:notes")
	require.Eventually(t, func() bool {
		return h.tg.saw("The panel is available")
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	before := h.tg.count("the panel is not available at this location")
	h.press("loc:near_play")
	require.Eventually(t, func() bool {
		return h.tg.count("the panel is not available at this location") == before+1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	sent := len(h.tg.texts())

	// A delivery that lost the race with the location change.
	h.bot.onPanelChange(chatID)
	assert.Len(t, h.tg.texts(), sent)
	assert.Equal(t, 1, h.tg.count("The panel is available"))
}

func TestConfirmAppliesSameDayCutoff(t *testing.T) {
	h := newHarness(t, Deps{})
	h.reachMeetingSummary(t, "2025-06-10")

	h.clock.Set(time.Date(2025, 6, 10, 12, 5, 0, 0, time.UTC))
	h.press("confirm")

	assert.Zero(t, h.backend.count())
	assert.True(t, h.tg.saw(availability.MsgTodayClosed))
	cs := h.session(t)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	assert.Equal(t, wizard.StepReservationDetails, cs.wizard.Step())
	require.NotNil(t, cs.decision)
	assert.False(t, cs.decision.Available)
}
