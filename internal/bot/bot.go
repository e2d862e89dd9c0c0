// Package bot is the Telegram front end of the reservation wizard.
package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"reserva/internal/access"
	"reserva/internal/audit"
	"reserva/internal/availability"
	"reserva/internal/events"
	"reserva/internal/model"
	"reserva/internal/panel"
	"reserva/internal/session"
	"reserva/internal/submission"
	"reserva/internal/wizard"
)

type telegramClient interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	SelfUser() tgbotapi.User
}

type realTelegramClient struct {
	api *tgbotapi.BotAPI
}

func (c *realTelegramClient) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	return c.api.Send(msg)
}

func (c *realTelegramClient) Request(msg tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return c.api.Request(msg)
}

func (c *realTelegramClient) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return c.api.GetUpdatesChan(cfg)
}

func (c *realTelegramClient) SelfUser() tgbotapi.User {
	return c.api.Self
}

// Telegram drops bots that exceed about 30 messages per second.
const (
	sendRate  = 25
	sendBurst = 30
)

// throttledClient spaces outgoing calls with a token bucket.
type throttledClient struct {
	telegramClient
	limiter *rate.Limiter
}

func newThrottledClient(tg telegramClient, perSecond float64, burst int) *throttledClient {
	return &throttledClient{telegramClient: tg, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (c *throttledClient) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := c.limiter.Wait(context.Background()); err != nil {
		return tgbotapi.Message{}, err
	}
	return c.telegramClient.Send(msg)
}

func (c *throttledClient) Request(msg tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := c.limiter.Wait(context.Background()); err != nil {
		return nil, err
	}
	return c.telegramClient.Request(msg)
}

// Resolver answers date availability in the venue time zone.
type Resolver interface {
	Resolve(date model.Date) (availability.Decision, error)
	Now() time.Time
}

// Submitter runs the submission pipeline for one wizard.
type Submitter interface {
	Submit(ctx context.Context, w *wizard.Wizard, gates wizard.Gates) (submission.Outcome, error)
}

// Exporter writes the submission journal to a workbook.
type Exporter interface {
	Export(ctx context.Context, w audit.ExcelWriter, from, to time.Time) (int, error)
}

// QueueChecker reports whether a record still waits in the offline queue.
type QueueChecker interface {
	Contains(ctx context.Context, formID string) (bool, error)
}

// Gatekeeper keeps blocked users away from the wizard.
type Gatekeeper interface {
	Check(ctx context.Context, userID int64) error
	Block(ctx context.Context, userID int64, reason string, by int64) error
	Unblock(ctx context.Context, userID int64) (bool, error)
	List(ctx context.Context) ([]access.BlockedUser, error)
}

// Deps are the collaborators of the bot.
type Deps struct {
	Availability   Resolver
	Capacity       panel.CapacityChecker
	Panel          panel.Settings
	Sessions       session.Store
	Pipeline       Submitter
	Journal        Exporter
	Access         Gatekeeper
	Queue          QueueChecker
	Managers       []int64
	SessionTimeout time.Duration
	// ResetDelay is how long a delivered queued reservation is shown before
	// the wizard clears.
	ResetDelay time.Duration
}

type unconfiguredChecker struct{}

func (unconfiguredChecker) CheckCapacity(context.Context, panel.Query) (panel.Result, error) {
	return panel.Result{}, errors.New("panel capacity service is not configured")
}

// Bot drives one wizard per chat.
type Bot struct {
	tg           telegramClient
	availability Resolver
	capacity     panel.CapacityChecker
	panel        panel.Settings
	store        session.Store
	pipeline     Submitter
	journal      Exporter
	access       Gatekeeper
	queue        QueueChecker
	managers     map[int64]struct{}
	timeout      time.Duration
	resetDelay   time.Duration
	sessions     *sessionStore
	logger       *zerolog.Logger
}

func New(token string, deps Deps, logger *zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newBot(newThrottledClient(&realTelegramClient{api: api}, sendRate, sendBurst), deps, logger)
}

// NewWithTelegramClient allows injecting a mocked Telegram client for tests.
func NewWithTelegramClient(tg telegramClient, deps Deps, logger *zerolog.Logger) (*Bot, error) {
	return newBot(tg, deps, logger)
}

func newBot(tg telegramClient, deps Deps, logger *zerolog.Logger) (*Bot, error) {
	if tg == nil {
		return nil, fmt.Errorf("telegram client is nil")
	}
	if deps.Availability == nil || deps.Sessions == nil || deps.Pipeline == nil {
		return nil, fmt.Errorf("availability, sessions and pipeline are required")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	mgrs := make(map[int64]struct{})
	for _, id := range deps.Managers {
		mgrs[id] = struct{}{}
	}
	if deps.Capacity == nil {
		deps.Capacity = unconfiguredChecker{}
	}
	if deps.SessionTimeout <= 0 {
		deps.SessionTimeout = 30 * time.Minute
	}
	if deps.ResetDelay <= 0 {
		deps.ResetDelay = wizard.DefaultResetDelay
	}
	l := logger.With().Str("component", "bot").Logger()
	return &Bot{
		tg:           tg,
		availability: deps.Availability,
		capacity:     deps.Capacity,
		panel:        deps.Panel,
		store:        deps.Sessions,
		pipeline:     deps.Pipeline,
		journal:      deps.Journal,
		access:       deps.Access,
		queue:        deps.Queue,
		managers:     mgrs,
		timeout:      deps.SessionTimeout,
		resetDelay:   deps.ResetDelay,
		sessions:     newSessionStore(),
		logger:       &l,
	}, nil
}

// Start polls updates until ctx is done, then snapshots every live wizard.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.tg.GetUpdatesChan(u)
	b.logger.Info().Str("username", b.tg.SelfUser().UserName).Msg("reservation bot authorized")

	cleanup := time.NewTicker(time.Minute)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Shutdown(context.Background())
			return
		case <-cleanup.C:
			if n := b.sessions.cleanup(time.Now(), b.timeout); n > 0 {
				b.logger.Debug().Int("expired", n).Msg("idle sessions dropped")
			}
		case update, ok := <-updates:
			if !ok {
				b.Shutdown(context.Background())
				return
			}
			requestID := uuid.New().String()
			l := b.logger.With().Str("request_id", requestID).Logger()
			updateCtx := l.WithContext(ctx)
			b.handleUpdate(updateCtx, &update)
		}
	}
}

// Shutdown writes the crash-recovery copy of every live wizard and stops
// their timers.
func (b *Bot) Shutdown(ctx context.Context) {
	if err := b.sessions.snapshotAll(ctx); err != nil {
		b.logger.Error().Err(err).Msg("failed to snapshot sessions")
	}
	for _, cs := range b.sessions.all() {
		cs.close()
	}
	b.logger.Info().Msg("sessions snapshotted")
}

// RefreshAvailability re-resolves the chosen date of every live session.
// It is called after the availability config changes.
func (b *Bot) RefreshAvailability() {
	for _, cs := range b.sessions.all() {
		cs.mu.Lock()
		d := cs.wizard.Draft()
		if !d.ReservationDate.IsZero() {
			if decision, err := b.availability.Resolve(d.ReservationDate); err == nil {
				cs.decision = &decision
				b.evaluatePanel(cs)
			}
		}
		cs.mu.Unlock()
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	l := zerolog.Ctx(ctx)
	if !b.allowed(ctx, update) {
		return
	}
	if update.CallbackQuery != nil {
		l.Debug().
			Int64("user_id", update.CallbackQuery.From.ID).
			Str("data", update.CallbackQuery.Data).
			Msg("Handling callback query")
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message != nil && update.Message.Chat != nil {
		l.Debug().
			Int64("chat_id", update.Message.Chat.ID).
			Str("text", update.Message.Text).
			Msg("Handling message")
		b.handleMessage(ctx, update.Message)
	}
}

// allowed checks the sender against the blocklist and tells blocked users why
// they are ignored. Lookup failures let the update through.
func (b *Bot) allowed(ctx context.Context, update *tgbotapi.Update) bool {
	if b.access == nil {
		return true
	}
	var (
		user   *tgbotapi.User
		chatID int64
	)
	switch {
	case update.CallbackQuery != nil:
		user = update.CallbackQuery.From
		if m := update.CallbackQuery.Message; m != nil && m.Chat != nil {
			chatID = m.Chat.ID
		}
	case update.Message != nil:
		user = update.Message.From
		if update.Message.Chat != nil {
			chatID = update.Message.Chat.ID
		}
	}
	if user == nil {
		return true
	}
	err := b.access.Check(ctx, user.ID)
	if err == nil {
		return true
	}
	if !access.IsDenied(err) {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("user_id", user.ID).Msg("access check failed")
		return true
	}
	if update.CallbackQuery != nil {
		b.answerCallback(update.CallbackQuery.ID)
	}
	if chatID != 0 {
		b.reply(chatID, err.Error())
	}
	return false
}

// openSession returns the live session of a chat, restoring persisted
// state when the chat has none yet. created reports a new live session and
// restored whether persisted state was found for it.
func (b *Bot) openSession(ctx context.Context, chatID int64) (cs *chatSession, created, restored bool) {
	cs, created = b.sessions.getOrCreate(chatID, func() *chatSession {
		return b.newSession(chatID)
	})
	if !created {
		return cs, false, false
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.touch(time.Now())
	restored, err := cs.wizard.Restore(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("chat_id", chatID).Msg("failed to restore session")
	}
	if restored && b.deliveredWhileAway(ctx, cs) {
		restored = false
	}
	if restored {
		d := cs.wizard.Draft()
		if !d.ReservationDate.IsZero() {
			if decision, err := b.availability.Resolve(d.ReservationDate); err == nil {
				cs.decision = &decision
			}
		}
		b.evaluatePanel(cs)
	}
	return cs, true, restored
}

// deliveredWhileAway clears a restored wizard whose queued record has left
// the offline queue and tells the user it was sent.
func (b *Bot) deliveredWhileAway(ctx context.Context, cs *chatSession) bool {
	formID := cs.wizard.PendingFormID()
	if formID == "" || b.queue == nil {
		return false
	}
	queued, err := b.queue.Contains(ctx, formID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("form_id", formID).Msg("offline queue lookup failed")
		return false
	}
	if queued {
		return false
	}
	if err := cs.wizard.Reset(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", cs.chatID).Msg("failed to clear delivered session")
	}
	cs.clearLocal()
	b.reply(cs.chatID, deliveredNotice)
	return true
}

const (
	deliveredNotice = "✅ Your queued reservation was delivered! We will contact you to confirm."
	pendingNotice   = "Your reservation is saved and will be sent as soon as we are back online. Send /reset to start a new one."
)

// HandleDelivered resolves the chat whose queued record was replayed. A live
// wizard shows the success and resets after the reset delay; a stored one is
// cleared. Subscribe it to events.TypeReplayed.
func (b *Bot) HandleDelivered(e events.Event) error {
	chatID, ok := chatIDFromKey(e.SessionKey)
	if !ok {
		return nil
	}
	if cs, live := b.sessions.lookup(chatID); live {
		cs.mu.Lock()
		delivered := cs.wizard.Delivered(e.Record.FormID, b.resetDelay)
		cs.mu.Unlock()
		if delivered {
			b.reply(chatID, deliveredNotice)
		}
		return nil
	}
	settled, err := wizard.SettleDelivered(context.Background(), b.store, e.SessionKey, e.Record.FormID)
	if err != nil {
		return fmt.Errorf("settle delivered reservation: %w", err)
	}
	if settled {
		b.reply(chatID, deliveredNotice)
	}
	return nil
}

func (b *Bot) newSession(chatID int64) *chatSession {
	w := wizard.New(sessionKey(chatID), b.store, b.logger)
	engine := panel.NewEngine(b.capacity, b.panel, b.logger)
	cs := &chatSession{
		chatID:   chatID,
		wizard:   w,
		engine:   engine,
		answered: make(map[field]bool),
	}
	// Engine listeners may fire while the session lock is held.
	engine.OnChange(func(panel.State) {
		go b.onPanelChange(chatID)
	})
	w.OnReset(func() {
		b.onWizardReset(chatID)
	})
	return cs
}

// onPanelChange reacts to a panel engine change. Deliveries may arrive out
// of order, so it reads the engine's current state instead of the one that
// triggered it.
func (b *Bot) onPanelChange(chatID int64) {
	cs, ok := b.sessions.lookup(chatID)
	if !ok {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	st := cs.engine.State()

	d := cs.wizard.Draft()
	if !d.PanelRequested() {
		return
	}
	if notice := panelNotice(st); notice != "" && notice != cs.panelNotice {
		cs.panelNotice = notice
		b.reply(chatID, notice)
	}
	if cs.advancePending && st.Status != panel.StatusChecking {
		cs.advancePending = false
		b.continueFlow(context.Background(), cs)
	}
}

func panelNotice(st panel.State) string {
	switch st.Status {
	case panel.StatusAvailable:
		return "🎉 The panel is available for your date."
	case panel.StatusIdle, panel.StatusChecking:
		return ""
	case panel.StatusDateUnavailable:
		if st.Message == "" {
			return ""
		}
	}
	if st.Message == "" {
		return "⚠️ The panel is not available."
	}
	return "⚠️ " + st.Message
}

func (b *Bot) onWizardReset(chatID int64) {
	cs, ok := b.sessions.lookup(chatID)
	if !ok {
		return
	}
	cs.mu.Lock()
	cs.clearLocal()
	cs.mu.Unlock()
	b.reply(chatID, "Ready for a new reservation. Send /start whenever you like.")
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			cs, _, restored := b.openSession(ctx, chatID)
			cs.mu.Lock()
			defer cs.mu.Unlock()
			if b.holdPending(cs) {
				return
			}
			if restored {
				b.reply(chatID, "Welcome back! Let's continue where you left off.")
			} else {
				b.reply(chatID, "Hi! Let's book your table. It takes three short steps.")
			}
			b.showStep(cs)
			return
		case "reset":
			cs, _, _ := b.openSession(ctx, chatID)
			cs.mu.Lock()
			defer cs.mu.Unlock()
			if err := cs.wizard.Reset(ctx); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("failed to clear session")
			}
			cs.clearLocal()
			b.reply(chatID, "Started over.")
			b.showStep(cs)
			return
		case "back":
			cs, _, _ := b.openSession(ctx, chatID)
			cs.mu.Lock()
			defer cs.mu.Unlock()
			if b.holdPending(cs) {
				return
			}
			b.retreat(ctx, cs)
			return
		case "help":
			b.reply(chatID, "Commands: /start to begin or continue, /back to go to the previous step, /reset to start over.")
			return
		case "export":
			if b.isManager(msg.From) {
				b.handleExport(ctx, chatID, msg.CommandArguments())
				return
			}
		case "blocked":
			if b.isManager(msg.From) && b.access != nil {
				b.listBlocked(ctx, chatID)
				return
			}
		case "block", "unblock":
			if b.isManager(msg.From) && b.access != nil {
				b.handleBlock(ctx, chatID, msg.From.ID, msg.Command() == "block", msg.CommandArguments())
				return
			}
		}
		b.reply(chatID, "Unknown command. Try /help.")
		return
	}

	cs, created, _ := b.openSession(ctx, chatID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.touch(time.Now())
	if created {
		b.showStep(cs)
		return
	}
	if b.holdPending(cs) {
		return
	}

	notice, err := b.applyText(ctx, cs, text)
	if b.handleInputError(ctx, cs, err) {
		return
	}
	if notice != "" {
		b.reply(chatID, notice)
		if cs.awaiting == fieldNone {
			return
		}
	}
	b.continueFlow(ctx, cs)
}

// holdPending answers for a wizard whose draft waits in the offline queue.
// Such a draft cannot be edited until it is delivered or reset.
func (b *Bot) holdPending(cs *chatSession) bool {
	if status, _ := cs.wizard.Status(); status != wizard.StatusPending {
		return false
	}
	b.reply(cs.chatID, pendingNotice)
	return true
}

// handleInputError reports a rejected answer and asks again. It returns
// false when err is nil.
func (b *Bot) handleInputError(ctx context.Context, cs *chatSession, err error) bool {
	if err == nil {
		return false
	}
	var vErr *model.ValidationError
	if errors.As(err, &vErr) {
		b.reply(cs.chatID, vErr.Message)
	} else {
		zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", cs.chatID).Msg("failed to save answer")
		b.reply(cs.chatID, "Could not save your answer, please try again.")
	}
	if cs.awaiting != fieldNone {
		b.ask(cs, cs.awaiting)
	}
	return true
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq == nil || cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	b.answerCallback(cq.ID)
	data := cq.Data
	if data == "noop" {
		return
	}
	chatID := cq.Message.Chat.ID

	cs, _, _ := b.openSession(ctx, chatID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.touch(time.Now())
	if b.holdPending(cs) {
		return
	}

	kind, value, _ := strings.Cut(data, ":")
	var (
		notice string
		err    error
	)
	switch kind {
	case "type":
		err = b.setType(ctx, cs, model.ReservationType(value))
	case "menu":
		err = cs.wizard.Update(ctx, func(d *model.Draft) error { return d.SetMenu(model.MenuType(value)) })
	case "panel":
		err = cs.wizard.Update(ctx, func(d *model.Draft) error { return d.SetPanelRequested(value == "yes") })
		if err == nil {
			cs.answered[fieldPanel] = true
			b.evaluatePanel(cs)
		}
	case "date":
		date, parseErr := model.ParseDate(value)
		if parseErr != nil {
			err = &model.ValidationError{Field: string(fieldDate), Message: parseErr.Error()}
			break
		}
		notice, err = b.setDate(ctx, cs, date)
	case "cal":
		b.showMonth(cs, cq.Message.MessageID, value)
		return
	case "time":
		err = b.setTime(ctx, cs, value)
	case "loc":
		loc := model.Location(value)
		if !loc.Valid() {
			err = &model.ValidationError{Field: string(fieldLocation), Message: "unknown location"}
			break
		}
		err = cs.wizard.Update(ctx, func(d *model.Draft) error {
			d.DesiredLocation = loc
			return nil
		})
		if err == nil {
			b.evaluatePanel(cs)
		}
	case "skip":
		cs.answered[field(value)] = true
	case "edit":
		b.ask(cs, field(value))
		return
	case "next":
		b.tryAdvance(ctx, cs)
		return
	case "back":
		b.retreat(ctx, cs)
		return
	case "confirm":
		b.submit(ctx, cs)
		return
	default:
		return
	}

	if b.handleInputError(ctx, cs, err) {
		return
	}
	if notice != "" {
		b.reply(chatID, notice)
	}
	b.continueFlow(ctx, cs)
}

func (b *Bot) setType(ctx context.Context, cs *chatSession, t model.ReservationType) error {
	draft := cs.wizard.Draft()
	before := draft.Type()
	if err := cs.wizard.Update(ctx, func(d *model.Draft) error { return d.SetType(t) }); err != nil {
		return err
	}
	if before != t {
		delete(cs.answered, fieldPanel)
		delete(cs.answered, fieldPanelNotes)
		delete(cs.answered, fieldPurchNotes)
		cs.panelNotice = ""
	}
	b.evaluatePanel(cs)
	return nil
}

func (b *Bot) showMonth(cs *chatSession, messageID int, value string) {
	t, err := time.Parse("2006-01", value)
	if err != nil {
		return
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(cs.chatID, messageID, b.calendar(t.Year(), t.Month()))
	b.send(edit)
}

func (b *Bot) retreat(ctx context.Context, cs *chatSession) {
	if cs.wizard.Step() == wizard.StepPersonalData {
		b.showStep(cs)
		return
	}
	if err := cs.wizard.Retreat(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", cs.chatID).Msg("failed to persist step")
	}
	cs.advancePending = false
	b.showStep(cs)
}

func (b *Bot) submit(ctx context.Context, cs *chatSession) {
	switch status, _ := cs.wizard.Status(); status {
	case wizard.StatusSubmitting:
		b.reply(cs.chatID, "Your reservation is being sent, one moment.")
		return
	case wizard.StatusSucceeded:
		b.reply(cs.chatID, "Your reservation was already sent.")
		return
	case wizard.StatusPending:
		b.reply(cs.chatID, pendingNotice)
		return
	}

	outcome, err := b.pipeline.Submit(ctx, cs.wizard, b.gates(cs))
	var (
		gateErr *wizard.GateError
		subErr  *submission.SubmissionError
	)
	switch {
	case errors.As(err, &gateErr):
		for cs.wizard.Step() > gateErr.Step {
			if rErr := cs.wizard.Retreat(ctx); rErr != nil {
				zerolog.Ctx(ctx).Error().Err(rErr).Msg("failed to persist step")
				break
			}
		}
		b.reportGate(cs, err)
	case errors.As(err, &subErr):
		msg := tgbotapi.NewMessage(cs.chatID, "❌ "+subErr.Message)
		msg.ReplyMarkup = summaryKeyboard()
		b.send(msg)
	case err != nil:
		zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", cs.chatID).Msg("submit failed")
		b.reply(cs.chatID, "Something went wrong, please try again.")
	case outcome == submission.OutcomePending:
		b.reply(cs.chatID, "📴 We are offline right now. Your reservation is saved and will be sent automatically when the connection is back.")
	default:
		b.reply(cs.chatID, "✅ Your reservation was sent! We will contact you to confirm.")
	}
}

// handleExport sends the submission journal of one month as a workbook.
// The argument is YYYY-MM and defaults to the current month.
func (b *Bot) handleExport(ctx context.Context, chatID int64, arg string) {
	if b.journal == nil {
		b.reply(chatID, "Export is not configured.")
		return
	}
	now := b.availability.Now()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	if arg = strings.TrimSpace(arg); arg != "" {
		t, err := time.ParseInLocation("2006-01", arg, now.Location())
		if err != nil {
			b.reply(chatID, "Usage: /export YYYY-MM")
			return
		}
		from = t
	}
	to := from.AddDate(0, 1, 0)

	writer := audit.NewExcelizeWriter()
	defer writer.Close()
	n, err := b.journal.Export(ctx, writer, from, to)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("journal export failed")
		b.reply(chatID, "Export failed.")
		return
	}
	var buf bytes.Buffer
	if err := writer.Save(&buf); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("journal export failed")
		b.reply(chatID, "Export failed.")
		return
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: audit.GenerateFilename(from), Bytes: buf.Bytes()})
	doc.Caption = fmt.Sprintf("%d journal entries", n)
	b.send(doc)
}

// handleBlock runs /block <user id> [reason] and /unblock <user id>.
func (b *Bot) handleBlock(ctx context.Context, chatID, managerID int64, block bool, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		if block {
			b.reply(chatID, "Usage: /block <user id> [reason]")
		} else {
			b.reply(chatID, "Usage: /unblock <user id>")
		}
		return
	}
	userID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		b.reply(chatID, "User id must be a number.")
		return
	}

	if !block {
		removed, err := b.access.Unblock(ctx, userID)
		switch {
		case err != nil:
			zerolog.Ctx(ctx).Error().Err(err).Int64("user_id", userID).Msg("unblock failed")
			b.reply(chatID, "Unblock failed.")
		case removed:
			b.reply(chatID, fmt.Sprintf("User %d unblocked.", userID))
		default:
			b.reply(chatID, fmt.Sprintf("User %d was not blocked.", userID))
		}
		return
	}

	reason := strings.Join(fields[1:], " ")
	if err := b.access.Block(ctx, userID, reason, managerID); err != nil {
		if access.IsDenied(err) {
			b.reply(chatID, err.Error())
			return
		}
		zerolog.Ctx(ctx).Error().Err(err).Int64("user_id", userID).Msg("block failed")
		b.reply(chatID, "Block failed.")
		return
	}
	b.reply(chatID, fmt.Sprintf("User %d blocked.", userID))
}

func (b *Bot) listBlocked(ctx context.Context, chatID int64) {
	users, err := b.access.List(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("list blocked users failed")
		b.reply(chatID, "Could not load the blocklist.")
		return
	}
	if len(users) == 0 {
		b.reply(chatID, "Nobody is blocked.")
		return
	}
	var sb strings.Builder
	sb.WriteString("Blocked users:")
	for _, u := range users {
		fmt.Fprintf(&sb, "\n%d", u.UserID)
		if u.Reason != "" {
			sb.WriteString(" (" + u.Reason + ")")
		}
	}
	b.reply(chatID, sb.String())
}

func (b *Bot) isManager(user *tgbotapi.User) bool {
	if user == nil {
		return false
	}
	_, ok := b.managers[user.ID]
	return ok
}

func (b *Bot) answerCallback(id string) {
	if _, err := b.tg.Request(tgbotapi.NewCallback(id, "")); err != nil {
		b.logger.Debug().Err(err).Msg("answer callback failed")
	}
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.tg.Send(c); err != nil {
		b.logger.Warn().Err(err).Msg("telegram send failed")
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}
