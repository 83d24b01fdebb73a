// Package telegram is the Telegram chat surface: long-polling inbound,
// edit-throttled streaming outbound, inline-keyboard approvals.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/AtharvJoshigit/valuablehelper/internal/gateway"
	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

const (
	callbackApprove = "approve"
	callbackDeny    = "deny"

	// eventBuffer absorbs inbound bursts; overflow is dropped with a log.
	eventBuffer = 100
)

// Config holds the Telegram adapter settings.
type Config struct {
	// Token is the bot token from @BotFather (required).
	Token string

	// AllowedChatIDs restricts who may talk to the bot; empty allows all.
	AllowedChatIDs []int64

	// MaxReconnectAttempts bounds polling restarts after failures.
	MaxReconnectAttempts int

	// ReconnectDelay is the wait between restart attempts.
	ReconnectDelay time.Duration

	// EditInterval is the minimum spacing between message edits.
	EditInterval time.Duration

	// Logger is optional.
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Token == "" {
		return errors.New("telegram: token is required")
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.EditInterval == 0 {
		c.EditInterval = gateway.DefaultEditInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// BotClient is the slice of bot.Bot the adapter uses; tests inject fakes.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*tgmodels.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	Start(ctx context.Context)
}

// Adapter implements gateway.Adapter over the Telegram Bot API.
type Adapter struct {
	config Config
	client BotClient
	events chan *models.Event
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// New creates a Telegram adapter. The bot connection is established on
// Start.
func New(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config: config,
		events: make(chan *models.Event, eventBuffer),
		logger: config.Logger.With("gateway", "telegram"),
	}, nil
}

// Name implements gateway.Adapter.
func (a *Adapter) Name() string { return "telegram" }

// Events implements gateway.Adapter. The channel closes when polling
// stops for good.
func (a *Adapter) Events() <-chan *models.Event { return a.events }

// Start connects the bot and begins long polling.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	if a.client == nil {
		b, err := bot.New(a.config.Token, bot.WithDefaultHandler(a.handleUpdate))
		if err != nil {
			cancel()
			return fmt.Errorf("telegram: create bot: %w", err)
		}
		a.client = b
	}

	a.wg.Add(1)
	go a.pollWithReconnection(ctx)

	a.logger.Info("telegram gateway started")
	return nil
}

// Stop implements gateway.Adapter.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.logger.Info("telegram gateway stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: stop timeout: %w", ctx.Err())
	}
}

// pollWithReconnection restarts long polling after transient failures, up
// to the configured attempt budget.
func (a *Adapter) pollWithReconnection(ctx context.Context) {
	defer a.wg.Done()
	defer close(a.events)

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := a.poll(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}

		attempts++
		a.logger.Error("telegram polling failed",
			"error", err, "attempt", attempts, "max_attempts", a.config.MaxReconnectAttempts)
		if attempts >= a.config.MaxReconnectAttempts {
			a.logger.Error("telegram gateway giving up after max reconnect attempts")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.config.ReconnectDelay):
			a.logger.Info("telegram gateway reconnecting")
		}
	}
}

func (a *Adapter) poll(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("telegram polling panicked: %v", r)
		}
	}()
	a.client.Start(ctx)
	return ctx.Err()
}

// handleUpdate translates Telegram updates into bus events.
func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	switch {
	case update.CallbackQuery != nil:
		a.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		a.handleMessage(update.Message)
	}
}

func (a *Adapter) handleMessage(msg *tgmodels.Message) {
	if msg.Text == "" || !a.chatAllowed(msg.Chat.ID) {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	text := strings.TrimSpace(msg.Text)

	var ev *models.Event
	switch {
	case strings.HasPrefix(text, "/approve"):
		ev = models.NewUserApprovalEvent(chatID, true, a.Name())
	case strings.HasPrefix(text, "/deny"):
		ev = models.NewUserApprovalEvent(chatID, false, a.Name())
	default:
		ev = models.NewUserMessageEvent(chatID, text, a.Name())
	}
	a.deliver(ev)
}

func (a *Adapter) handleCallback(ctx context.Context, cb *tgmodels.CallbackQuery) {
	// Acknowledge first so the client stops its spinner.
	if _, err := a.client.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	}); err != nil {
		a.logger.Warn("answer callback query failed", "error", err)
	}

	if cb.Message.Message == nil {
		return
	}
	chatID := strconv.FormatInt(cb.Message.Message.Chat.ID, 10)
	switch cb.Data {
	case callbackApprove:
		a.deliver(models.NewUserApprovalEvent(chatID, true, a.Name()))
	case callbackDeny:
		a.deliver(models.NewUserApprovalEvent(chatID, false, a.Name()))
	}
}

func (a *Adapter) deliver(ev *models.Event) {
	select {
	case a.events <- ev:
	default:
		a.logger.Warn("event buffer full, dropping update", "type", ev.Type, "chat_id", ev.ChatID())
	}
}

func (a *Adapter) chatAllowed(id int64) bool {
	if len(a.config.AllowedChatIDs) == 0 {
		return true
	}
	for _, allowed := range a.config.AllowedChatIDs {
		if allowed == id {
			return true
		}
	}
	return false
}

// Render streams one agent run into the chat: a first message is sent,
// then edited in place as chunks arrive, at most one edit per interval.
func (a *Adapter) Render(ctx context.Context, chatID string, chunks <-chan *models.StreamChunk) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", chatID, err)
	}

	r := &renderer{
		client:   a.client,
		chatID:   id,
		throttle: gateway.NewThrottle(a.config.EditInterval),
		logger:   a.logger.With("chat_id", chatID),
	}
	return r.consume(ctx, chunks)
}

// renderer accumulates one run's visible text and keeps a single Telegram
// message updated with it.
type renderer struct {
	client   BotClient
	chatID   int64
	throttle *gateway.Throttle
	logger   *slog.Logger

	messageID int
	text      strings.Builder
	rendered  string
}

func (r *renderer) consume(ctx context.Context, chunks <-chan *models.StreamChunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return r.flush(ctx)
			}
			if err := r.apply(ctx, chunk); err != nil {
				return err
			}
		}
	}
}

func (r *renderer) apply(ctx context.Context, chunk *models.StreamChunk) error {
	switch chunk.Kind() {
	case models.ChunkContent:
		r.text.WriteString(chunk.Content)
	case models.ChunkToolCall:
		fmt.Fprintf(&r.text, "\n🔧 %s…\n", chunk.ToolCall.Name)
	case models.ChunkToolResult:
		if chunk.ToolResult.Error != "" {
			fmt.Fprintf(&r.text, "⚠️ %s failed: %s\n", chunk.ToolResult.Name, chunk.ToolResult.Error)
		}
	case models.ChunkPermissionRequest:
		if err := r.flush(ctx); err != nil {
			return err
		}
		return r.askPermission(ctx, chunk.PermissionRequest)
	}

	if chunk.Done() {
		return r.flush(ctx)
	}
	if r.throttle.Ready() {
		if err := r.flush(ctx); err != nil {
			return err
		}
		r.throttle.Mark()
	}
	return nil
}

// flush pushes the accumulated text to Telegram, sending on first use and
// editing afterwards.
func (r *renderer) flush(ctx context.Context) error {
	text := r.text.String()
	if text == "" || text == r.rendered {
		return nil
	}

	if r.messageID == 0 {
		sent, err := r.client.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: r.chatID,
			Text:   text,
		})
		if err != nil {
			return fmt.Errorf("telegram: send message: %w", err)
		}
		r.messageID = sent.ID
		r.rendered = text
		return nil
	}

	if _, err := r.client.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    r.chatID,
		MessageID: r.messageID,
		Text:      text,
	}); err != nil {
		// Telegram rejects no-op edits; log and keep streaming.
		r.logger.Warn("edit message failed", "error", err)
		return nil
	}
	r.rendered = text
	return nil
}

func (r *renderer) askPermission(ctx context.Context, calls []models.ToolCall) error {
	names := make([]string, len(calls))
	for i, call := range calls {
		names[i] = call.Name
	}
	_, err := r.client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: r.chatID,
		Text: fmt.Sprintf("🔐 Permission needed to run: %s\nApprove?",
			strings.Join(names, ", ")),
		ReplyMarkup: &tgmodels.InlineKeyboardMarkup{
			InlineKeyboard: [][]tgmodels.InlineKeyboardButton{{
				{Text: "✅ Approve", CallbackData: callbackApprove},
				{Text: "❌ Deny", CallbackData: callbackDeny},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("telegram: send permission prompt: %w", err)
	}
	return nil
}
