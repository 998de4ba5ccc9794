// Package bot - Telegram front-end for the swap coordinator.
//
// The bot long-polls getUpdates, turns miniapp payloads into state machine
// calls, and renders outcomes back as chat messages. It holds no swap logic
// of its own.
package bot

import (
	"context"
	"errors"
	"time"

	"github.com/lnbridge-exchange/lnbridge/internal/notify"
	"github.com/lnbridge-exchange/lnbridge/internal/storage"
	"github.com/lnbridge-exchange/lnbridge/internal/swap"
	"github.com/lnbridge-exchange/lnbridge/pkg/helpers"
	"github.com/lnbridge-exchange/lnbridge/pkg/logging"
)

// Coordinator is the slice of the swap state machine the bot drives.
type Coordinator interface {
	Create(ctx context.Context, chatID int64, source, destination string, amount uint64) (*storage.Swap, error)
	List(tag string, limit int) ([]*storage.Swap, error)
	Select(ctx context.Context, swapID string, selectorChatID int64) (*storage.Swap, error)
	VerifyAndLock(ctx context.Context, swapID, txHash, invoiceStr string) (*storage.Swap, error)
	Finish(ctx context.Context, swapID string) (*storage.Swap, error)
	RequestRefund(ctx context.Context, swapID string) (*storage.Swap, error)
	ConfirmRefund(ctx context.Context, swapID string) (*storage.Swap, error)
	Delete(ctx context.Context, swapID string, callerChatID int64) error
}

// Sender delivers chat messages, optionally with a keyboard.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMessageWithMarkup(ctx context.Context, chatID int64, text string, markup interface{}) error
}

// Config configures the bot polling behavior.
type Config struct {
	MiniAppURL  string
	PollTimeout time.Duration // getUpdates long-poll timeout
	ListLimit   int           // max pending swaps rendered per request
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PollTimeout: 30 * time.Second,
		ListLimit:   10,
	}
}

// Bot runs the Telegram update loop.
type Bot struct {
	client  Sender
	updates UpdateSource
	machine Coordinator
	config  Config
	log     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// UpdateSource long-polls for inbound updates.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]notify.Update, error)
}

// New creates a bot on top of a Telegram client and the swap machine.
func New(client *notify.Client, machine Coordinator, cfg Config) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = DefaultConfig().PollTimeout
	}
	if cfg.ListLimit == 0 {
		cfg.ListLimit = DefaultConfig().ListLimit
	}

	return &Bot{
		client:  client,
		updates: client,
		machine: machine,
		config:  cfg,
		log:     logging.GetDefault().Component("bot"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start starts the update loop in a background goroutine.
func (b *Bot) Start() {
	go b.run()
	b.log.Info("Bot started", "poll_timeout", b.config.PollTimeout)
}

// Stop stops the update loop and waits for it to drain.
func (b *Bot) Stop() {
	b.cancel()
	<-b.done
	b.log.Info("Bot stopped")
}

// run is the main update loop.
func (b *Bot) run() {
	defer close(b.done)

	var offset int64
	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		updates, err := b.updates.GetUpdates(b.ctx, offset, b.config.PollTimeout)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			b.log.Warn("Failed to fetch updates", "error", err)
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			b.handleUpdate(update)
		}
	}
}

// handleUpdate routes one inbound update.
func (b *Bot) handleUpdate(update notify.Update) {
	msg := update.Message
	if msg == nil || msg.Chat.ID == 0 {
		return
	}
	chatID := msg.Chat.ID

	if msg.WebAppData != nil {
		b.handlePayload(chatID, msg.WebAppData.Data)
		return
	}

	if msg.Text == "/start" {
		b.sendStart(chatID)
		return
	}

	b.reply(chatID, "Hello, type /start to open the swap miniapp.")
}

// sendStart shows the miniapp keyboard.
func (b *Bot) sendStart(chatID int64) {
	markup := notify.ReplyKeyboardMarkup{
		Keyboard: [][]notify.KeyboardButton{{
			{Text: "Open miniapp", WebApp: &notify.WebAppInfo{URL: b.config.MiniAppURL}},
		}},
		ResizeKeyboard:  true,
		OneTimeKeyboard: true,
	}
	if err := b.client.SendMessageWithMarkup(b.ctx, chatID, "Hello! Press the button to open the miniapp:", markup); err != nil {
		b.log.Error("Failed to send start keyboard", "chat", chatID, "error", err)
	}
}

// handlePayload decodes a miniapp payload and dispatches it.
func (b *Bot) handlePayload(chatID int64, raw string) {
	event, err := ParseEvent(raw)
	if err != nil {
		b.log.Warn("Rejected miniapp payload", "chat", chatID, "error", err)
		b.reply(chatID, "Could not read that request, please try again from the miniapp.")
		return
	}

	switch e := event.(type) {
	case *PostSwapEvent:
		b.handlePostSwap(chatID, e)
	case *GetPendingSwapsEvent:
		b.handleGetPendingSwaps(chatID, e)
	case *SelectSwapEvent:
		if _, err := b.machine.Select(b.ctx, e.SwapID, chatID); err != nil {
			b.replyFailure(chatID, err)
			return
		}
		b.reply(chatID, "Swap "+e.SwapID+" is yours. Waiting for the counterparty to lock funds.")
	case *DeletePendingSwapEvent:
		if err := b.machine.Delete(b.ctx, e.SwapID, chatID); err != nil {
			b.replyFailure(chatID, err)
		}
	case *SwapLockedEvent:
		// Verification polls the chain and can block for minutes; run it off
		// the update loop so other chats stay responsive.
		go b.handleSwapLocked(chatID, e)
	case *RefundSwapEvent:
		if _, err := b.machine.RequestRefund(b.ctx, e.SwapID); err != nil {
			b.replyFailure(chatID, err)
		}
	case *RefundInitiatedEvent:
		if _, err := b.machine.ConfirmRefund(b.ctx, e.SwapID); err != nil {
			b.replyFailure(chatID, err)
		}
	case *SwapFinishedEvent:
		if _, err := b.machine.Finish(b.ctx, e.SwapID); err != nil {
			b.replyFailure(chatID, err)
		}
	}
}

func (b *Bot) handlePostSwap(chatID int64, e *PostSwapEvent) {
	created, err := b.machine.Create(b.ctx, chatID, e.Source, e.Destination, e.Amount)
	if err != nil {
		b.replyFailure(chatID, err)
		return
	}
	b.reply(chatID, "Swap "+created.ID+" posted: "+helpers.FormatAmount(created.Amount, 8)+
		" "+created.Source+" for "+created.Destination+". You will be notified when someone selects it.")
}

func (b *Bot) handleGetPendingSwaps(chatID int64, e *GetPendingSwapsEvent) {
	swaps, err := b.machine.List(e.Tag, b.config.ListLimit)
	if err != nil {
		b.replyFailure(chatID, err)
		return
	}
	if len(swaps) == 0 {
		b.reply(chatID, "No pending swaps right now.")
		return
	}

	text := "Pending swaps:"
	for _, s := range swaps {
		text += "\n" + s.ID + ": " + helpers.FormatAmount(s.Amount, 8) + " " + s.Source + " for " + s.Destination
	}
	b.reply(chatID, text)
}

func (b *Bot) handleSwapLocked(chatID int64, e *SwapLockedEvent) {
	b.reply(chatID, "Verifying your lock transaction, this can take a minute...")
	if _, err := b.machine.VerifyAndLock(b.ctx, e.SwapID, e.Transaction, e.Invoice); err != nil {
		b.replyFailure(chatID, err)
		return
	}
	b.reply(chatID, "Lock verified. The counterparty was asked to pay your invoice.")
}

// replyFailure renders a state machine outcome as a user-facing message.
func (b *Bot) replyFailure(chatID int64, err error) {
	var failure *swap.Failure
	if errors.As(err, &failure) {
		b.reply(chatID, failure.UserMessage())
		return
	}
	b.log.Error("Unexpected operation error", "chat", chatID, "error", err)
	b.reply(chatID, "Something went wrong, please try again.")
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.client.SendMessage(b.ctx, chatID, text); err != nil {
		b.log.Error("Failed to send reply", "chat", chatID, "error", err)
	}
}
