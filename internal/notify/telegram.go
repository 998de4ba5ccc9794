// Package notify delivers swap notifications over the Telegram Bot API.
package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lnbridge-exchange/lnbridge/internal/storage"
	"github.com/lnbridge-exchange/lnbridge/pkg/logging"
)

const defaultAPIBase = "https://api.telegram.org"

// Config holds Telegram client configuration.
type Config struct {
	Token      string
	MiniAppURL string
	// APIBase overrides the Bot API host, used in tests.
	APIBase    string
	HTTPClient *http.Client
}

// Client is a minimal Telegram Bot API client covering the methods the
// coordinator needs: sendMessage and getUpdates long-polling.
type Client struct {
	token      string
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a Telegram Bot API client.
func NewClient(cfg *Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Long-poll requests hold the connection open for the poll timeout,
		// so the client timeout has to exceed it.
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}

	return &Client{
		token:      strings.TrimSpace(cfg.Token),
		apiBase:    apiBase,
		httpClient: httpClient,
	}
}

// WebAppInfo points a keyboard button at the miniapp.
type WebAppInfo struct {
	URL string `json:"url"`
}

// InlineKeyboardButton is one button of an inline keyboard.
type InlineKeyboardButton struct {
	Text   string      `json:"text"`
	URL    string      `json:"url,omitempty"`
	WebApp *WebAppInfo `json:"web_app,omitempty"`
}

// InlineKeyboardMarkup attaches inline buttons below a message.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// KeyboardButton is one button of a reply keyboard.
type KeyboardButton struct {
	Text   string      `json:"text"`
	WebApp *WebAppInfo `json:"web_app,omitempty"`
}

// ReplyKeyboardMarkup replaces the user's keyboard with custom buttons.
type ReplyKeyboardMarkup struct {
	Keyboard        [][]KeyboardButton `json:"keyboard"`
	ResizeKeyboard  bool               `json:"resize_keyboard,omitempty"`
	OneTimeKeyboard bool               `json:"one_time_keyboard,omitempty"`
}

// Chat identifies a Telegram conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// WebAppData carries the payload a miniapp sent back through the keyboard.
type WebAppData struct {
	Data       string `json:"data"`
	ButtonText string `json:"button_text"`
}

// Message is an inbound Telegram message.
type Message struct {
	MessageID  int64       `json:"message_id"`
	Chat       Chat        `json:"chat"`
	Text       string      `json:"text"`
	WebAppData *WebAppData `json:"web_app_data,omitempty"`
}

// Update is one entry of a getUpdates response.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type sendMessageRequest struct {
	ChatID                int64       `json:"chat_id"`
	Text                  string      `json:"text"`
	DisableWebPagePreview bool        `json:"disable_web_page_preview,omitempty"`
	ReplyMarkup           interface{} `json:"reply_markup,omitempty"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// SendMessage delivers plain text to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.SendMessageWithMarkup(ctx, chatID, text, nil)
}

// SendMessageWithMarkup delivers text with an optional keyboard attached.
func (c *Client) SendMessageWithMarkup(ctx context.Context, chatID int64, text string, markup interface{}) error {
	if chatID == 0 {
		return errors.New("chat id is required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("message is empty")
	}

	return c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		DisableWebPagePreview: true,
		ReplyMarkup:           markup,
	}, nil)
}

// GetUpdates long-polls for new updates past the given offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(timeout.Seconds()),
		AllowedUpdates: []string{"message"},
	}, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *Client) call(ctx context.Context, method string, payload, result interface{}) error {
	if c.token == "" {
		return errors.New("telegram bot token is empty")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.apiBase, url.PathEscape(c.token), method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var apiResp apiResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&apiResp); decodeErr != nil {
		return decodeErr
	}
	if resp.StatusCode >= http.StatusBadRequest || !apiResp.OK {
		if apiResp.Description == "" {
			apiResp.Description = "telegram api request failed"
		}
		return fmt.Errorf("telegram api error: %s", apiResp.Description)
	}

	if result != nil && len(apiResp.Result) > 0 {
		return json.Unmarshal(apiResp.Result, result)
	}
	return nil
}

// Notifier sends swap lifecycle messages, optionally carrying a miniapp
// call-to-action button parameterized with the swap document.
type Notifier struct {
	client     *Client
	miniAppURL string
	log        *logging.Logger
}

// NewNotifier creates a Notifier on top of a Telegram client.
func NewNotifier(client *Client, miniAppURL string) *Notifier {
	return &Notifier{
		client:     client,
		miniAppURL: strings.TrimRight(miniAppURL, "/"),
		log:        logging.GetDefault().Component("notify"),
	}
}

// Notify delivers plain text to a chat.
func (n *Notifier) Notify(ctx context.Context, chatID int64, text string) error {
	return n.client.SendMessage(ctx, chatID, text)
}

// NotifyWithAction delivers text with a single miniapp button. The current
// swap document travels base64url-encoded in the miniapp URL query so the
// miniapp opens directly on the right swap.
func (n *Notifier) NotifyWithAction(ctx context.Context, chatID int64, text, label string, swap *storage.Swap) error {
	actionURL, err := n.ActionURL(swap)
	if err != nil {
		n.log.Error("Failed to encode swap for action button", "id", swap.ID, "error", err)
		return n.client.SendMessage(ctx, chatID, text)
	}

	markup := InlineKeyboardMarkup{
		InlineKeyboard: [][]InlineKeyboardButton{{
			{Text: label, WebApp: &WebAppInfo{URL: actionURL}},
		}},
	}
	return n.client.SendMessageWithMarkup(ctx, chatID, text, markup)
}

// ActionURL builds the miniapp URL carrying the encoded swap document.
func (n *Notifier) ActionURL(swap *storage.Swap) (string, error) {
	doc, err := json.Marshal(swap)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(doc)
	return n.miniAppURL + "?swap=" + encoded, nil
}
