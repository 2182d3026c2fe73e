package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TelegramNotifier posts Markdown messages through the Telegram Bot API.
type TelegramNotifier struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		Username string `json:"username"`
	} `json:"result"`
}

// NewTelegramNotifier constructs a notifier for one chat.
func NewTelegramNotifier(baseURL, token, chatID string, timeout time.Duration) (*TelegramNotifier, error) {
	if token == "" || chatID == "" {
		return nil, configError("notify.telegram", "bot token and chat id are required")
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramNotifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Name implements Notifier.
func (t *TelegramNotifier) Name() string { return "telegram" }

// Send implements Notifier.
func (t *TelegramNotifier) Send(ctx context.Context, msg Message) error {
	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     telegramText(msg),
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}
	var reply telegramReply
	if err := postJSON(ctx, t.client, "notify.telegram.send", t.method("sendMessage"), nil, payload, &reply); err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("notify.telegram.send: %s", reply.Description)
	}
	return nil
}

// Check calls getMe and returns the bot username.
func (t *TelegramNotifier) Check(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.method("getMe"), nil)
	if err != nil {
		return "", err
	}
	var reply telegramReply
	if err := do(t.client, "notify.telegram.check", req, &reply); err != nil {
		return "", err
	}
	if !reply.OK {
		return "", fmt.Errorf("notify.telegram.check: %s", reply.Description)
	}
	return reply.Result.Username, nil
}

func (t *TelegramNotifier) method(name string) string {
	return t.baseURL + "/bot" + t.token + "/" + name
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// telegramText bolds the headline and escapes the rest for legacy Markdown.
func telegramText(msg Message) string {
	head, rest, _ := strings.Cut(msg.Text, "\n")
	out := "*" + markdownEscaper.Replace(head) + "*"
	if rest != "" {
		out += "\n" + markdownEscaper.Replace(rest)
	}
	return out
}
