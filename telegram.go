package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"email-genie/conv"
)

const telegramMaxLen = 4096

type botConfig struct {
	WebhookURL   string  `json:"webhook_url"`
	Listen       string  `json:"listen"`
	AllowedUsers []int64 `json:"allowed_users"`
}

type telegramConfig struct {
	Token string     `json:"token"`
	Bot   *botConfig `json:"bot"`
}

func loadTelegramConfig(path string) (*telegramConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg telegramConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Environment wins over the file, so tokens can stay in .env.
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		cfg.Token = token
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram config: token is empty")
	}
	if cfg.Bot == nil {
		return nil, fmt.Errorf("telegram config: 'bot' section is required")
	}
	return &cfg, nil
}

// Quick-reply keyboards for yes/no style prompts.

type keyboardButton struct {
	Text string `json:"text"`
}

type replyKeyboard struct {
	Keyboard        [][]keyboardButton `json:"keyboard"`
	OneTimeKeyboard bool               `json:"one_time_keyboard"`
	ResizeKeyboard  bool               `json:"resize_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64          `json:"chat_id"`
	Text        string         `json:"text"`
	ParseMode   string         `json:"parse_mode,omitempty"`
	ReplyMarkup *replyKeyboard `json:"reply_markup,omitempty"`
}

func keyboardMarkup(rows [][]string) *replyKeyboard {
	kb := &replyKeyboard{OneTimeKeyboard: true, ResizeKeyboard: true}
	for _, row := range rows {
		buttons := make([]keyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, keyboardButton{Text: label})
		}
		kb.Keyboard = append(kb.Keyboard, buttons)
	}
	return kb
}

// sendTelegramMessage posts a single sendMessage request.
func sendTelegramMessage(token string, req sendMessageRequest) error {
	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", token)

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	resp, err := http.Post(apiURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("API error: %s", result.Description)
	}
	return nil
}

// sendReply delivers one engine reply. Prompts with a keyboard go out as a
// single plain message carrying the markup; everything else takes the
// markdown→HTML path with splitting.
func sendReply(token string, chatID int64, r conv.Reply) error {
	if len(r.Keyboard) > 0 {
		return sendTelegramMessage(token, sendMessageRequest{
			ChatID:      chatID,
			Text:        r.Text,
			ReplyMarkup: keyboardMarkup(r.Keyboard),
		})
	}
	return sendToChat(token, chatID, r.Text)
}

// sendToChat sends text to a single chat with markdown→HTML conversion + splitting.
// Falls back to plain text if HTML parsing fails.
func sendToChat(token string, chatID int64, text string) error {
	html := markdownToTelegramHTML(text)
	chunks := splitTelegramMessage(html)
	for _, chunk := range chunks {
		if err := sendTelegramMessage(token, sendMessageRequest{ChatID: chatID, Text: chunk, ParseMode: "HTML"}); err != nil {
			// Fallback: send as plain text
			plain := splitTelegramMessage(text)
			for j, p := range plain {
				if err2 := sendTelegramMessage(token, sendMessageRequest{ChatID: chatID, Text: p}); err2 != nil {
					return fmt.Errorf("chunk %d/%d (plain fallback): %w", j+1, len(plain), err2)
				}
			}
			return nil
		}
	}
	return nil
}

// sendTypingAction sends a "typing" indicator to a chat.
func sendTypingAction(token string, chatID int64) error {
	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendChatAction", token)
	vals := url.Values{
		"chat_id": {strconv.FormatInt(chatID, 10)},
		"action":  {"typing"},
	}
	resp, err := http.PostForm(apiURL, vals)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// markdownToTelegramHTML converts common markdown to Telegram-supported HTML.
// Telegram supports: <b>, <i>, <code>, <pre>, <a>, <s>, <u>, <blockquote>
func markdownToTelegramHTML(text string) string {
	// Escape HTML entities first
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		// Headers: ## text → <b>text</b>
		if trimmed := strings.TrimLeft(line, "#"); len(trimmed) < len(line) {
			trimmed = strings.TrimSpace(trimmed)
			if trimmed != "" {
				lines = append(lines, "<b>"+trimmed+"</b>")
				continue
			}
		}
		lines = append(lines, line)
	}
	text = strings.Join(lines, "\n")

	// Inline code: `text` → <code>text</code>
	text = reInlineCode.ReplaceAllString(text, "<code>$1</code>")

	// Bold: **text** → <b>text</b>
	text = reBold.ReplaceAllString(text, "<b>$1</b>")

	// Italic: *text* → <i>text</i> (but not ** which is bold)
	text = reItalic.ReplaceAllString(text, "${1}<i>$2</i>")

	return text
}

var (
	reInlineCode = regexp.MustCompile("`([^`]+)`")
	reBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reItalic     = regexp.MustCompile(`(^|[^*])\*([^*]+?)\*`)
)

func splitTelegramMessage(text string) []string {
	if len(text) <= telegramMaxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= telegramMaxLen {
			chunks = append(chunks, text)
			break
		}

		// Find last newline before the limit
		cut := telegramMaxLen
		for i := cut - 1; i > 0; i-- {
			if text[i] == '\n' {
				cut = i + 1 // include the newline in current chunk
				break
			}
		}

		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return chunks
}

// telegramFiles downloads file content through the Bot API getFile flow.
// Errors are wrapped with %w so the collector's timeout detection still
// sees the underlying net.Error.
type telegramFiles struct {
	token  string
	client *http.Client
}

func newTelegramFiles(token string) *telegramFiles {
	return &telegramFiles{
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *telegramFiles) Fetch(ctx context.Context, ref conv.FileRef) ([]byte, error) {
	path, err := t.filePath(ctx, ref.ID)
	if err != nil {
		return nil, err
	}

	fileURL := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", t.token, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	return io.ReadAll(resp.Body)
}

func (t *telegramFiles) filePath(ctx context.Context, fileID string) (string, error) {
	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/getFile", t.token)
	vals := url.Values{"file_id": {fileID}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(vals.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("getFile request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		Result      struct {
			FilePath string `json:"file_path"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("getFile decode: %w", err)
	}
	if !result.OK {
		return "", fmt.Errorf("getFile: %s", result.Description)
	}
	return result.Result.FilePath, nil
}
