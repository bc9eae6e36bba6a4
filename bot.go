package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"email-genie/conv"
)

// Telegram Bot API types

type TGUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

type TGChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type TGDocument struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileName     string `json:"file_name,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
}

type TGPhotoSize struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FileSize     int64  `json:"file_size,omitempty"`
}

type TGMessage struct {
	MessageID int64         `json:"message_id"`
	From      *TGUser       `json:"from,omitempty"`
	Chat      TGChat        `json:"chat"`
	Date      int64         `json:"date"`
	Text      string        `json:"text,omitempty"`
	Document  *TGDocument   `json:"document,omitempty"`
	Photo     []TGPhotoSize `json:"photo,omitempty"`
}

type Update struct {
	UpdateID int64      `json:"update_id"`
	Message  *TGMessage `json:"message,omitempty"`
}

// Webhook management

func webhookCall(token, method string, vals url.Values) error {
	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/%s", token, method)
	resp, err := http.PostForm(apiURL, vals)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("%s decode: %w", method, err)
	}
	if !result.OK {
		return fmt.Errorf("%s: %s", method, result.Description)
	}
	return nil
}

func setWebhook(token, webhookURL string) error {
	return webhookCall(token, "setWebhook", url.Values{"url": {webhookURL}})
}

func deleteWebhook(token string) error {
	return webhookCall(token, "deleteWebhook", url.Values{})
}

// startTyping sends a "typing" action every 4 seconds until cancel is called.
func startTyping(token string, chatID int64) (cancel func()) {
	done := make(chan struct{})
	go func() {
		_ = sendTypingAction(token, chatID)
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = sendTypingAction(token, chatID)
			}
		}
	}()
	return func() { close(done) }
}

// perChatQueue serializes events per chat: one worker goroutine per chat,
// so different chats run concurrently but a single dialogue never races
// with itself. Workers that sit idle are reaped so the map and goroutine
// count stay bounded by the number of recently active chats.
type perChatQueue struct {
	mu      sync.Mutex
	workers map[int64]chan conv.Event
	handle  func(chatID int64, ev conv.Event)
	idle    time.Duration
}

const workerIdleTimeout = 5 * time.Minute

func newPerChatQueue(handle func(chatID int64, ev conv.Event)) *perChatQueue {
	return &perChatQueue{
		workers: make(map[int64]chan conv.Event),
		handle:  handle,
		idle:    workerIdleTimeout,
	}
}

func (q *perChatQueue) enqueue(chatID int64, ev conv.Event) {
	// The send stays under the mutex: the worker also holds it while
	// deciding to exit, so nothing lands in a channel nobody drains.
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, ok := q.workers[chatID]
	if !ok {
		ch = make(chan conv.Event, 16)
		q.workers[chatID] = ch
		go q.run(chatID, ch)
	}

	select {
	case ch <- ev:
	default:
		log.Printf("Chat %d queue full, dropping update", chatID)
	}
}

func (q *perChatQueue) run(chatID int64, ch chan conv.Event) {
	timer := time.NewTimer(q.idle)
	defer timer.Stop()

	for {
		select {
		case ev := <-ch:
			q.handle(chatID, ev)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(q.idle)

		case <-timer.C:
			q.mu.Lock()
			if len(ch) > 0 {
				// An event arrived while the timer was firing.
				q.mu.Unlock()
				timer.Reset(q.idle)
				continue
			}
			delete(q.workers, chatID)
			q.mu.Unlock()
			return
		}
	}
}

// eventFromMessage maps a Telegram message onto a dialogue event.
// Unsupported content (stickers, voice, etc.) is reported as not ok.
func eventFromMessage(msg *TGMessage) (conv.Event, bool) {
	if msg.Document != nil {
		d := msg.Document
		return conv.Event{Kind: conv.EventDocument, Document: &conv.FileRef{
			ID:       d.FileID,
			UniqueID: d.FileUniqueID,
			Name:     d.FileName,
			Size:     d.FileSize,
		}}, true
	}

	if len(msg.Photo) > 0 {
		refs := make([]conv.FileRef, 0, len(msg.Photo))
		for _, p := range msg.Photo {
			refs = append(refs, conv.FileRef{
				ID:       p.FileID,
				UniqueID: p.FileUniqueID,
				Size:     p.FileSize,
			})
		}
		return conv.Event{Kind: conv.EventPhoto, Photos: refs}, true
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return conv.Event{}, false
	}

	if strings.HasPrefix(text, "/") {
		name := strings.TrimPrefix(text, "/")
		// Strip the @BotName suffix Telegram adds in group chats.
		name, _, _ = strings.Cut(name, "@")
		name, _, _ = strings.Cut(name, " ")
		switch name {
		case "start", "done", "cancel":
			return conv.Event{Kind: conv.EventCommand, Command: name}, true
		}
		return conv.Event{}, false
	}

	return conv.Event{Kind: conv.EventText, Text: text}, true
}

func runBot(tgCfg *telegramConfig, apiBase string) error {
	botCfg := tgCfg.Bot
	token := tgCfg.Token

	// Build allowed user set
	allowed := make(map[int64]bool, len(botCfg.AllowedUsers))
	for _, uid := range botCfg.AllowedUsers {
		allowed[uid] = true
	}

	engine := &conv.Engine{
		Store:  conv.NewStore(),
		Files:  newTelegramFiles(token),
		Gen:    newAPIClient(apiBase),
		Sender: newAPIClient(apiBase),
		Send: func(chatID int64, r conv.Reply) {
			if err := sendReply(token, chatID, r); err != nil {
				log.Printf("Error sending reply to chat %d: %v", chatID, err)
			}
		},
	}

	queue := newPerChatQueue(func(chatID int64, ev conv.Event) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic handling chat %d: %v", chatID, r)
				_ = sendToChat(token, chatID, fmt.Sprintf("Internal error: %v", r))
			}
		}()

		stop := startTyping(token, chatID)
		defer stop()

		engine.Handle(context.Background(), chatID, ev)
	})

	// Set webhook
	if err := setWebhook(token, botCfg.WebhookURL); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	log.Printf("Webhook set to %s", botCfg.WebhookURL)

	// Extract path from webhook URL for handler registration
	u, err := url.Parse(botCfg.WebhookURL)
	if err != nil {
		return fmt.Errorf("parse webhook URL: %w", err)
	}
	hookPath := u.Path
	if hookPath == "" {
		hookPath = "/"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(hookPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var update Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		// Always respond 200 quickly to avoid Telegram retries
		w.WriteHeader(http.StatusOK)

		msg := update.Message
		if msg == nil {
			return
		}

		// Check allowed users (if list is non-empty)
		if len(allowed) > 0 && msg.From != nil && !allowed[msg.From.ID] {
			log.Printf("Rejected message from user %d (%s)", msg.From.ID, msg.From.Username)
			return
		}

		ev, ok := eventFromMessage(msg)
		if !ok {
			return
		}

		userLabel := "unknown"
		if msg.From != nil {
			userLabel = msg.From.FirstName
			if msg.From.Username != "" {
				userLabel += " @" + msg.From.Username
			}
		}
		log.Printf("Message from %s (chat %d): %s", userLabel, msg.Chat.ID, truncate(msg.Text, 100))

		queue.enqueue(msg.Chat.ID, ev)
	})

	server := &http.Server{
		Addr:    botCfg.Listen,
		Handler: mux,
	}

	// Graceful shutdown
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		log.Println("Shutting down...")

		if err := deleteWebhook(token); err != nil {
			log.Printf("deleteWebhook error: %v", err)
		} else {
			log.Println("Webhook deleted")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("server shutdown error: %v", err)
		}
	}()

	log.Printf("Bot listening on %s", botCfg.Listen)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
