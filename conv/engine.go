// Package conv implements the email-composition dialogue: a per-chat
// state machine that collects the sender profile and recipient, gathers
// optional attachments, drafts the email through a generation backend and
// hands the result to a send backend. The engine talks to the outside
// world only through the injected collaborator interfaces, so the whole
// flow is testable without a live chat transport.
package conv

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// EventKind discriminates inbound chat events.
type EventKind int

const (
	EventText EventKind = iota
	EventCommand
	EventDocument
	EventPhoto
)

// FileRef points at a retrievable file on the chat transport.
type FileRef struct {
	ID       string
	UniqueID string
	Name     string
	Size     int64
}

// Event is one inbound user event, already normalized by the transport.
type Event struct {
	Kind     EventKind
	Text     string
	Command  string // "start", "done" or "cancel", without the slash
	Document *FileRef
	Photos   []FileRef // available renditions of one photo
}

// Reply is one outgoing message. Keyboard, when set, is a one-time
// quick-reply keyboard (rows of button labels).
type Reply struct {
	Text     string
	Keyboard [][]string
}

// FileFetcher retrieves attachment content from the chat transport.
type FileFetcher interface {
	Fetch(ctx context.Context, ref FileRef) ([]byte, error)
}

// DraftRequest is the payload for the generation backend.
type DraftRequest struct {
	Role          string
	Tone          string
	Topic         string
	Subject       string
	Name          string
	Position      string
	RecipientName string
}

// Generator drafts the email subject and body.
type Generator interface {
	Generate(ctx context.Context, req DraftRequest) (Draft, error)
}

// OutgoingEmail is the payload for the send backend.
type OutgoingEmail struct {
	Recipient   string
	Subject     string
	Body        string
	Attachments []Attachment
}

// SendResult reports a successful dispatch.
type SendResult struct {
	To string
}

// SendError is a failure reported by the send backend itself, as opposed
// to a transport-level error on the way there.
type SendError struct {
	Message string
}

func (e *SendError) Error() string { return e.Message }

// Sender dispatches the finished email.
type Sender interface {
	Send(ctx context.Context, email OutgoingEmail) (SendResult, error)
}

const (
	maxAttachmentSize = 10 * 1024 * 1024
	fetchAttempts     = 3

	defaultGenerateTimeout = 30 * time.Second
	defaultSendTimeout     = 60 * time.Second
)

const welcomeText = "👋 Welcome to the Email Generator Bot! I'll help you craft professional emails.\n\n" +
	"What's your professional role? (e.g., manager, developer, student)"

const attachInstructions = "📎 Send me document/photo(s).\n\n" +
	"⚠️ *Important:*\n" +
	"• When you're finished adding attachments, type /done\n" +
	"• Keep files under 10MB\n" +
	"• Wait for confirmation before sending the next file"

// Engine drives the email dialogue. One Handle call processes one inbound
// event to completion; the transport must not deliver two events for the
// same chat concurrently.
type Engine struct {
	Store  *Store
	Files  FileFetcher
	Gen    Generator
	Sender Sender

	// Send delivers outgoing replies in order. Required.
	Send func(chatID int64, r Reply)

	GenerateTimeout time.Duration // bounds one Generate call; defaults to 30s
	SendTimeout     time.Duration // bounds one Send call; defaults to 60s
	RetryDelay      time.Duration // pause between download attempts

	sleep func(time.Duration) // injectable for tests
}

func (e *Engine) reply(chatID int64, text string) {
	e.Send(chatID, Reply{Text: text})
}

// Handle routes one inbound event through the state machine.
func (e *Engine) Handle(ctx context.Context, chatID int64, ev Event) {
	if ev.Kind == EventCommand {
		switch ev.Command {
		case "cancel":
			e.Store.Clear(chatID)
			e.reply(chatID, "❌ Cancelled.")
			return
		case "start":
			e.Store.Clear(chatID)
			s := e.Store.GetOrCreate(chatID)
			s.State = StateRole
			e.reply(chatID, welcomeText)
			return
		}
	}

	s, ok := e.Store.Get(chatID)
	if !ok || s.State == StateIdle {
		// Dialogue ended or never started; nothing accepts input here.
		return
	}

	switch s.State {
	case StateRole, StateName, StatePosition, StateTone, StateTopic,
		StateRecipientName, StateRecipientEmail:
		e.collectField(chatID, s, ev)

	case StateAttachOrSend:
		e.attachOrSend(ctx, chatID, s, ev)

	case StateWaitAttachments:
		if ev.Kind == EventCommand && ev.Command == "done" {
			e.finishAttachments(ctx, chatID, s)
			return
		}
		e.collectAttachment(ctx, chatID, s, ev)

	case StateConfirm:
		e.confirm(ctx, chatID, s, ev)
	}
}

// collectField stores one free-text answer and asks the next question.
// Any string is accepted, including an empty one.
func (e *Engine) collectField(chatID int64, s *Session, ev Event) {
	if ev.Kind != EventText {
		return
	}
	text := strings.TrimSpace(ev.Text)

	switch s.State {
	case StateRole:
		s.Fields[FieldRole] = text
		s.State = StateName
		e.reply(chatID, "What's your name?")
	case StateName:
		s.Fields[FieldName] = text
		s.State = StatePosition
		e.reply(chatID, positionQuestion(s.Fields[FieldRole]))
	case StatePosition:
		s.Fields[FieldPosition] = text
		s.State = StateTone
		e.reply(chatID, "What tone would you like? (e.g., formal, casual)")
	case StateTone:
		s.Fields[FieldTone] = text
		s.State = StateTopic
		e.reply(chatID, "What topic would you like to write about? (e.g., meeting, project update)")
	case StateTopic:
		s.Fields[FieldTopic] = text
		s.State = StateRecipientName
		e.reply(chatID, "Who is the recipient? (name or title)")
	case StateRecipientName:
		s.Fields[FieldRecipientName] = text
		s.State = StateRecipientEmail
		e.reply(chatID, "What's the recipient's email address?")
	case StateRecipientEmail:
		s.Fields[FieldRecipient] = text
		s.State = StateAttachOrSend
		e.Send(chatID, Reply{
			Text:     "Do you want to send now or add attachment(s)?",
			Keyboard: [][]string{{"Send now"}, {"Add attachment(s)"}},
		})
	}
}

// positionQuestion tailors the position prompt to the stated role.
func positionQuestion(role string) string {
	role = strings.ToLower(role)
	switch {
	case strings.Contains(role, "student"):
		return "What's your field of study? (e.g., Computer Science, Engineering)"
	case strings.Contains(role, "dev"):
		return "What's your position? (e.g., Frontend Developer, Backend Developer)"
	default:
		return "What's your position?"
	}
}

func (e *Engine) attachOrSend(ctx context.Context, chatID int64, s *Session, ev Event) {
	if ev.Kind != EventText {
		return
	}
	choice := strings.ToLower(strings.TrimSpace(ev.Text))
	if strings.Contains(choice, "attach") {
		s.Attachments = nil
		s.State = StateWaitAttachments
		e.reply(chatID, attachInstructions)
		return
	}
	e.ensureDraft(ctx, chatID, s)
	e.dispatch(ctx, chatID, s)
}

// finishAttachments handles /done: drafts the email if that has not
// happened yet and shows the pre-send summary.
func (e *Engine) finishAttachments(ctx context.Context, chatID int64, s *Session) {
	draft := e.ensureDraft(ctx, chatID, s)

	attachmentText := "No attachments"
	if n := len(s.Attachments); n > 0 {
		attachmentText = fmt.Sprintf("📎 %d attachment(s)", n)
	}

	preview := fmt.Sprintf("📝 Email Summary:\n\nTo: %s\nSubject: %s\nAttachments: %s\n\nMessage Preview:\n%s...\n\nReady to send?",
		s.Fields[FieldRecipient], draft.Subject, attachmentText, truncate(draft.Body, 200))

	s.State = StateConfirm
	e.Send(chatID, Reply{Text: preview, Keyboard: [][]string{{"✅ Send Now"}, {"❌ Cancel"}}})
}

func (e *Engine) confirm(ctx context.Context, chatID int64, s *Session, ev Event) {
	if ev.Kind != EventText {
		return
	}
	choice := strings.ToLower(strings.TrimSpace(ev.Text))
	if strings.Contains(choice, "send") || strings.Contains(choice, "✅") {
		e.dispatch(ctx, chatID, s)
		return
	}
	e.Store.Clear(chatID)
	e.reply(chatID, "❌ Email canceled.")
}

// truncate cuts s to at most n runes, never splitting a multi-byte
// character; Telegram rejects messages carrying invalid UTF-8.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
