package conv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// dispatch sends the finished email. It runs at most once per session:
// whatever the outcome, the session is discarded afterwards.
func (e *Engine) dispatch(ctx context.Context, chatID int64, s *Session) {
	defer e.Store.Clear(chatID)

	recipient, haveRecipient := s.Fields[FieldRecipient]
	if s.Draft == nil || !haveRecipient {
		e.reply(chatID, "⚠️ Email content is missing. Let's start over.")
		return
	}

	e.reply(chatID, "📤 Sending email...")

	timeout := e.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := e.Sender.Send(ctx, OutgoingEmail{
		Recipient:   recipient,
		Subject:     s.Draft.Subject,
		Body:        s.Draft.Body,
		Attachments: s.Attachments,
	})
	if err != nil {
		var se *SendError
		if errors.As(err, &se) {
			if strings.Contains(se.Message, "BadCredentials") {
				e.reply(chatID, "❌ Email login failed. Please check GMAIL_USER and GMAIL_PASS in server config.")
			} else {
				e.reply(chatID, "❌ Failed: "+se.Message)
			}
			return
		}
		e.reply(chatID, fmt.Sprintf("❌ Error: %s...", truncate(err.Error(), 100)))
		return
	}

	to := res.To
	if to == "" {
		to = recipient
	}
	e.reply(chatID, fmt.Sprintf("✅ Email sent to %s successfully!", to))
}
