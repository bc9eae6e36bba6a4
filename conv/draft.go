package conv

import (
	"context"
	"strings"
)

// ensureDraft generates the subject/body pair exactly once per session.
// Failures are folded into a placeholder draft instead of being raised;
// the rest of the flow treats that placeholder like any other draft.
func (e *Engine) ensureDraft(ctx context.Context, chatID int64, s *Session) Draft {
	if s.Draft != nil {
		return *s.Draft
	}

	e.reply(chatID, "⏳ Generating your email, please wait...")

	timeout := e.GenerateTimeout
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d, err := e.Gen.Generate(ctx, draftRequest(s))
	if err != nil {
		d = Draft{Body: "⚠️ Failed to generate email: " + err.Error()}
	}
	s.Draft = &d
	return d
}

// draftRequest builds the generation payload from the collected fields.
// A student's position is rendered as their field of study.
func draftRequest(s *Session) DraftRequest {
	role := s.Fields[FieldRole]
	position := s.Fields[FieldPosition]
	if strings.Contains(strings.ToLower(role), "student") {
		position = "Student of " + position
	}

	subject, ok := s.Fields[FieldSubject]
	if !ok {
		subject = "auto"
	}
	recipientName, ok := s.Fields[FieldRecipientName]
	if !ok {
		recipientName = "Dear Sir/Madam"
	}

	return DraftRequest{
		Role:          role,
		Tone:          s.Fields[FieldTone],
		Topic:         s.Fields[FieldTopic],
		Subject:       subject,
		Name:          s.Fields[FieldName],
		Position:      position,
		RecipientName: recipientName,
	}
}
