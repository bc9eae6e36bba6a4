package conv

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchMissingDraftAbortsSession(t *testing.T) {
	e, out, _, _, sender := newTestEngine()
	fillFields(t, e)
	s, _ := e.Store.Get(testChat)
	s.State = StateConfirm
	out.reset()

	e.Handle(context.Background(), testChat, textEvent("✅ Send Now"))

	assert.Equal(t, []string{"⚠️ Email content is missing. Let's start over."}, out.texts())
	assert.Zero(t, sender.calls)
	_, ok := e.Store.Get(testChat)
	assert.False(t, ok)
}

func TestDispatchBadCredentialsMapped(t *testing.T) {
	e, out, _, _, sender := newTestEngine()
	sender.err = &SendError{Message: "(535, b'BadCredentials r12-20020a05 - gsmtp')"}
	fillFields(t, e)
	out.reset()

	e.Handle(context.Background(), testChat, textEvent("Send now"))

	assert.Equal(t, "❌ Email login failed. Please check GMAIL_USER and GMAIL_PASS in server config.", out.last().Text)
	assert.NotContains(t, strings.Join(out.texts(), "\n"), "535")
	_, ok := e.Store.Get(testChat)
	assert.False(t, ok)
}

func TestDispatchBackendErrorSurfacedRaw(t *testing.T) {
	e, out, _, _, sender := newTestEngine()
	sender.err = &SendError{Message: "recipient rejected"}
	fillFields(t, e)
	out.reset()

	e.Handle(context.Background(), testChat, textEvent("Send now"))

	assert.Equal(t, "❌ Failed: recipient rejected", out.last().Text)
}

func TestDispatchTransportErrorTruncated(t *testing.T) {
	e, out, _, _, sender := newTestEngine()
	long := strings.Repeat("x", 150)
	sender.err = errors.New(long)
	fillFields(t, e)
	out.reset()

	e.Handle(context.Background(), testChat, textEvent("Send now"))

	assert.Equal(t, "❌ Error: "+long[:100]+"...", out.last().Text)
	_, ok := e.Store.Get(testChat)
	assert.False(t, ok)
}

func TestDispatchTransportErrorKeepsValidUTF8(t *testing.T) {
	e, out, _, _, sender := newTestEngine()
	sender.err = errors.New(strings.Repeat("я", 120))
	fillFields(t, e)
	out.reset()

	e.Handle(context.Background(), testChat, textEvent("Send now"))

	got := out.last().Text
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "❌ Error: "+strings.Repeat("я", 100)+"...", got)
}

func TestDispatchFallsBackToRecipientField(t *testing.T) {
	e, out, _, _, sender := newTestEngine()
	sender.result = SendResult{}
	fillFields(t, e)
	out.reset()

	e.Handle(context.Background(), testChat, textEvent("Send now"))

	require.Equal(t, 1, sender.calls)
	assert.Equal(t, "✅ Email sent to alex@example.com successfully!", out.last().Text)
}

func TestDispatchTerminatesSessionOnFailureToo(t *testing.T) {
	e, _, _, _, sender := newTestEngine()
	sender.err = &SendError{Message: "relay down"}
	fillFields(t, e)

	e.Handle(context.Background(), testChat, textEvent("Send now"))
	require.Equal(t, 1, sender.calls)

	// A second confirmation-like event finds no session at all.
	e.Handle(context.Background(), testChat, textEvent("Send now"))
	assert.Equal(t, 1, sender.calls)
}
