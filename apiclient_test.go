package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-genie/conv"
)

func TestAPIClientGenerate(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/generate-email", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"subject":"Regarding: budget","email":"Dear Alex,\n\nHello."}`)
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL + "/")
	draft, err := c.Generate(context.Background(), conv.DraftRequest{
		Role: "manager", Tone: "formal", Topic: "budget",
		Subject: "auto", Name: "Sam", Position: "Team Lead",
		RecipientName: "Dear Alex",
	})

	require.NoError(t, err)
	assert.Equal(t, conv.Draft{Subject: "Regarding: budget", Body: "Dear Alex,\n\nHello."}, draft)
	assert.Equal(t, map[string]string{
		"role": "manager", "tone": "formal", "topic": "budget",
		"subject": "auto", "name": "Sam", "position": "Team Lead",
		"recipient_name": "Dear Alex",
	}, gotForm)
}

func TestAPIClientGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"Missing Azure OpenAI credentials"}`)
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL)
	_, err := c.Generate(context.Background(), conv.DraftRequest{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error 500")
	assert.Contains(t, err.Error(), "Missing Azure OpenAI credentials")
}

func TestAPIClientSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/send-email", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(32<<20))
		assert.Equal(t, "alex@example.com", r.PostForm.Get("recipient"))
		assert.Equal(t, "Hello", r.PostForm.Get("subject"))
		assert.Equal(t, "Body text", r.PostForm.Get("body"))

		files := r.MultipartForm.File["attachments"]
		require.Len(t, files, 1)
		assert.Equal(t, "report.pdf", files[0].Filename)
		assert.Equal(t, "application/pdf", files[0].Header.Get("Content-Type"))

		f, err := files[0].Open()
		require.NoError(t, err)
		defer f.Close()
		content, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, []byte("%PDF"), content)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"sent","to":"alex@example.com"}`)
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL)
	res, err := c.Send(context.Background(), conv.OutgoingEmail{
		Recipient: "alex@example.com",
		Subject:   "Hello",
		Body:      "Body text",
		Attachments: []conv.Attachment{
			{Filename: "report.pdf", Content: []byte("%PDF"), MIME: "application/pdf"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, conv.SendResult{To: "alex@example.com"}, res)
}

func TestAPIClientSendBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"smtp auth: 535 BadCredentials"}`)
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL)
	_, err := c.Send(context.Background(), conv.OutgoingEmail{Recipient: "x@y.z"})

	var sendErr *conv.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "smtp auth: 535 BadCredentials", sendErr.Message)
}

func TestAPIClientSendTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse the connection

	c := newAPIClient(srv.URL)
	_, err := c.Send(context.Background(), conv.OutgoingEmail{Recipient: "x@y.z"})

	require.Error(t, err)
	var sendErr *conv.SendError
	assert.False(t, errors.As(err, &sendErr))
}

func TestAPIErrorFallsBackToRawBody(t *testing.T) {
	assert.Equal(t, "boom", apiError([]byte(`{"error":"boom"}`)))
	assert.Equal(t, "not json", apiError([]byte("  not json  ")))
}
