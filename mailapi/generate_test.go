package mailapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAzure = AzureConfig{
	Key:        "key",
	Endpoint:   "https://example.openai.azure.com",
	Deployment: "gpt-test",
}

func postGenerate(t *testing.T, s *Server, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/generate-email", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.handleGenerate(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAutoSubject(t *testing.T) {
	assert.Equal(t, "Regarding: budget", autoSubject("budget", "formal"))
	assert.Equal(t, "Regarding: budget", autoSubject("budget", " Formal "))
	assert.Equal(t, "Let's talk about lunch", autoSubject("lunch", "casual"))
}

func TestBuildPrompt(t *testing.T) {
	p := buildPrompt("manager", "formal", "budget", "Sam", "Team Lead", "Dear Alex", "Regarding: budget")

	assert.Contains(t, p, "Write a formal email from a manager named Sam (Team Lead) about: budget.")
	assert.Contains(t, p, `Address it to "Dear Alex".`)
	assert.Contains(t, p, `Subject: "Regarding: budget".`)
}

func TestGenerateMissingCredentials(t *testing.T) {
	s := NewServer(Config{})

	rec := postGenerate(t, s, url.Values{"topic": {"x"}})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Missing Azure OpenAI credentials", decodeBody(t, rec)["error"])
}

func TestGenerateResolvesAutoSubject(t *testing.T) {
	s := NewServer(Config{Azure: testAzure})
	var gotPrompt string
	s.gen = func(_ context.Context, _ AzureConfig, prompt string) (string, error) {
		gotPrompt = prompt
		return "Dear Alex,\n\nBody.", nil
	}

	rec := postGenerate(t, s, url.Values{
		"role": {"manager"}, "tone": {"formal"}, "topic": {"budget"},
		"name": {"Sam"}, "position": {"Team Lead"},
		"subject": {"auto"}, "recipient_name": {"Dear Alex"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Regarding: budget", body["subject"])
	assert.Equal(t, "Dear Alex,\n\nBody.", body["email"])
	assert.Contains(t, gotPrompt, `Subject: "Regarding: budget".`)
}

func TestGenerateKeepsExplicitSubject(t *testing.T) {
	s := NewServer(Config{Azure: testAzure})
	s.gen = func(_ context.Context, _ AzureConfig, _ string) (string, error) {
		return "Body.", nil
	}

	rec := postGenerate(t, s, url.Values{
		"topic": {"budget"}, "tone": {"formal"}, "subject": {"  Q3 numbers  "},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Q3 numbers", decodeBody(t, rec)["subject"])
}

func TestGenerateDefaultsOmittedFields(t *testing.T) {
	s := NewServer(Config{Azure: testAzure})
	var gotPrompt string
	s.gen = func(_ context.Context, _ AzureConfig, prompt string) (string, error) {
		gotPrompt = prompt
		return "Body.", nil
	}

	rec := postGenerate(t, s, url.Values{"topic": {"budget"}, "tone": {"casual"}})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Let's talk about budget", decodeBody(t, rec)["subject"])
	assert.Contains(t, gotPrompt, `Address it to "Dear Sir/Madam".`)
}

func TestGenerateUpstreamError(t *testing.T) {
	s := NewServer(Config{Azure: testAzure})
	s.gen = func(_ context.Context, _ AzureConfig, _ string) (string, error) {
		return "", errors.New("Azure OpenAI: quota exceeded")
	}

	rec := postGenerate(t, s, url.Values{"topic": {"x"}})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Azure OpenAI: quota exceeded", decodeBody(t, rec)["error"])
}

func TestGenerateEmptyResponseIsBadGateway(t *testing.T) {
	s := NewServer(Config{Azure: testAzure})
	s.gen = func(_ context.Context, _ AzureConfig, _ string) (string, error) {
		return "", nil
	}

	rec := postGenerate(t, s, url.Values{"topic": {"x"}})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Empty response from Azure OpenAI", decodeBody(t, rec)["error"])
}

func TestGenerateRejectsGet(t *testing.T) {
	s := NewServer(Config{Azure: testAzure})

	req := httptest.NewRequest(http.MethodGet, "/generate-email", nil)
	rec := httptest.NewRecorder()
	s.handleGenerate(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt-test/chat/completions", r.URL.Path)
		assert.Equal(t, "2023-05-15", r.URL.Query().Get("api-version"))
		assert.Equal(t, "key", r.Header.Get("api-key"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.Equal(t, "write it", req.Messages[1].Content)

		io.WriteString(w, `{"choices":[{"message":{"content":"  Dear Alex,\n\nBody.  "}}]}`)
	}))
	defer srv.Close()

	cfg := AzureConfig{Key: "key", Endpoint: srv.URL, Deployment: "gpt-test"}
	got, err := chatCompletion(context.Background(), cfg, "write it")

	require.NoError(t, err)
	assert.Equal(t, "Dear Alex,\n\nBody.", got)
}

func TestChatCompletionErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"invalid api key"}}`)
	}))
	defer srv.Close()

	cfg := AzureConfig{Key: "bad", Endpoint: srv.URL, Deployment: "gpt-test"}
	_, err := chatCompletion(context.Background(), cfg, "x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestChatCompletionNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "<html>upstream unavailable</html>")
	}))
	defer srv.Close()

	cfg := AzureConfig{Key: "key", Endpoint: srv.URL, Deployment: "gpt-test"}
	_, err := chatCompletion(context.Background(), cfg, "x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
	assert.NotContains(t, err.Error(), "chat decode")
}

func TestChatCompletionNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	cfg := AzureConfig{Key: "key", Endpoint: srv.URL, Deployment: "gpt-test"}
	_, err := chatCompletion(context.Background(), cfg, "x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
