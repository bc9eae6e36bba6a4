package mailapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type AzureConfig struct {
	Key        string
	Endpoint   string
	Deployment string
	APIVersion string
}

const (
	generateTimeout   = 30 * time.Second
	defaultAPIVersion = "2023-05-15"

	systemPrompt = "You are a professional email assistant."
)

// autoSubject derives a subject line from the topic when the caller left
// subject selection to the service.
func autoSubject(topic, tone string) string {
	if strings.EqualFold(strings.TrimSpace(tone), "formal") {
		return "Regarding: " + topic
	}
	return "Let's talk about " + topic
}

func buildPrompt(role, tone, topic, name, position, recipientName, subject string) string {
	return fmt.Sprintf("Write a %s email from a %s named %s (%s) about: %s.\n"+
		"Address it to %q.\nSubject: %q.",
		tone, role, name, position, topic, recipientName, subject)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// chatCompletion performs a non-streaming chat completion against an
// Azure OpenAI deployment.
func chatCompletion(ctx context.Context, cfg AzureConfig, prompt string) (string, error) {
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	endpoint := cfg.Endpoint
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	apiURL := fmt.Sprintf("%sopenai/deployments/%s/chat/completions?api-version=%s",
		endpoint, cfg.Deployment, apiVersion)

	reqBody := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   800,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", cfg.Key)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		// Azure reports failures as {"error": {...}}; fall back to the
		// raw body when the payload is something else entirely.
		var failure chatResponse
		if err := json.Unmarshal(body, &failure); err == nil && failure.Error != nil {
			return "", fmt.Errorf("Azure OpenAI: %s", failure.Error.Message)
		}
		return "", fmt.Errorf("Azure OpenAI: HTTP %d: %s", resp.StatusCode, body)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("chat decode: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("Azure OpenAI: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("Azure OpenAI: no choices in response")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}
