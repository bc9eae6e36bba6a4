package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"email-genie/conv"
)

// apiClient talks to the email API service. It implements both
// conv.Generator and conv.Sender.
type apiClient struct {
	base   string
	client *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(base, "/"),
		client: http.DefaultClient,
	}
}

func (c *apiClient) Generate(ctx context.Context, req conv.DraftRequest) (conv.Draft, error) {
	vals := url.Values{
		"role":           {req.Role},
		"tone":           {req.Tone},
		"topic":          {req.Topic},
		"subject":        {req.Subject},
		"name":           {req.Name},
		"position":       {req.Position},
		"recipient_name": {req.RecipientName},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/generate-email", strings.NewReader(vals.Encode()))
	if err != nil {
		return conv.Draft{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return conv.Draft{}, fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return conv.Draft{}, fmt.Errorf("API error %d: %s", resp.StatusCode, apiError(body))
	}

	var result struct {
		Subject string `json:"subject"`
		Email   string `json:"email"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return conv.Draft{}, fmt.Errorf("generate decode: %w", err)
	}
	return conv.Draft{Subject: result.Subject, Body: result.Email}, nil
}

func (c *apiClient) Send(ctx context.Context, email conv.OutgoingEmail) (conv.SendResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	_ = mw.WriteField("recipient", email.Recipient)
	_ = mw.WriteField("subject", email.Subject)
	_ = mw.WriteField("body", email.Body)

	for _, att := range email.Attachments {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="attachments"; filename=%q`, att.Filename))
		if att.MIME != "" {
			hdr.Set("Content-Type", att.MIME)
		}
		part, err := mw.CreatePart(hdr)
		if err != nil {
			return conv.SendResult{}, err
		}
		if _, err := part.Write(att.Content); err != nil {
			return conv.SendResult{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return conv.SendResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/send-email", &buf)
	if err != nil {
		return conv.SendResult{}, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return conv.SendResult{}, fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return conv.SendResult{}, &conv.SendError{Message: apiError(body)}
	}

	var result struct {
		Status string `json:"status"`
		To     string `json:"to"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return conv.SendResult{}, fmt.Errorf("send decode: %w", err)
	}
	return conv.SendResult{To: result.To}, nil
}

// apiError extracts the {"error": ...} payload, falling back to the raw body.
func apiError(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
