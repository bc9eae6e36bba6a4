// Package mailapi exposes the email generation and dispatch service:
// draft generation through Azure OpenAI and delivery over SMTP.
package mailapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	Azure AzureConfig
	SMTP  SMTPConfig
}

type (
	completionFn func(ctx context.Context, cfg AzureConfig, prompt string) (string, error)
	sendFn       func(cfg SMTPConfig, recipient string, msg []byte) error
)

type Server struct {
	cfg  Config
	gen  completionFn
	send sendFn
}

func NewServer(cfg Config) *Server {
	return &Server{
		cfg:  cfg,
		gen:  chatCompletion,
		send: sendMail,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/generate-email", s.handleGenerate)
	mux.HandleFunc("/send-email", s.handleSend)
	return logRequests(mux)
}

// logRequests tags each request with an id and logs its duration.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s %s (%s)", id, r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"service":   "email-api",
		"endpoints": []string{"/health", "/generate-email", "/send-email"},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"azure": s.cfg.Azure.Key != "" && s.cfg.Azure.Endpoint != "" && s.cfg.Azure.Deployment != "",
		"smtp":  s.cfg.SMTP.User != "" && s.cfg.SMTP.Pass != "",
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload("invalid form data"))
		return
	}

	az := s.cfg.Azure
	if az.Key == "" || az.Endpoint == "" || az.Deployment == "" {
		writeJSON(w, http.StatusInternalServerError, errorPayload("Missing Azure OpenAI credentials"))
		return
	}

	role := r.PostForm.Get("role")
	tone := r.PostForm.Get("tone")
	topic := r.PostForm.Get("topic")
	name := r.PostForm.Get("name")
	position := r.PostForm.Get("position")
	subject := strings.TrimSpace(formValueDefault(r, "subject", "auto"))
	recipientName := formValueDefault(r, "recipient_name", "Dear Sir/Madam")

	if strings.EqualFold(subject, "auto") {
		subject = autoSubject(topic, tone)
	}

	ctx, cancel := context.WithTimeout(r.Context(), generateTimeout)
	defer cancel()

	body, err := s.gen(ctx, az, buildPrompt(role, tone, topic, name, position, recipientName, subject))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
		return
	}
	if body == "" {
		writeJSON(w, http.StatusBadGateway, errorPayload("Empty response from Azure OpenAI"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"subject": subject,
		"email":   body,
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload("invalid multipart form"))
		return
	}

	smtpCfg := s.cfg.SMTP
	if smtpCfg.User == "" || smtpCfg.Pass == "" {
		writeJSON(w, http.StatusInternalServerError, errorPayload("Missing GMAIL_USER/GMAIL_PASS"))
		return
	}

	recipient := r.PostForm.Get("recipient")
	if recipient == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload("recipient is required"))
		return
	}
	subject := r.PostForm.Get("subject")
	body := r.PostForm.Get("body")

	var parts []Part
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["attachments"] {
			f, err := fh.Open()
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorPayload("cannot read attachment "+fh.Filename))
				return
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorPayload("cannot read attachment "+fh.Filename))
				return
			}
			parts = append(parts, Part{
				Filename: fh.Filename,
				Content:  content,
				MIME:     fh.Header.Get("Content-Type"),
			})
		}
	}

	msg, err := buildMessage(smtpCfg.User, recipient, subject, body, parts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
		return
	}

	if err := s.send(smtpCfg, recipient, msg); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "sent",
		"to":     recipient,
	})
}

// formValueDefault returns def when the field is absent from the form.
// An explicitly posted empty value stays empty.
func formValueDefault(r *http.Request, key, def string) string {
	if r.PostForm.Has(key) {
		return r.PostForm.Get(key)
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func errorPayload(msg string) map[string]string {
	return map[string]string{"error": msg}
}
