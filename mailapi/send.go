package mailapi

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net"
	"net/smtp"
	"path/filepath"
	"time"

	"github.com/emersion/go-message/mail"
)

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
}

const smtpDialTimeout = 30 * time.Second

// Part is one attachment of an outgoing message.
type Part struct {
	Filename string
	Content  []byte
	MIME     string
}

// buildMessage assembles a full RFC 5322 message, multipart when
// attachments are present.
func buildMessage(from, to, subject, body string, parts []Part) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})

	toList, err := mail.ParseAddressList(to)
	if err != nil {
		toList = []*mail.Address{{Address: to}}
	}
	h.SetAddressList("To", toList)
	h.SetSubject(subject)

	var buf bytes.Buffer

	if len(parts) == 0 {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("create message: %w", err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	var ih mail.InlineHeader
	ih.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	iw, err := mw.CreateSingleInline(ih)
	if err != nil {
		return nil, fmt.Errorf("create body part: %w", err)
	}
	if _, err := io.WriteString(iw, body); err != nil {
		return nil, err
	}
	if err := iw.Close(); err != nil {
		return nil, err
	}

	for _, p := range parts {
		var ah mail.AttachmentHeader
		ah.SetFilename(p.Filename)
		ah.Set("Content-Type", partType(p))
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("create attachment %s: %w", p.Filename, err)
		}
		if _, err := aw.Write(p.Content); err != nil {
			return nil, err
		}
		if err := aw.Close(); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// partType prefers the declared type, then the filename extension.
func partType(p Part) string {
	if p.MIME != "" {
		return p.MIME
	}
	if t := mime.TypeByExtension(filepath.Ext(p.Filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// sendMail delivers the message over implicit TLS (port 465 style).
func sendMail(cfg SMTPConfig, recipient string, msg []byte) error {
	host := cfg.Host
	if host == "" {
		host = "smtp.gmail.com"
	}
	port := cfg.Port
	if port == 0 {
		port = 465
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: smtpDialTimeout}, "tcp", addr,
		&tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("smtp tls dial: %w", err)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	if err := c.Auth(smtp.PlainAuth("", cfg.User, cfg.Pass, host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(cfg.User); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(recipient); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	return c.Quit()
}
