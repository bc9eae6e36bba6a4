package conv

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"path/filepath"
	"time"
)

// collectAttachment handles one document or photo event while the session
// waits for attachments. The session stays in StateWaitAttachments no
// matter the outcome.
func (e *Engine) collectAttachment(ctx context.Context, chatID int64, s *Session, ev Event) {
	switch ev.Kind {
	case EventDocument:
		doc := ev.Document
		if doc == nil {
			return
		}
		if doc.Size > maxAttachmentSize {
			e.reply(chatID, "⚠️ File is too large (max 10MB)")
			return
		}

		content, ok := e.fetchWithRetry(ctx, chatID, *doc)
		if !ok {
			return
		}

		filename := doc.Name
		if filename == "" {
			filename = "file_" + doc.UniqueID
		}
		mimeType := mime.TypeByExtension(filepath.Ext(filename))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		s.Attachments = append(s.Attachments, Attachment{Filename: filename, Content: content, MIME: mimeType})
		e.reply(chatID, fmt.Sprintf("✅ Got file: %s\n\nSend more attachments or type /done when finished", filename))

	case EventPhoto:
		if len(ev.Photos) == 0 {
			return
		}
		photo := largestRendition(ev.Photos)

		content, ok := e.fetchWithRetry(ctx, chatID, photo)
		if !ok {
			return
		}

		s.Attachments = append(s.Attachments, Attachment{
			Filename: "photo_" + photo.UniqueID + ".jpg",
			Content:  content,
			MIME:     "image/jpeg",
		})
		e.reply(chatID, "✅ Got photo\n\nSend more attachments or type /done when finished")
	}
}

// fetchWithRetry downloads ref, retrying transient timeouts up to
// fetchAttempts total attempts. It reports failures to the user itself;
// ok tells the caller whether content was retrieved.
func (e *Engine) fetchWithRetry(ctx context.Context, chatID int64, ref FileRef) (content []byte, ok bool) {
	sleep := e.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	for attempt := 1; ; attempt++ {
		content, err := e.Files.Fetch(ctx, ref)
		if err == nil {
			return content, true
		}

		if !isTimeout(err) {
			e.reply(chatID, "⚠️ Error processing attachment: "+err.Error())
			return nil, false
		}
		if attempt >= fetchAttempts {
			e.reply(chatID, "⚠️ Download timed out. Try a smaller file or better connection.")
			return nil, false
		}

		e.reply(chatID, fmt.Sprintf("⚠️ Download timed out. Retrying (%d/%d)...", attempt, fetchAttempts))
		if e.RetryDelay > 0 {
			sleep(e.RetryDelay)
		}
	}
}

// isTimeout reports whether err looks like a transient transport timeout,
// without depending on a concrete error type.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// largestRendition picks the biggest of the photo sizes on offer.
func largestRendition(photos []FileRef) FileRef {
	best := photos[0]
	for _, p := range photos[1:] {
		if p.Size > best.Size {
			best = p
		}
	}
	return best
}
