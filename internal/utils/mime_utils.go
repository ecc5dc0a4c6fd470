package utils

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ParsedMessage holds the parts of an RFC 5322 message the pipeline reads
type ParsedMessage struct {
	MessageID string
	Subject   string
	FromName  string
	FromAddr  string
	Date      time.Time
	TextBody  string
	HTMLBody  string
}

// ParseMessage decodes a raw message, collecting the first text/plain and
// text/html inline parts. Attachments are skipped. A message that is not
// valid MIME is returned with the raw bytes as its text body.
func ParseMessage(raw []byte) *ParsedMessage {
	parsed := &ParsedMessage{}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		parsed.TextBody = string(raw)
		return parsed
	}
	defer mr.Close()

	parsed.Subject, _ = mr.Header.Subject()
	parsed.MessageID, _ = mr.Header.MessageID()
	parsed.Date, _ = mr.Header.Date()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		parsed.FromName = from[0].Name
		parsed.FromAddr = from[0].Address
	} else {
		parsed.FromAddr = strings.TrimSpace(mr.Header.Get("From"))
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType == "" {
			contentType = "text/plain"
		}
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && parsed.TextBody == "":
			parsed.TextBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && parsed.HTMLBody == "":
			parsed.HTMLBody = string(body)
		}
	}

	return parsed
}
