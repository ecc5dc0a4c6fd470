package utils

import (
	"strings"
	"testing"
)

const multipartMessage = "From: \"Prize Desk\" <prizes@lottery.example>\r\n" +
	"To: me@example.com\r\n" +
	"Subject: You have won\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"Message-ID: <abc123@lottery.example>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Claim your prize now.\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Claim your <b>prize</b> now.</p>\r\n" +
	"--b1--\r\n"

func TestParseMessageMultipart(t *testing.T) {
	msg := ParseMessage([]byte(multipartMessage))

	if msg.Subject != "You have won" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.FromName != "Prize Desk" || msg.FromAddr != "prizes@lottery.example" {
		t.Errorf("From = %q <%q>", msg.FromName, msg.FromAddr)
	}
	if msg.MessageID != "abc123@lottery.example" {
		t.Errorf("MessageID = %q", msg.MessageID)
	}
	if msg.Date.IsZero() {
		t.Error("Date not parsed")
	}
	if !strings.Contains(msg.TextBody, "Claim your prize now.") {
		t.Errorf("TextBody = %q", msg.TextBody)
	}
	if !strings.Contains(msg.HTMLBody, "<b>prize</b>") {
		t.Errorf("HTMLBody = %q", msg.HTMLBody)
	}
}

func TestParseMessagePlain(t *testing.T) {
	raw := "From: alice@example.com\r\nSubject: Lunch\r\n\r\nSee you at noon.\r\n"
	msg := ParseMessage([]byte(raw))

	if msg.FromAddr != "alice@example.com" {
		t.Errorf("FromAddr = %q", msg.FromAddr)
	}
	if strings.TrimSpace(msg.TextBody) != "See you at noon." {
		t.Errorf("TextBody = %q", msg.TextBody)
	}
	if msg.HTMLBody != "" {
		t.Errorf("HTMLBody = %q", msg.HTMLBody)
	}
}
