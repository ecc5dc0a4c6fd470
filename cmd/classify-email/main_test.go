package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmailFromRaw(t *testing.T) {
	raw := []byte("From: Alice <alice@example.com>\r\n" +
		"Subject: Quarterly numbers\r\n" +
		"Message-ID: <q3@example.com>\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
		"\r\n" +
		"See attached.\r\n")

	email := emailFromRaw(raw, "work")
	assert.Equal(t, "q3@example.com", email.ID)
	assert.Equal(t, "work", email.AccountID)
	assert.Equal(t, "alice@example.com", email.FromAddr)
	assert.Equal(t, "Alice", email.FromName)
	assert.Equal(t, "Quarterly numbers", email.Subject)
	assert.Contains(t, email.Body, "See attached.")
	assert.Equal(t, 2006, email.ReceivedAt.Year())
}

func TestEmailFromRawWithoutMessageID(t *testing.T) {
	email := emailFromRaw([]byte("Subject: hi\r\n\r\nbody\r\n"), "")
	assert.NotEmpty(t, email.ID)
	assert.Equal(t, email.ID, email.ProviderID)
	assert.False(t, email.ReceivedAt.IsZero())
}
