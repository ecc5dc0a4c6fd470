package core

import (
	"context"
)

// MailProvider is the capability a mailbox backend offers to the pipeline
type MailProvider interface {
	// FetchEmails returns the inbox messages received within maxAgeDays
	FetchEmails(ctx context.Context, conn *ConnectionConfig, maxAgeDays int) ([]*Email, error)

	// MoveToSpamFolder relocates a message to the account's spam folder
	MoveToSpamFolder(ctx context.Context, conn *ConnectionConfig, emailID string) error

	// TestConnection verifies the credentials and reachability of the mailbox
	TestConnection(ctx context.Context, conn *ConnectionConfig) error
}

// AIBackend defines the interface for interacting with LLM services
type AIBackend interface {
	// SendMessage sends a prompt and returns the raw model output
	SendMessage(ctx context.Context, prompt string, modelID string) (string, error)

	// ListModels returns the model identifiers the backend can serve
	ListModels(ctx context.Context) ([]string, error)

	// GenerateEmbedding returns the embedding vector for text
	GenerateEmbedding(ctx context.Context, text string, modelID string) ([]float32, error)
}

// DedupStore is the persisted set of checksums of already classified emails
type DedupStore interface {
	// Has reports whether the checksum was recorded
	Has(ctx context.Context, checksum string) (bool, error)

	// Add records a checksum; it must be durable when it returns
	Add(ctx context.Context, checksum string) error

	// Clear removes every checksum
	Clear(ctx context.Context) error
}

// VectorStore persists similarity records with a fixed embedding width
type VectorStore interface {
	// Dimension returns the schema width, or 0 when storage is uninitialised
	Dimension(ctx context.Context) (int, error)

	// EnsureSchema creates storage for dim-wide vectors. It fails with a
	// SchemaMismatchError if storage already exists with another width.
	EnsureSchema(ctx context.Context, dim int) error

	// Reset drops all records and recreates storage for dim-wide vectors
	Reset(ctx context.Context, dim int) error

	// Insert stores a record; mismatched widths fail with SchemaMismatchError
	Insert(ctx context.Context, record *SimilarityRecord) error

	// Search returns up to k records nearest to vector, optionally limited to one account
	Search(ctx context.Context, vector []float32, k int, accountID string) ([]SimilarityMatch, error)

	// SetUserValidation updates the human verdict of every record for emailID
	SetUserValidation(ctx context.Context, emailID string, validation UserValidation) (int, error)

	// Count returns the number of stored records
	Count(ctx context.Context) (int, error)

	// Clear deletes every record while keeping the schema
	Clear(ctx context.Context) error

	Close() error
}

// EventPublisher receives run events. Publish must not block the caller.
type EventPublisher interface {
	Publish(event Event)
}
