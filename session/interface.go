package session

import "context"

// Store persists conversation history records.
type Store interface {
	// Create stores a new record with Version set to 1.
	// Returns ErrVersionConflict if a live record already exists for the key.
	Create(ctx context.Context, rec *Record) error

	// Get retrieves a record by key.
	// Returns nil if the record is not found or has expired (not an error).
	Get(ctx context.Context, key Key) (*Record, error)

	// Update replaces an existing record with optimistic locking.
	// Verifies the Version matches the stored version, increments Version,
	// updates UpdatedAt and persists the record.
	// Returns ErrVersionConflict if the version does not match.
	// Returns ErrNotFound if the record does not exist.
	Update(ctx context.Context, rec *Record) error

	// Delete deletes a record by key.
	Delete(ctx context.Context, key Key) error

	// Close closes the store and releases any resources.
	Close() error
}
