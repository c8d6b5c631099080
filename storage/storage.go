// Package storage provides the subscription registry and delivery log
// collaborators behind generic interfaces, with in-memory and SQLite
// implementations.
package storage

import (
	"context"
	"errors"
	"time"

	webpush "github.com/maicoln90cpu/boardmd-sub001"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("record not found")

// Record represents a stored subscription with metadata.
type Record struct {
	ID           string                `json:"id"`
	UserID       string                `json:"user_id,omitempty"`
	DeviceName   string                `json:"device_name,omitempty"`
	Subscription *webpush.Subscription `json:"subscription"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// Target converts the record into a delivery target.
func (r *Record) Target() webpush.Target {
	return webpush.Target{
		ID:           r.ID,
		DeviceName:   r.DeviceName,
		Subscription: r.Subscription,
	}
}

// OutcomeRecord is one persisted delivery outcome.
type OutcomeRecord struct {
	ID        string                   `json:"id"`
	Outcome   *webpush.DeliveryOutcome `json:"outcome"`
	CreatedAt time.Time                `json:"created_at"`
}

// DeliveryLog records delivery outcomes for operational inspection.
type DeliveryLog interface {
	// LogOutcome appends one delivery outcome.
	LogOutcome(ctx context.Context, outcome *webpush.DeliveryOutcome) error

	// ListOutcomes returns outcomes, newest first, with pagination.
	ListOutcomes(ctx context.Context, limit, offset int) ([]*OutcomeRecord, error)
}

// Storage defines the registry and delivery-log boundary the push engine
// depends on. The engine reads and deletes subscriptions; creation belongs
// to the registration flow.
type Storage interface {
	DeliveryLog

	// Save stores or updates a subscription.
	Save(ctx context.Context, record *Record) error

	// Get retrieves a subscription by ID.
	Get(ctx context.Context, id string) (*Record, error)

	// GetByEndpoint retrieves a subscription by its endpoint URL.
	GetByEndpoint(ctx context.Context, endpoint string) (*Record, error)

	// GetByUserID retrieves all subscriptions for a user.
	GetByUserID(ctx context.Context, userID string) ([]*Record, error)

	// Delete removes a subscription by ID.
	Delete(ctx context.Context, id string) error

	// DeleteByEndpoint removes a subscription by its endpoint URL.
	DeleteByEndpoint(ctx context.Context, endpoint string) error

	// List returns all subscriptions with pagination.
	List(ctx context.Context, limit, offset int) ([]*Record, error)

	// Close closes the storage connection.
	Close() error
}
