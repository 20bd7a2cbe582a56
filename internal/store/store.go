// Package store defines the durable persistence interface for the gateway.
// Device credentials are provisioned externally; the gateway reads them in
// bulk for cache sync and keeps dashboard API keys alongside them.
package store

import (
	"context"
	"time"
)

// Store is the persistence interface for gateway data.
// Lookups return (nil, nil) when a record does not exist.
// Implementations must be safe for concurrent use.
type Store interface {
	// Device credentials.
	UpsertDevice(ctx context.Context, d *DeviceCredential) error
	GetDevice(ctx context.Context, identity string) (*DeviceCredential, error)
	ListDeviceCredentials(ctx context.Context) ([]*DeviceCredential, error)
	DeleteDevice(ctx context.Context, identity string) (bool, error)

	// API keys for the dashboard channel and REST endpoints.
	CreateAPIKey(ctx context.Context, key *APIKey) error
	VerifyAPIKey(ctx context.Context, keyHash string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) (bool, error)

	Close() error
}

// DeviceCredential binds a device identity to its pre-shared secret.
type DeviceCredential struct {
	Identity     string    `json:"identity"`
	IdentityHash string    `json:"identity_hash"`
	SharedSecret string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// APIKey grants access to the dashboard channel and APIs.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"-"`
	Prefix    string     `json:"prefix"` // first 12 chars for identification
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}
