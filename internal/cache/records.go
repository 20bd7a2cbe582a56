package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Credential is the cached projection of a durable device credential.
type Credential struct {
	IdentityHash string `json:"identityHash"`
	SharedSecret string `json:"sharedSecret"`
}

// Presence is the live state of a device. LastSeen is Unix milliseconds.
type Presence struct {
	Identity      string `json:"rawIdentity"`
	Online        bool   `json:"online"`
	LastSeen      int64  `json:"lastSeen"`
	RoutingHandle string `json:"routingHandle,omitempty"`
}

// LastSeenTime converts LastSeen to a time.Time.
func (p *Presence) LastSeenTime() time.Time {
	return time.UnixMilli(p.LastSeen)
}

// GetJSON reads key and unmarshals it into v.
func GetJSON(ctx context.Context, c Cache, key string, v any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}
