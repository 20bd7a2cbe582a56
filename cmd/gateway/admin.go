package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/MuhammadArhumDev/Raidware/internal/config"
	"github.com/MuhammadArhumDev/Raidware/internal/security"
	"github.com/MuhammadArhumDev/Raidware/internal/store"
)

// admin runs the one-shot maintenance commands against the durable store.
type admin struct {
	db  store.Store
	out io.Writer
}

// withAdmin opens the configured store for the duration of fn.
func withAdmin(cfg *config.Config, out io.Writer, fn func(context.Context, *admin) error) error {
	db, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, &admin{db: db, out: out})
}

func (a *admin) createAPIKey(ctx context.Context, name string) error {
	apiKey, plaintext, err := security.GenerateAPIKey(name)
	if err != nil {
		return err
	}
	if err := a.db.CreateAPIKey(ctx, apiKey); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "API key %q created (id %s):\n%s\n", name, apiKey.ID, plaintext)
	fmt.Fprintln(a.out, "Store it now; it cannot be shown again.")
	return nil
}

func (a *admin) listAPIKeys(ctx context.Context) error {
	keys, err := a.db.ListAPIKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Fprintln(a.out, "no API keys")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tCREATED\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsed != nil {
			lastUsed = k.LastUsed.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.Prefix, k.CreatedAt.Format(time.RFC3339), lastUsed)
	}
	return tw.Flush()
}

func (a *admin) revokeAPIKey(ctx context.Context, id string) error {
	revoked, err := a.db.RevokeAPIKey(ctx, id)
	if err != nil {
		return err
	}
	if !revoked {
		return fmt.Errorf("no API key with id %s", id)
	}
	fmt.Fprintf(a.out, "API key %s revoked\n", id)
	return nil
}

// seedDevice provisions or rotates a device secret.
func (a *admin) seedDevice(ctx context.Context, mac, secret string) error {
	if secret == "" {
		return fmt.Errorf("-secret is required with -seed-device")
	}
	identity := security.CanonicalIdentity(mac)
	if identity == "" {
		return fmt.Errorf("empty device identity")
	}

	existing, err := a.db.GetDevice(ctx, identity)
	if err != nil {
		return err
	}
	d := &store.DeviceCredential{
		Identity:     identity,
		IdentityHash: security.IdentityHash(identity),
		SharedSecret: secret,
	}
	if existing != nil {
		d.CreatedAt = existing.CreatedAt
	}
	if err := a.db.UpsertDevice(ctx, d); err != nil {
		return err
	}

	if existing != nil {
		fmt.Fprintf(a.out, "device %s secret rotated (provisioned %s)\n", identity, existing.CreatedAt.Format(time.RFC3339))
	} else {
		fmt.Fprintf(a.out, "device %s provisioned\n", identity)
	}
	return nil
}

func (a *admin) removeDevice(ctx context.Context, mac string) error {
	identity := security.CanonicalIdentity(mac)
	removed, err := a.db.DeleteDevice(ctx, identity)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("no device %s", identity)
	}
	fmt.Fprintf(a.out, "device %s removed; its cached credential expires at the next sync TTL\n", identity)
	return nil
}
