package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/L1ghtError/LimbWorker/errors"
)

// Store is the media repository. Images are fetched and written back by id.
//
// Implementations must be safe for concurrent use and must report a missing
// id with an error wrapping errors.ErrNotFound.
type Store interface {
	// Get returns the bytes stored under id.
	Get(ctx context.Context, id string) ([]byte, error)

	// Put stores data under id, replacing any previous value.
	Put(ctx context.Context, id string, data []byte) error

	// Close releases backend resources.
	Close() error
}

// Backend names accepted in a storage URI scheme.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
	BackendSQLite = "sqlite"
)

// Location is a parsed storage URI.
type Location struct {
	Backend string
	// Address is host:port for nats, a file path for sqlite, empty for memory.
	Address string
	Raw     string
}

// ParseURI splits a storage URI such as "sqlite:///var/lib/limb/media.db",
// "nats://localhost:4222" or "memory://".
func ParseURI(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return Location{}, errors.WrapInvalid(
			fmt.Errorf("storage uri %q: %w", raw, errors.ErrInvalidConfig), "storage", "ParseURI", "parse uri")
	}

	loc := Location{Backend: strings.ToLower(u.Scheme), Raw: raw}
	switch loc.Backend {
	case BackendMemory:
	case BackendNATS:
		loc.Address = u.Host
	case BackendSQLite:
		loc.Address = u.Host + u.Path
		if loc.Address == "" {
			loc.Address = u.Opaque
		}
		if loc.Address == "" {
			return Location{}, errors.WrapInvalid(
				fmt.Errorf("sqlite uri %q has no path: %w", raw, errors.ErrMissingConfig), "storage", "ParseURI", "parse uri")
		}
	default:
		return Location{}, errors.WrapInvalid(
			fmt.Errorf("unsupported storage backend %q: %w", u.Scheme, errors.ErrUnimplemented), "storage", "ParseURI", "parse uri")
	}
	return loc, nil
}

// ValidateID rejects ids that no backend can store.
func ValidateID(id string) error {
	if id == "" || len(id) > 255 || strings.ContainsAny(id, "\x00\r\n") {
		return errors.Newf(errors.KindInvalidInput, "media id %q", id)
	}
	return nil
}

// NotFound returns the error backends use for a missing id.
func NotFound(id string) error {
	return errors.Newf(errors.KindNotFound, "media %q", id)
}
