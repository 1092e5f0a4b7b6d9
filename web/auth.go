package web

import (
	"github.com/google/uuid"

	"vscode-stats/stats"
)

// Keyring is the fixed allow-list of client keys. Keys are UUID strings; a
// malformed key is rejected before the allow-list is even consulted.
type Keyring map[string]struct{}

func NewKeyring(keys []string) Keyring {
	k := make(Keyring, len(keys))
	for _, key := range keys {
		k[key] = struct{}{}
	}
	return k
}

// Validate returns an *stats.AuthorizationError for malformed or unknown
// keys. It performs no I/O, so authorization always fails before any
// filesystem or database work.
func (k Keyring) Validate(key string) error {
	if _, err := uuid.Parse(key); err != nil {
		return &stats.AuthorizationError{Reason: "malformed client key"}
	}
	if _, ok := k[key]; !ok {
		return &stats.AuthorizationError{Reason: "unknown client key"}
	}
	return nil
}
