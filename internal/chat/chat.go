// Package chat holds the conversation directory and the message log.
//
// Both operate on identifiers only and go through the store for every read;
// nothing is cached between calls.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"marketchat/internal/model"
	"marketchat/internal/store"
)

// translate maps store sentinels onto the shared error taxonomy.
func translate(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// resolveNames fills in display names from the users directory. A lookup
// failure leaves names empty; it never fails the caller.
func resolveNames(ctx context.Context, users store.UserStore, logger *log.Logger, ids []string) map[string]model.User {
	if len(ids) == 0 {
		return nil
	}
	found, err := users.LookupUsers(ctx, ids)
	if err != nil {
		logger.Warn("user lookup failed", "ids", len(ids), "err", err)
		return nil
	}
	return found
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
