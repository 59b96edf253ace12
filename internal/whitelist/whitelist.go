// Package whitelist implements the security allow-list checker described
// in spec §6: a set of permitted user ids, with an empty set denying
// everyone and a reserved sentinel id opting in to allow-all. A single
// process with one allow-list of integer user ids is all §6 calls for —
// no per-platform identity matching, no DM/group policy split.
package whitelist

import (
	"log/slog"
	"sync"
)

// AllowAllSentinel is the reserved id that, when present in the configured
// set, makes the checker allow every sender. -1 is never a valid platform
// user id, matching §6's own example ("a reserved id, e.g., -1").
const AllowAllSentinel int64 = -1

// Checker evaluates whether a user id may interact with the agent.
type Checker struct {
	mu       sync.RWMutex
	allowed  map[int64]struct{}
	allowAll bool
	warnedOnce sync.Once
}

// New builds a Checker from the configured allow_from set. Construction
// logs a one-time WARN when the set is empty (deny-everyone) or when the
// allow-all sentinel is present, matching §6's construction-time warnings.
func New(allowFrom []int64) *Checker {
	c := &Checker{allowed: make(map[int64]struct{}, len(allowFrom))}
	for _, id := range allowFrom {
		if id == AllowAllSentinel {
			c.allowAll = true
			continue
		}
		c.allowed[id] = struct{}{}
	}

	c.warnedOnce.Do(func() {
		switch {
		case c.allowAll:
			slog.Warn("allow-all wildcard configured: every user id is permitted")
		case len(c.allowed) == 0:
			slog.Warn("empty allow_from: all inbound messages will be rejected")
		}
	})

	return c
}

// Allow reports whether userID may interact with the agent.
func (c *Checker) Allow(userID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.allowAll {
		return true
	}
	if len(c.allowed) == 0 {
		return false
	}
	_, ok := c.allowed[userID]
	return ok
}
