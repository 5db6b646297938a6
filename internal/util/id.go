// Package util contains small internal helpers shared across packages.
package util

import "github.com/google/uuid"

// NewID generates an opaque unique identifier. Used for config ids, session
// ids and event correlation; callers must not assume structure.
func NewID() string { return uuid.NewString() }
