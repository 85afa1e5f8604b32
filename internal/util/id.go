// Package util holds small helpers shared across the service.
package util

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a random identifier such as "tsk_mfrggzdfmz...". The prefix
// marks the entity kind; an empty prefix yields just the random part.
func NewID(prefix string) string {
	raw := make([]byte, 15)
	_, _ = rand.Read(raw)
	id := strings.ToLower(idEncoding.EncodeToString(raw))
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
