// Package identity provides unified user identity utilities for Lattice.
// It defines a canonical "platform:id" format used to tag inbound senders
// so the Policy engine can match whoCanTalk/blockedSenders rules without
// depending on each channel's native ID shape.
package identity

import "strings"

// BuildCanonicalID constructs a canonical "platform:id" identifier.
// Both platform and platformID are trimmed; only platform is lowercased.
// It returns "" when either is empty after trimming.
func BuildCanonicalID(platform, platformID string) string {
	p := strings.ToLower(strings.TrimSpace(platform))
	id := strings.TrimSpace(platformID)
	if p == "" || id == "" {
		return ""
	}
	return p + ":" + id
}
