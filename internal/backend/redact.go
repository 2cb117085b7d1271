// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// redactURL drops user info and the query string, which some gateways use
// for keys.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparsable]"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// KeyFingerprint returns a short SHA-256 fingerprint of a secret for logs.
// SECURITY: never log key fragments.
func KeyFingerprint(secret string) string {
	if secret == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:4])
}
