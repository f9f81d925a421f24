// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeSQL canonicalizes a statement for fingerprinting: whitespace runs
// collapse to a single space, the text is lowercased, and a trailing
// semicolon is dropped. Literals are left in place so queries that differ
// only in parameters fingerprint differently; parameter-level dedup belongs
// to the database's own plan cache.
func NormalizeSQL(stmt string) string {
	fields := strings.Fields(stmt)
	normalized := strings.ToLower(strings.Join(fields, " "))
	return strings.TrimSuffix(normalized, ";")
}

// Fingerprint derives the cache key for a statement: a SHA-256 digest over
// the schema version token and the normalized statement. A schema version
// bump changes every fingerprint, which implicitly invalidates all cached
// plans built against the old schema.
func Fingerprint(schemaVersion, stmt string) string {
	sum := sha256.Sum256([]byte(schemaVersion + "\n" + NormalizeSQL(stmt)))
	return hex.EncodeToString(sum[:])
}
