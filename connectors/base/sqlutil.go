// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package base

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	limitPattern      = regexp.MustCompile(`(?i)\blimit\b`)
	limitValuePattern = regexp.MustCompile(`(?i)\blimit\s+(\d+)`)
)

// HasLimit reports whether the statement already carries a LIMIT clause.
func HasLimit(stmt string) bool {
	return limitPattern.MatchString(stmt)
}

// StripTrailingSemicolon removes a single trailing semicolon and returns the
// base statement plus the removed suffix so callers can reattach it.
func StripTrailingSemicolon(stmt string) (string, string) {
	trimmed := strings.TrimRight(stmt, " \t\r\n")
	if strings.HasSuffix(trimmed, ";") {
		return trimmed[:len(trimmed)-1], ";"
	}
	return trimmed, ""
}

// ApplyLimit appends a LIMIT clause when the statement has none. The second
// return value reports whether the statement was modified.
func ApplyLimit(stmt string, limit int) (string, bool) {
	if limit <= 0 || HasLimit(stmt) {
		return stmt, false
	}
	body, semi := StripTrailingSemicolon(stmt)
	return fmt.Sprintf("%s LIMIT %d%s", body, limit, semi), true
}

// OverrideLimit caps the statement's row count: a missing LIMIT gets the
// cap appended, a larger LIMIT is lowered to the cap, and a LIMIT at or
// below the cap is left alone. Preview mode uses this so a caller-supplied
// LIMIT can never exceed the preview cap.
func OverrideLimit(stmt string, limit int) string {
	if limit <= 0 {
		return stmt
	}
	body, semi := StripTrailingSemicolon(stmt)
	if m := limitValuePattern.FindStringSubmatch(body); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n <= limit {
			return stmt
		}
		return limitValuePattern.ReplaceAllString(body, fmt.Sprintf("LIMIT %d", limit)) + semi
	}
	if HasLimit(body) {
		// Non-numeric LIMIT (placeholder): leave the statement alone.
		return stmt
	}
	return fmt.Sprintf("%s LIMIT %d%s", body, limit, semi)
}
