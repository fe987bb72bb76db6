package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const reqIDPrefix = "REQ-"

// NewID returns a fresh entity id.
func NewID() string { return uuid.NewString() }

// Now returns the current time in the precision every backend round-trips
// (UTC, milliseconds).
func Now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

// FormatReqID renders a requirement sequence number as REQ-001.
func FormatReqID(seq int64) string {
	return fmt.Sprintf("%s%03d", reqIDPrefix, seq)
}

// ParseReqIDSeq extracts the sequence number from a REQ-NNN identifier.
func ParseReqIDSeq(reqID string) (int64, bool) {
	if !strings.HasPrefix(reqID, reqIDPrefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(reqID, reqIDPrefix), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// UniqueIDs drops empty and repeated ids, keeping first-seen order. The result
// is never nil so relation sets encode as [] rather than null.
func UniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// UniqueMethods is UniqueIDs for verification methods.
func UniqueMethods(ms []VerificationMethod) []VerificationMethod {
	out := make([]VerificationMethod, 0, len(ms))
	seen := make(map[VerificationMethod]struct{}, len(ms))
	for _, m := range ms {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Contains reports whether id is in ids.
func Contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Diff returns the ids present in next but not in prev, and those in prev but not in next.
func Diff(prev, next []string) (added, removed []string) {
	for _, id := range next {
		if !Contains(prev, id) {
			added = append(added, id)
		}
	}
	for _, id := range prev {
		if !Contains(next, id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
