package models

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a requirement. Values are stored and
// rendered in their display form ("In Review").
type Status string

const (
	StatusDraft       Status = "Draft"
	StatusInReview    Status = "In Review"
	StatusAccepted    Status = "Accepted"
	StatusImplemented Status = "Implemented"
	StatusTested      Status = "Tested"
)

// Statuses lists every status in workflow order.
var Statuses = []Status{StatusDraft, StatusInReview, StatusAccepted, StatusImplemented, StatusTested}

// VerificationMethod is how a requirement is shown to be met.
type VerificationMethod string

const (
	VerificationAnalysis   VerificationMethod = "Analysis"
	VerificationReview     VerificationMethod = "Review"
	VerificationInspection VerificationMethod = "Inspection"
	VerificationTest       VerificationMethod = "Test"
)

// VerificationMethods lists every verification method.
var VerificationMethods = []VerificationMethod{VerificationAnalysis, VerificationReview, VerificationInspection, VerificationTest}

// ChangeType classifies a change log entry.
type ChangeType string

const (
	ChangeCreated             ChangeType = "created"
	ChangeUpdated             ChangeType = "updated"
	ChangeStatusChanged       ChangeType = "status_changed"
	ChangeRelationshipAdded   ChangeType = "relationship_added"
	ChangeRelationshipRemoved ChangeType = "relationship_removed"
	ChangeDeleted             ChangeType = "deleted"
)

// enumKey folds "In Review", "in_review" and "IN-REVIEW" to the same key.
func enumKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", " ", "-", " ").Replace(s)
}

// ParseStatus accepts a display value or its snake_case alias.
func ParseStatus(s string) (Status, error) {
	key := enumKey(s)
	for _, st := range Statuses {
		if enumKey(string(st)) == key {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown requirement status %q", s)
}

// Valid reports whether s is one of the canonical status values.
func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseVerificationMethod accepts a display value case-insensitively.
func ParseVerificationMethod(s string) (VerificationMethod, error) {
	key := enumKey(s)
	for _, m := range VerificationMethods {
		if enumKey(string(m)) == key {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown verification method %q", s)
}

func (m VerificationMethod) MarshalText() ([]byte, error) { return []byte(m), nil }

func (m *VerificationMethod) UnmarshalText(b []byte) error {
	v, err := ParseVerificationMethod(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
