package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusAcceptsAliases(t *testing.T) {
	for in, want := range map[string]Status{
		"Draft":       StatusDraft,
		"in_review":   StatusInReview,
		"In Review":   StatusInReview,
		"IMPLEMENTED": StatusImplemented,
		" tested ":    StatusTested,
	} {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseStatus("done")
	assert.Error(t, err)
	assert.False(t, Status("in_review").Valid())
	assert.True(t, StatusInReview.Valid())
}

func TestRequirementJSONUsesDisplayValues(t *testing.T) {
	var r Requirement
	err := json.Unmarshal([]byte(`{"status":"in_review","verification_methods":["test","Review"]}`), &r)
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, r.Status)
	assert.Equal(t, []VerificationMethod{VerificationTest, VerificationReview}, r.VerificationMethods)

	err = json.Unmarshal([]byte(`{"verification_methods":["Telepathy"]}`), &r)
	assert.Error(t, err)
}

func TestNormalizeNeverLeavesNilSets(t *testing.T) {
	r := Requirement{ParentIDs: []string{"a", "", "a", "b"}}
	r.Normalize()

	assert.Equal(t, []string{"a", "b"}, r.ParentIDs)
	assert.NotNil(t, r.ChildIDs)
	assert.NotNil(t, r.VerificationMethods)

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"child_ids":[]`)
}

func TestReqIDFormatting(t *testing.T) {
	assert.Equal(t, "REQ-001", FormatReqID(1))
	assert.Equal(t, "REQ-042", FormatReqID(42))
	assert.Equal(t, "REQ-1000", FormatReqID(1000))

	n, ok := ParseReqIDSeq("REQ-017")
	assert.True(t, ok)
	assert.Equal(t, int64(17), n)

	_, ok = ParseReqIDSeq("TASK-1")
	assert.False(t, ok)
}

func TestDiff(t *testing.T) {
	added, removed := Diff([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"a"}, removed)
}

func TestNowIsUTCMilliseconds(t *testing.T) {
	now := Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond()%int(time.Millisecond))
}

func TestNewChangeLogDefaultsActor(t *testing.T) {
	l := NewChangeLog("r1", ChangeStatusChanged, "status changed", "").WithField("status", "Draft", "Tested")
	assert.Equal(t, SystemActor, l.ChangedBy)
	require.NotNil(t, l.FieldName)
	assert.Equal(t, "status", *l.FieldName)
	assert.Equal(t, "Tested", *l.NewValue)
}
