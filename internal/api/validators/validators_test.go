package validators

import (
	"testing"

	"github.com/reqtrace/engine/internal/api/types"
	"github.com/reqtrace/engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequirementCreateValidation(t *testing.T) {
	v := New()

	ok := types.RequirementCreateRequest{
		Title:               "Brakes",
		ProjectID:           "p",
		GroupID:             "g",
		Status:              models.StatusAccepted,
		VerificationMethods: []models.VerificationMethod{models.VerificationTest},
	}
	require.NoError(t, v.Struct(ok))

	bad := ok
	bad.Title = "   "
	bad.Status = "Done"
	bad.ParentIDs = []string{""}
	err := v.Struct(bad)
	require.Error(t, err)
	msg := Describe(err)
	assert.Contains(t, msg, "title failed notblank")
	assert.Contains(t, msg, "status failed reqstatus")
	assert.Contains(t, msg, "parent_ids[0] failed required")
}

func TestRelationshipRejectsSelfLink(t *testing.T) {
	err := New().Struct(types.RelationshipRequest{ParentID: "a", ChildID: "a"})
	require.Error(t, err)
	assert.Contains(t, Describe(err), "parent_id failed nefield=ChildID")
}
