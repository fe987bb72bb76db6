package types

import (
	"encoding/json"

	"github.com/reqtrace/engine/internal/models"
)

type ProjectCreateRequest struct {
	Name        string  `json:"name" validate:"required,notblank,max=255"`
	Description *string `json:"description"`
}

type GroupCreateRequest struct {
	Name        string  `json:"name" validate:"required,notblank,max=255"`
	Description *string `json:"description"`
	ProjectID   string  `json:"project_id" validate:"required"`
	ParentID    *string `json:"parent_id"`
	Order       int     `json:"order"`
}

type ChapterCreateRequest struct {
	Name        string  `json:"name" validate:"required,notblank,max=255"`
	Description *string `json:"description"`
	GroupID     string  `json:"group_id" validate:"required"`
	ParentID    *string `json:"parent_id"`
	Order       int     `json:"order"`
}

type RequirementCreateRequest struct {
	Title               string                      `json:"title" validate:"required,notblank"`
	Text                string                      `json:"text"`
	Status              models.Status               `json:"status" validate:"omitempty,reqstatus"`
	VerificationMethods []models.VerificationMethod `json:"verification_methods" validate:"dive,verification"`
	ProjectID           string                      `json:"project_id" validate:"required"`
	GroupID             string                      `json:"group_id" validate:"required"`
	ChapterID           *string                     `json:"chapter_id"`
	ParentIDs           []string                    `json:"parent_ids" validate:"max=1000,dive,required"`
}

type RequirementUpdateRequest struct {
	Title               *string                      `json:"title" validate:"omitempty,notblank"`
	Text                *string                      `json:"text"`
	Status              *models.Status               `json:"status" validate:"omitempty,reqstatus"`
	VerificationMethods *[]models.VerificationMethod `json:"verification_methods" validate:"omitempty,dive,verification"`
	GroupID             *string                      `json:"group_id" validate:"omitempty,min=1"`
	ChapterID           *string                      `json:"chapter_id"`
	ParentIDs           *[]string                    `json:"parent_ids" validate:"omitempty,max=1000,dive,required"`
}

// BatchUpdateRequest keeps update_data raw so forbidden keys can be named in
// the error.
type BatchUpdateRequest struct {
	RequirementIDs []string                   `json:"requirement_ids" validate:"required,min=1,max=1000,dive,required"`
	UpdateData     map[string]json.RawMessage `json:"update_data" validate:"required"`
}

type RelationshipRequest struct {
	ParentID string `json:"parent_id" validate:"required,nefield=ChildID"`
	ChildID  string `json:"child_id" validate:"required"`
}
