package models

import "time"

// Requirement is a single traceable statement. ParentIDs and ChildIDs hold the
// same edges seen from both ends: A.ChildIDs contains B iff B.ParentIDs contains A.
type Requirement struct {
	ID                  string               `gorm:"type:varchar(36);primaryKey" bson:"_id" json:"id"`
	ReqID               string               `gorm:"type:varchar(32);not null;uniqueIndex:idx_requirements_project_req_id,priority:2" bson:"req_id" json:"req_id"`
	Title               string               `gorm:"not null" bson:"title" json:"title"`
	Text                string               `gorm:"type:text;not null" bson:"text" json:"text"`
	Status              Status               `gorm:"type:varchar(32);not null;index" bson:"status" json:"status"`
	VerificationMethods []VerificationMethod `gorm:"serializer:json;type:jsonb;not null" bson:"verification_methods" json:"verification_methods"`
	ProjectID           string               `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_requirements_project_req_id,priority:1" bson:"project_id" json:"project_id"`
	GroupID             string               `gorm:"type:varchar(36);not null;index" bson:"group_id" json:"group_id"`
	ChapterID           *string              `gorm:"type:varchar(36);index" bson:"chapter_id,omitempty" json:"chapter_id"`
	ParentIDs           []string             `gorm:"serializer:json;type:jsonb;not null" bson:"parent_ids" json:"parent_ids"`
	ChildIDs            []string             `gorm:"serializer:json;type:jsonb;not null" bson:"child_ids" json:"child_ids"`
	CreatedAt           time.Time            `gorm:"not null" bson:"created_at" json:"created_at"`
	UpdatedAt           time.Time            `gorm:"not null" bson:"updated_at" json:"updated_at"`
	CreatedBy           *string              `gorm:"type:varchar(255)" bson:"created_by,omitempty" json:"created_by"`
	UpdatedBy           *string              `gorm:"type:varchar(255)" bson:"updated_by,omitempty" json:"updated_by"`
}

// Normalize makes sets non-nil and duplicate-free and times UTC.
func (r *Requirement) Normalize() {
	r.ParentIDs = UniqueIDs(r.ParentIDs)
	r.ChildIDs = UniqueIDs(r.ChildIDs)
	r.VerificationMethods = UniqueMethods(r.VerificationMethods)
	r.CreatedAt = utc(r.CreatedAt)
	r.UpdatedAt = utc(r.UpdatedAt)
}

// Clone returns a deep copy.
func (r Requirement) Clone() Requirement {
	out := r
	out.ParentIDs = append([]string{}, r.ParentIDs...)
	out.ChildIDs = append([]string{}, r.ChildIDs...)
	out.VerificationMethods = append([]VerificationMethod{}, r.VerificationMethods...)
	if r.ChapterID != nil {
		v := *r.ChapterID
		out.ChapterID = &v
	}
	return out
}

// RequirementCounter reserves req_id sequence numbers per project.
type RequirementCounter struct {
	ProjectID string `gorm:"type:varchar(36);primaryKey" bson:"_id"`
	Value     int64  `gorm:"not null;default:0" bson:"value"`
}

// RequirementChangeLog is an immutable audit record of one requirement change.
type RequirementChangeLog struct {
	ID                string     `gorm:"type:varchar(36);primaryKey" bson:"_id" json:"id"`
	RequirementID     string     `gorm:"type:varchar(36);not null;index" bson:"requirement_id" json:"requirement_id"`
	ChangeType        ChangeType `gorm:"type:varchar(32);not null" bson:"change_type" json:"change_type"`
	FieldName         *string    `gorm:"type:varchar(64)" bson:"field_name,omitempty" json:"field_name"`
	OldValue          *string    `gorm:"type:text" bson:"old_value,omitempty" json:"old_value"`
	NewValue          *string    `gorm:"type:text" bson:"new_value,omitempty" json:"new_value"`
	ChangeDescription string     `gorm:"type:text;not null" bson:"change_description" json:"change_description"`
	ChangedBy         string     `gorm:"type:varchar(255);not null" bson:"changed_by" json:"changed_by"`
	CreatedAt         time.Time  `gorm:"not null;index" bson:"created_at" json:"created_at"`
}

// SystemActor is recorded when a change has no identified actor.
const SystemActor = "System"

// NewChangeLog builds an entry stamped now. An empty actor becomes SystemActor.
func NewChangeLog(requirementID string, changeType ChangeType, description, actor string) *RequirementChangeLog {
	if actor == "" {
		actor = SystemActor
	}
	return &RequirementChangeLog{
		ID:                NewID(),
		RequirementID:     requirementID,
		ChangeType:        changeType,
		ChangeDescription: description,
		ChangedBy:         actor,
		CreatedAt:         Now(),
	}
}

// WithField records which field changed and its before/after values.
func (l *RequirementChangeLog) WithField(name, oldValue, newValue string) *RequirementChangeLog {
	l.FieldName = &name
	l.OldValue = &oldValue
	l.NewValue = &newValue
	return l
}
