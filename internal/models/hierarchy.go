package models

import "time"

// Project is the top of the hierarchy. At most one project is active at a time.
type Project struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" bson:"_id" json:"id"`
	Name        string    `gorm:"not null" bson:"name" json:"name"`
	Description *string   `gorm:"type:text" bson:"description,omitempty" json:"description"`
	IsActive    bool      `gorm:"not null;default:false" bson:"is_active" json:"is_active"`
	CreatedAt   time.Time `gorm:"not null" bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" bson:"updated_at" json:"updated_at"`
}

func (p *Project) Normalize() {
	p.CreatedAt = utc(p.CreatedAt)
	p.UpdatedAt = utc(p.UpdatedAt)
}

// Group partitions a project. Groups nest through ParentID and at most one
// group per project is active.
type Group struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" bson:"_id" json:"id"`
	Name        string    `gorm:"not null" bson:"name" json:"name"`
	Description *string   `gorm:"type:text" bson:"description,omitempty" json:"description"`
	ProjectID   string    `gorm:"type:varchar(36);not null;index" bson:"project_id" json:"project_id"`
	ParentID    *string   `gorm:"type:varchar(36);index" bson:"parent_id,omitempty" json:"parent_id"`
	Order       int       `gorm:"column:sort_order;not null;default:0" bson:"order" json:"order"`
	IsActive    bool      `gorm:"not null;default:false" bson:"is_active" json:"is_active"`
	CreatedAt   time.Time `gorm:"not null" bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" bson:"updated_at" json:"updated_at"`
}

func (g *Group) Normalize() {
	g.CreatedAt = utc(g.CreatedAt)
	g.UpdatedAt = utc(g.UpdatedAt)
}

// Chapter partitions a group and nests through ParentID.
type Chapter struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" bson:"_id" json:"id"`
	Name        string    `gorm:"not null" bson:"name" json:"name"`
	Description *string   `gorm:"type:text" bson:"description,omitempty" json:"description"`
	GroupID     string    `gorm:"type:varchar(36);not null;index" bson:"group_id" json:"group_id"`
	ParentID    *string   `gorm:"type:varchar(36);index" bson:"parent_id,omitempty" json:"parent_id"`
	Order       int       `gorm:"column:sort_order;not null;default:0" bson:"order" json:"order"`
	CreatedAt   time.Time `gorm:"not null" bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" bson:"updated_at" json:"updated_at"`
}

func (c *Chapter) Normalize() {
	c.CreatedAt = utc(c.CreatedAt)
	c.UpdatedAt = utc(c.UpdatedAt)
}
