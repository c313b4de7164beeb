package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ContentTypeGuide  = "guide"
	ContentTypeNotice = "notice"
	ContentTypeItem   = "item"
	ContentTypeQuest  = "quest"
	ContentTypeSkill  = "skill"
	ContentTypeOther  = "other"
)

// RAGDocument is one ingested source file. Deleting it cascades to its chunks.
type RAGDocument struct {
	ID          string            `gorm:"primaryKey;size:36" json:"id"`
	Collection  string            `gorm:"size:128;not null;index" json:"collection"`
	Title       string            `gorm:"size:512;not null" json:"title"`
	Source      string            `gorm:"size:1024" json:"source"`
	ContentType string            `gorm:"size:16;not null;index" json:"content_type"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
