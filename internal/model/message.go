package model

import "time"

// Message is an archived chat turn message, written by the archive worker.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ThreadID  string    `gorm:"size:128;not null;index" json:"thread_id"`
	Role      string    `gorm:"size:16;not null;index" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Route     string    `gorm:"size:16" json:"route"`
	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }
