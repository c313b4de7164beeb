package model

import "time"

// Thread summarizes one archived conversation.
type Thread struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ThreadID     string    `gorm:"size:128;not null;uniqueIndex" json:"thread_id"`
	Title        string    `gorm:"size:128;not null" json:"title"`
	MessageCount int       `gorm:"not null;default:0" json:"message_count"`
	LastRoute    string    `gorm:"size:16" json:"last_route"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Thread) TableName() string { return "chat_threads" }
