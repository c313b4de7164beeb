package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mapleportal/internal/model"
)

const threadTitleRunes = 40

type ThreadRepository struct {
	db *gorm.DB
}

func NewThreadRepository(db *gorm.DB) *ThreadRepository {
	return &ThreadRepository{db: db}
}

// ThreadTitle derives a title from the opening message of a thread.
func ThreadTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(title) <= threadTitleRunes {
		return title
	}
	return string([]rune(title)[:threadTitleRunes]) + "…"
}

// Touch records msg against its thread, creating the thread on first sight.
func (r *ThreadRepository) Touch(ctx context.Context, msg *model.Message) error {
	thread := model.Thread{
		ThreadID:     msg.ThreadID,
		Title:        ThreadTitle(msg.Content),
		MessageCount: 1,
		LastRoute:    msg.Route,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "thread_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"message_count": gorm.Expr("message_count + 1"),
			"last_route":    msg.Route,
			"updated_at":    time.Now(),
		}),
	}).Create(&thread).Error
	if err != nil {
		return fmt.Errorf("touch thread failed: %w", err)
	}
	return nil
}

func (r *ThreadRepository) ListRecent(ctx context.Context, limit int) ([]model.Thread, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var threads []model.Thread
	if err := r.db.WithContext(ctx).Order("updated_at DESC").Limit(limit).Find(&threads).Error; err != nil {
		return nil, fmt.Errorf("list threads failed: %w", err)
	}
	return threads, nil
}

func (r *ThreadRepository) GetByThreadID(ctx context.Context, threadID string) (*model.Thread, error) {
	var thread model.Thread
	if err := r.db.WithContext(ctx).Where("thread_id = ?", threadID).First(&thread).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get thread failed: %w", err)
	}
	return &thread, nil
}

func (r *ThreadRepository) DeleteByThreadID(ctx context.Context, threadID string) error {
	if err := r.db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&model.Thread{}).Error; err != nil {
		return fmt.Errorf("delete thread failed: %w", err)
	}
	return nil
}
