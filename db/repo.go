package db

import (
	"context"
	"fmt"
	"strings"

	"lending_portal/models"
	"lending_portal/workflow"

	"gorm.io/gorm"
)

type Repo struct{ DB *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{DB: db} }

func (r *Repo) LogAction(ctx context.Context, l *models.ActionLog) error {
	if err := r.DB.WithContext(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("insert action log: %w", err)
	}
	return nil
}

// Record 实现 workflow.Journal
func (r *Repo) Record(ctx context.Context, e workflow.Entry) error {
	l := &models.ActionLog{
		ActorID: e.ActorID,
		Action:  e.Action,
		ItemID:  e.ItemID,
		OK:      e.OK,
	}
	if e.TransactionID != 0 {
		id := e.TransactionID
		l.TransactionID = &id
	}
	if e.Detail != "" {
		d := e.Detail
		l.Detail = &d
	}
	return r.LogAction(ctx, l)
}

// 列表（分页 + 按操作者/动作筛选）
type ActionQuery struct {
	ActorID int64
	Action  string
	Page    int
	Size    int
}

type PagedActions struct {
	Actions []models.ActionLog `json:"actions"`
	Total   int64              `json:"total"`
}

func (r *Repo) ListActions(ctx context.Context, q ActionQuery) (PagedActions, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Size <= 0 || q.Size > 100 {
		q.Size = 20
	}

	tx := r.DB.WithContext(ctx).Model(&models.ActionLog{})
	if q.ActorID != 0 {
		tx = tx.Where("actor_id = ?", q.ActorID)
	}
	if a := strings.TrimSpace(q.Action); a != "" {
		tx = tx.Where("action = ?", a)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return PagedActions{}, err
	}

	var out []models.ActionLog
	if err := tx.
		Order("created_at DESC").
		Offset((q.Page - 1) * q.Size).
		Limit(q.Size).
		Find(&out).Error; err != nil {
		return PagedActions{}, err
	}
	return PagedActions{Actions: out, Total: total}, nil
}
