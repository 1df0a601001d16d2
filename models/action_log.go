package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const ActionLogTable = "lending_action_log"

// ActionLog 借用流程里每一次变更操作的审计记录
type ActionLog struct {
	ID            string    `gorm:"type:uuid;primaryKey" json:"id"`
	ActorID       int64     `gorm:"not null" json:"actorId"`
	Action        string    `gorm:"size:16;not null" json:"action"`
	TransactionID *int64    `json:"transactionId,omitempty"`
	ItemID        int64     `json:"itemId"`
	OK            bool      `json:"ok"`
	Detail        *string   `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (ActionLog) TableName() string { return ActionLogTable }

func (l *ActionLog) BeforeCreate(*gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
