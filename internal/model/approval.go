package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ApprovalAction values
const (
	ActionApproved = "APPROVED"
	ActionRejected = "REJECTED"
)

// ApprovalAction records a single approve/reject decision at a given level.
// A (request, level, actor) triple may act at most once.
type ApprovalAction struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID uuid.UUID `gorm:"type:uuid;not null;index:idx_action_request_level_actor,unique" json:"request_id"`
	Level     int       `gorm:"not null;index:idx_action_request_level_actor,unique" json:"level"`
	ActorID   uuid.UUID `gorm:"type:uuid;not null;index:idx_action_request_level_actor,unique" json:"-"`
	Actor     *User     `gorm:"foreignKey:ActorID" json:"actor,omitempty"`
	Action    string    `gorm:"type:varchar(8);not null" json:"action"`
	Comment   string    `gorm:"type:text" json:"comment"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (a *ApprovalAction) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
