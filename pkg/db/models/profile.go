package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Profile holds the display identity of any actor.
type Profile struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Role        enums.Role `gorm:"column:role;type:actor_role;not null"`
	DisplayName string     `gorm:"column:display_name;not null"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (Profile) TableName() string { return "profiles" }
