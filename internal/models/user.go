package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role values are part of the public API.
const (
	UserRoleStudent = "student"
	UserRoleTutor   = "tutor"
)

type User struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name         string    `gorm:"type:varchar(100);not null" json:"name"`
	Role         string    `gorm:"type:varchar(20);not null;default:student" json:"role"`
	PasswordHash string    `gorm:"type:varchar(100);not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}
