package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// Booking links a student and a tutor to one scheduled lesson. RoomID is the
// live-session room identifier embedded in the meeting link; both
// participants use it against the classroom relay.
type Booking struct {
	ID        string        `gorm:"type:varchar(36);primaryKey" json:"id"`
	StudentID string        `gorm:"type:varchar(36);not null;index" json:"student_id"`
	TutorID   string        `gorm:"type:varchar(36);not null;index" json:"tutor_id"`
	Subject   string        `gorm:"type:varchar(100)" json:"subject"`
	RoomID    string        `gorm:"type:varchar(64);uniqueIndex;not null" json:"room_id"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Status    BookingStatus `gorm:"type:varchar(20);not null;default:confirmed" json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`

	// Relations
	Student User `gorm:"foreignKey:StudentID" json:"-"`
	Tutor   User `gorm:"foreignKey:TutorID" json:"-"`
}

func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}
