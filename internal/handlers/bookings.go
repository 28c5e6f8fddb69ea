package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/tutorlane/tutorlane/internal/classroom"
	"github.com/tutorlane/tutorlane/internal/models"

	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
)

const roomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

type CreateBookingRequest struct {
	TutorID   string    `json:"tutor_id" binding:"required"`
	Subject   string    `json:"subject" binding:"omitempty,max=100"`
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
}

type bookingResponse struct {
	models.Booking
	MeetingLink string `json:"meeting_link"`
}

// CreateBooking schedules a lesson and issues the live-session room id both
// participants will use. The id is embedded in the meeting link; access to
// the room itself is only gated by authentication.
func (h *Handlers) CreateBooking(c *gin.Context) {
	userID := c.GetString("user_id")

	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.TutorID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot book a lesson with yourself"})
		return
	}
	if !req.EndTime.After(req.StartTime) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_time must be after start_time"})
		return
	}

	var tutor models.User
	if err := h.db.Where("id = ? AND role = ?", req.TutorID, models.UserRoleTutor).First(&tutor).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "tutor not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}

	roomID, err := gonanoid.Generate(roomIDAlphabet, 16)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	booking := models.Booking{
		StudentID: userID,
		TutorID:   tutor.ID,
		Subject:   req.Subject,
		RoomID:    roomID,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Status:    models.BookingStatusConfirmed,
	}

	if err := h.db.Create(&booking).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create booking"})
		return
	}

	// Best effort: tell the tutor about the new lesson.
	go func() {
		if err := h.SendPushNotification(
			tutor.ID,
			"New lesson booked",
			fmt.Sprintf("A lesson starting %s was booked", booking.StartTime.Format(time.RFC1123)),
			map[string]interface{}{
				"url": h.meetingLink(booking.RoomID, classroom.RoleHost),
			},
		); err != nil {
			h.logger.Error("booking push notification failed", "tutor_id", tutor.ID, "error", err)
		}
	}()

	c.JSON(http.StatusCreated, bookingResponse{
		Booking:     booking,
		MeetingLink: h.meetingLink(booking.RoomID, classroom.RoleGuest),
	})
}

// ListBookings returns the caller's bookings, as student or tutor.
func (h *Handlers) ListBookings(c *gin.Context) {
	userID := c.GetString("user_id")

	var bookings []models.Booking
	if err := h.db.
		Where("student_id = ? OR tutor_id = ?", userID, userID).
		Order("start_time ASC").
		Find(&bookings).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}

	out := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		role := classroom.RoleGuest
		if b.TutorID == userID {
			role = classroom.RoleHost
		}
		out = append(out, bookingResponse{Booking: b, MeetingLink: h.meetingLink(b.RoomID, role)})
	}

	c.JSON(http.StatusOK, gin.H{"bookings": out})
}

func (h *Handlers) CancelBooking(c *gin.Context) {
	userID := c.GetString("user_id")
	bookingID := c.Param("booking_id")

	var booking models.Booking
	if err := h.db.First(&booking, "id = ?", bookingID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}

	if booking.StudentID != userID && booking.TutorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your booking"})
		return
	}

	booking.Status = models.BookingStatusCancelled
	if err := h.db.Save(&booking).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel booking"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

// The tutor hosts; the student joins as guest. Both land on the same room.
func (h *Handlers) meetingLink(roomID string, role classroom.Role) string {
	return fmt.Sprintf("https://%s/classroom/%s?role=%s", h.config.Domain, roomID, role)
}
