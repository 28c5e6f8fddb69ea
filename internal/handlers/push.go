package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/tutorlane/tutorlane/internal/models"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type PushSubscribeKeys struct {
	P256DH string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

type PushSubscribeRequest struct {
	Endpoint string            `json:"endpoint" binding:"required"`
	Keys     PushSubscribeKeys `json:"keys" binding:"required"`
}

func (h *Handlers) GetVAPIDPublicKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"publicKey": h.config.VAPIDKeys.PublicKey,
	})
}

func (h *Handlers) SubscribePush(c *gin.Context) {
	userID := c.GetString("user_id")

	var req PushSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Keep only the latest subscription per user.
	if err := h.db.Where("user_id = ?", userID).Delete(&models.PushSubscription{}).Error; err != nil {
		h.logger.Error("failed to delete old push subscriptions", "user_id", userID, "error", err)
	}

	subscription := models.PushSubscription{
		UserID:   userID,
		Endpoint: req.Endpoint,
		P256DH:   req.Keys.P256DH,
		Auth:     req.Keys.Auth,
	}

	if err := h.db.Create(&subscription).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create subscription"})
		return
	}

	c.JSON(http.StatusCreated, subscription)
}

func (h *Handlers) UnsubscribePush(c *gin.Context) {
	userID := c.GetString("user_id")

	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var subscription models.PushSubscription
	if err := h.db.Where("user_id = ? AND endpoint = ?", userID, req.Endpoint).First(&subscription).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}

	if err := h.db.Delete(&subscription).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "unsubscribed"})
}

// SendPushNotification delivers a web push to every subscription a user
// has. Expired endpoints (404/410) are pruned as they are discovered.
func (h *Handlers) SendPushNotification(userID string, title string, body string, data map[string]interface{}) error {
	var subscriptions []models.PushSubscription
	if err := h.db.Where("user_id = ?", userID).Find(&subscriptions).Error; err != nil {
		return err
	}
	if len(subscriptions) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"title": title,
		"body":  body,
		"data":  data,
	})
	if err != nil {
		return err
	}

	for _, sub := range subscriptions {
		resp, err := webpush.SendNotification(payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256DH,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			Subscriber:      h.config.VAPIDKeys.Subject,
			VAPIDPublicKey:  h.config.VAPIDKeys.PublicKey,
			VAPIDPrivateKey: h.config.VAPIDKeys.PrivateKey,
			TTL:             3600,
		})
		if err != nil {
			h.logger.Error("push send failed", "user_id", userID, "error", err)
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			h.db.Delete(&models.PushSubscription{}, "id = ?", sub.ID)
		}
		resp.Body.Close()
	}

	return nil
}
