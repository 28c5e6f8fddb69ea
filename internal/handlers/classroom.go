package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tutorlane/tutorlane/internal/classroom"

	"github.com/gin-gonic/gin"
)

// Session descriptions and ICE candidates pass through as raw JSON: the
// relay never inspects negotiation payloads, it only stores and replays
// them.

type publishOfferRequest struct {
	Offer json.RawMessage `json:"offer"`
}

type publishAnswerRequest struct {
	Answer json.RawMessage `json:"answer"`
}

type publishCandidateRequest struct {
	Role      string          `json:"role"`
	Candidate json.RawMessage `json:"candidate"`
}

type publishChatRequest struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type publishPresenceRequest struct {
	Role          string `json:"role"`
	MicEnabled    bool   `json:"micEnabled"`
	CamEnabled    bool   `json:"camEnabled"`
	HandRaised    bool   `json:"handRaised"`
	SharingScreen bool   `json:"sharingScreen"`
	Reaction      string `json:"reaction"`
}

type fetchCandidatesResponse struct {
	Candidates []json.RawMessage `json:"candidates"`
	NextCursor int               `json:"nextCursor"`
}

type fetchChatResponse struct {
	Messages   []classroom.ChatMessage `json:"messages"`
	NextCursor int                     `json:"nextCursor"`
}

type fetchPresenceResponse struct {
	States []classroom.PresenceState `json:"states"`
}

func (h *Handlers) room(c *gin.Context) *classroom.Room {
	return h.rooms.GetOrCreate(c.Param("room_id"))
}

func (h *Handlers) PublishOffer(c *gin.Context) {
	var req publishOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.room(c).SetOffer(req.Offer, h.nowFn())
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) FetchOffer(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"offer": rawOrNull(h.room(c).Offer())})
}

func (h *Handlers) PublishAnswer(c *gin.Context) {
	var req publishAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.room(c).SetAnswer(req.Answer, h.nowFn())
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) FetchAnswer(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"answer": rawOrNull(h.room(c).Answer())})
}

func (h *Handlers) PublishCandidate(c *gin.Context) {
	var req publishCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if len(req.Candidate) > 0 {
		h.room(c).AppendCandidate(classroom.ParseRole(req.Role), req.Candidate, h.nowFn())
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// FetchCandidates returns the queue owned by the *other* role, so a caller
// always polls with its own role.
func (h *Handlers) FetchCandidates(c *gin.Context) {
	role := classroom.ParseRole(c.Query("role"))
	cursor := parseCursor(c.Query("after"))

	candidates, next := h.room(c).CandidatesFor(role, cursor)
	if candidates == nil {
		candidates = []json.RawMessage{}
	}
	c.JSON(http.StatusOK, fetchCandidatesResponse{Candidates: candidates, NextCursor: next})
}

func (h *Handlers) PublishChat(c *gin.Context) {
	var req publishChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := classroom.ChatMessage{
		UserID: c.GetString("user_id"),
		Name:   h.displayName(c),
		Role:   classroom.ParseRole(req.Role),
		Text:   req.Text,
	}

	if err := h.room(c).AppendChat(msg, h.nowFn()); err != nil {
		if errors.Is(err, classroom.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) FetchChat(c *gin.Context) {
	cursor := parseCursor(c.Query("after"))

	messages, next := h.room(c).ChatSince(cursor)
	if messages == nil {
		messages = []classroom.ChatMessage{}
	}
	c.JSON(http.StatusOK, fetchChatResponse{Messages: messages, NextCursor: next})
}

func (h *Handlers) PublishPresence(c *gin.Context) {
	var req publishPresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.room(c).PublishPresence(classroom.PresenceState{
		Role:          classroom.ParseRole(req.Role),
		UserID:        c.GetString("user_id"),
		MicEnabled:    req.MicEnabled,
		CamEnabled:    req.CamEnabled,
		HandRaised:    req.HandRaised,
		SharingScreen: req.SharingScreen,
		Reaction:      req.Reaction,
	}, h.nowFn())
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) FetchPresence(c *gin.Context) {
	states := h.room(c).Presence()
	if states == nil {
		states = []classroom.PresenceState{}
	}
	c.JSON(http.StatusOK, fetchPresenceResponse{States: states})
}

func (h *Handlers) displayName(c *gin.Context) string {
	if name := c.GetString("user_name"); name != "" {
		return name
	}
	if email := c.GetString("user_email"); email != "" {
		return email
	}
	return fmt.Sprintf("User %s", c.GetString("user_id"))
}

func parseCursor(s string) int {
	cursor, err := strconv.Atoi(s)
	if err != nil || cursor < 0 {
		return 0
	}
	return cursor
}

// rawOrNull keeps the JSON contract of "{offer: null}" for unset blobs.
func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
