package handlers

import (
	"log/slog"
	"time"

	"github.com/tutorlane/tutorlane/internal/classroom"
	"github.com/tutorlane/tutorlane/internal/config"
	"github.com/tutorlane/tutorlane/internal/turn"

	"gorm.io/gorm"
)

type Handlers struct {
	db         *gorm.DB
	config     *config.Config
	turnServer *turn.TURNServer
	rooms      classroom.RoomStore
	logger     *slog.Logger
	nowFn      func() time.Time
}

func New(db *gorm.DB, cfg *config.Config, turnServer *turn.TURNServer, rooms classroom.RoomStore, logger *slog.Logger) *Handlers {
	return &Handlers{
		db:         db,
		config:     cfg,
		turnServer: turnServer,
		rooms:      rooms,
		logger:     logger,
		nowFn:      time.Now,
	}
}
