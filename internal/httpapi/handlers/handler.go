package handlers

import (
	"gorm.io/gorm"

	"github.com/quietriver/chatrelay/internal/config"
	"github.com/quietriver/chatrelay/internal/logger"
	"github.com/quietriver/chatrelay/internal/relay"
	"github.com/quietriver/chatrelay/internal/room"
	"github.com/quietriver/chatrelay/internal/store/rabbitmq"
	"github.com/quietriver/chatrelay/internal/store/redisstore"
)

type Handler struct {
	DB     *gorm.DB
	Cfg    config.Config
	Log    *logger.Logger
	Redis  *redisstore.Store
	Rabbit *rabbitmq.Publisher

	Rooms *room.Repo
	Jobs  *relay.JobRepo
	Relay *relay.Service
}

// NewHandler wires the request-facing dependencies. Redis and Rabbit
// may be nil; the features needing them then report unavailable.
func NewHandler(db *gorm.DB, cfg config.Config, log *logger.Logger, rds *redisstore.Store, rabbit *rabbitmq.Publisher, relaySvc *relay.Service) *Handler {
	return &Handler{
		DB:     db,
		Cfg:    cfg,
		Log:    log,
		Redis:  rds,
		Rabbit: rabbit,
		Rooms:  room.NewRepo(db),
		Jobs:   relay.NewJobRepo(db),
		Relay:  relaySvc,
	}
}
