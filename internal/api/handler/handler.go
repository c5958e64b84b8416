package handler

import (
	"log/slog"

	"github.com/dpcore/statement-service/internal/exportstore"
	"github.com/dpcore/statement-service/internal/filestore"
	"github.com/dpcore/statement-service/internal/jobstore"
	"github.com/dpcore/statement-service/shared/rabbitmq"
)

// Dependencies holds all dependencies needed by handlers. RabbitClient
// may be nil; enqueues then rely on the worker's poll interval alone.
type Dependencies struct {
	Logger       *slog.Logger
	Jobs         *jobstore.Store
	Exports      *exportstore.Store
	Files        filestore.Store
	RabbitClient *rabbitmq.Client
	Queue        string
}
