package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/config"
	coreactor "github.com/berfenger/vcmon2mqtt/internal/core/actor"
	"github.com/berfenger/vcmon2mqtt/internal/core/domain"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

// Engine is what the HTTP API reads and commands.
type Engine interface {
	Health(ctx context.Context) (domain.ActorHealthResponse, error)
	Snapshot() coreactor.StateSnapshot
	LatestMeasurement() (domain.Measurement, bool)
	Measurements(n int) []domain.Measurement
	VoltageSamples(n int) []domain.VoltageSample
	History(ctx context.Context, from, to time.Time, limit int) ([]domain.Measurement, error)
	Actions(ctx context.Context, n int) ([]domain.ActionLog, error)
	Config() domain.SystemConfig
	Ports() ([]string, error)

	Connect(port string)
	Disconnect()
	SetRelay(channel domain.RelayChannel, state domain.RelayState) error
	Raw(ctx context.Context, name string) ([]string, error)
	ApplyConfig(cfg domain.SystemConfig) error
	SetAutoControl(enabled bool)
}

type Server struct {
	port           uint
	httpLog        bool
	engine         Engine
	metricsHandler http.Handler
	logger         *zap.Logger
}

// NewServer builds the HTTP server. metricsHandler may be nil.
func NewServer(cfg config.Config, engine Engine, metricsHandler http.Handler, logger *zap.Logger) *http.Server {
	NewServer := &Server{
		port:           cfg.Port,
		httpLog:        cfg.HttpLog,
		engine:         engine,
		metricsHandler: metricsHandler,
		logger:         logger.With(zap.String("component", "http")),
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}

// ensure interface compliance
var _ Engine = (*coreactor.Engine)(nil)
