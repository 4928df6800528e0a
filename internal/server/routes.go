package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const (
	defaultSnapshotSize = 60
	defaultHistoryLimit = 500
	defaultActionsLimit = 50
	commandTimeout      = 10 * time.Second
)

type connectRequest struct {
	Port string `json:"port"`
}

type relayRequest struct {
	Channel int    `json:"channel"`
	Relay   string `json:"relay"`
	State   string `json:"state"`
}

type autoControlRequest struct {
	Enabled *bool `json:"enabled"`
}

// configRequest holds the fields to change; missing fields keep their value.
type configRequest struct {
	PollIntervalMillis        *int64   `json:"poll_interval_ms"`
	VoltagePollIntervalMillis *int64   `json:"voltage_poll_interval_ms"`
	LowVoltageThreshold       *float64 `json:"low_voltage_threshold"`
	ChargeLimitSoC            *float64 `json:"charge_limit_soc"`
	PVOkThreshold             *float64 `json:"pv_ok_threshold"`
	SoCFloorVoltage           *float64 `json:"soc_floor_voltage"`
	SoCCeilingVoltage         *float64 `json:"soc_ceiling_voltage"`
	ChargeRelayChannel        *int     `json:"charge_relay_channel"`
	PortIdentifier            *string  `json:"port_identifier"`
}

type portsResponse struct {
	Ports   []string `json:"ports"`
	Current string   `json:"current"`
}

type rawResponse struct {
	Command string   `json:"command"`
	Lines   []string `json:"lines"`
}

type versionResponse struct {
	Version  string    `json:"version"`
	Revision string    `json:"revision"`
	Commit   time.Time `json:"last_commit"`
	Dirty    bool      `json:"dirty"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	if s.metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}

	api := e.Group("/api")
	api.GET("/version", s.VersionHandler)
	api.GET("/state", s.StateHandler)
	api.GET("/measurements", s.HistoryHandler)
	api.GET("/measurements/latest", s.LatestMeasurementHandler)
	api.GET("/measurements/snapshot", s.MeasurementSnapshotHandler)
	api.GET("/voltage/snapshot", s.VoltageSnapshotHandler)
	api.GET("/actions", s.ActionsHandler)
	api.GET("/config", s.GetConfigHandler)
	api.PUT("/config", s.PutConfigHandler)
	api.POST("/control/auto", s.AutoControlHandler)
	api.GET("/ports", s.PortsHandler)
	api.POST("/commands/connect", s.ConnectHandler)
	api.POST("/commands/disconnect", s.DisconnectHandler)
	api.POST("/commands/relay", s.RelayHandler)
	api.POST("/commands/raw/:name", s.RawCommandHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()
	response, err := s.engine.Health(ctx)
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) VersionHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, versionResponse{
		Version:  versioninfo.Short(),
		Revision: versioninfo.Revision,
		Commit:   versioninfo.LastCommit,
		Dirty:    versioninfo.DirtyBuild,
	})
}

func (s *Server) StateHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Snapshot())
}

func (s *Server) LatestMeasurementHandler(c echo.Context) error {
	m, ok := s.engine.LatestMeasurement()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no measurement yet")
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) MeasurementSnapshotHandler(c echo.Context) error {
	n, err := intParam(c, "n", defaultSnapshotSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.engine.Measurements(n))
}

func (s *Server) VoltageSnapshotHandler(c echo.Context) error {
	n, err := intParam(c, "n", defaultSnapshotSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.engine.VoltageSamples(n))
}

func (s *Server) HistoryHandler(c echo.Context) error {
	to := time.Now()
	from := to.Add(-time.Hour)
	var err error
	if v := c.QueryParam("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "from must be RFC3339")
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "to must be RFC3339")
		}
	}
	if to.Before(from) {
		return echo.NewHTTPError(http.StatusBadRequest, "to is before from")
	}
	limit, err := intParam(c, "limit", defaultHistoryLimit)
	if err != nil {
		return err
	}
	measurements, err := s.engine.History(c.Request().Context(), from, to, limit)
	if err != nil {
		s.logger.Error("http: history query failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, measurements)
}

func (s *Server) ActionsHandler(c echo.Context) error {
	limit, err := intParam(c, "limit", defaultActionsLimit)
	if err != nil {
		return err
	}
	actions, err := s.engine.Actions(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error("http: actions query failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, actions)
}

func (s *Server) GetConfigHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Config())
}

func (s *Server) PutConfigHandler(c echo.Context) error {
	var req configRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid config body")
	}
	cfg := s.engine.Config()
	if req.PollIntervalMillis != nil {
		cfg.PollInterval = time.Duration(*req.PollIntervalMillis) * time.Millisecond
	}
	if req.VoltagePollIntervalMillis != nil {
		cfg.VoltagePollInterval = time.Duration(*req.VoltagePollIntervalMillis) * time.Millisecond
	}
	if req.LowVoltageThreshold != nil {
		cfg.LowVoltageThreshold = *req.LowVoltageThreshold
	}
	if req.ChargeLimitSoC != nil {
		cfg.ChargeLimitSoC = *req.ChargeLimitSoC
	}
	if req.PVOkThreshold != nil {
		cfg.PVOkThreshold = *req.PVOkThreshold
	}
	if req.SoCFloorVoltage != nil {
		cfg.SoCFloorVoltage = *req.SoCFloorVoltage
	}
	if req.SoCCeilingVoltage != nil {
		cfg.SoCCeilingVoltage = *req.SoCCeilingVoltage
	}
	if req.ChargeRelayChannel != nil {
		cfg.ChargeRelayChannel = domain.RelayChannel(*req.ChargeRelayChannel)
	}
	if req.PortIdentifier != nil {
		cfg.PortIdentifier = *req.PortIdentifier
	}
	if err := s.engine.ApplyConfig(cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, cfg)
}

func (s *Server) AutoControlHandler(c echo.Context) error {
	var req autoControlRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled is required")
	}
	s.engine.SetAutoControl(*req.Enabled)
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) PortsHandler(c echo.Context) error {
	ports, err := s.engine.Ports()
	if err != nil {
		s.logger.Warn("http: list ports failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, portsResponse{Ports: ports, Current: s.engine.Config().PortIdentifier})
}

func (s *Server) ConnectHandler(c echo.Context) error {
	var req connectRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
		}
	}
	s.engine.Connect(req.Port)
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) DisconnectHandler(c echo.Context) error {
	s.engine.Disconnect()
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) RelayHandler(c echo.Context) error {
	var req relayRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	channel := domain.RelayChannel(req.Channel)
	if req.Relay != "" {
		named, ok := domain.RelayChannelByName(req.Relay)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown relay "+req.Relay)
		}
		channel = named
	}
	state := domain.RelayState(req.State)
	if !state.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "state must be on or off")
	}
	if err := s.engine.SetRelay(channel, state); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) RawCommandHandler(c echo.Context) error {
	name := c.Param("name")
	ctx, cancel := context.WithTimeout(c.Request().Context(), commandTimeout)
	defer cancel()
	lines, err := s.engine.Raw(ctx, name)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, rawResponse{Command: name, Lines: lines})
	case errors.Is(err, domain.ErrUnknownCommand):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrRelayCommand):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case vcmon.IsTransportError(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		s.logger.Warn("http: raw command failed", zap.String("command", name), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}

func intParam(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a positive integer")
	}
	return n, nil
}
