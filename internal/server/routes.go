package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/battexec/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const REQUEST_TIMEOUT = 10 * time.Second

type errorBody struct {
	Error string `json:"error"`
}

type statusBody struct {
	Version       string                      `json:"version"`
	Installations []domain.InstallationStatus `json:"installations"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/status", s.StatusHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := e.Group("/installations/:id")
	g.GET("/status", s.InstallationStatusHandler)
	g.POST("/trigger", s.TriggerHandler)
	g.POST("/enable", s.EnableHandler(true))
	g.POST("/disable", s.EnableHandler(false))

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, REQUEST_TIMEOUT).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) StatusHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetStatusRequest{}, REQUEST_TIMEOUT).Result()
	if err != nil {
		return errorResponse(c, err)
	}
	resp, ok := res.(domain.GetStatusResponse)
	if !ok {
		return errorResponse(c, errors.New("unexpected response"))
	}
	if resp.HasResponseError() {
		return errorResponse(c, resp.GetResponseError())
	}
	return c.JSON(http.StatusOK, statusBody{Version: resp.Version, Installations: resp.Installations})
}

func (s *Server) InstallationStatusHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetInstallationStatusRequest{
		InstallationRequestMixIn: installation(c),
	}, REQUEST_TIMEOUT).Result()
	if err != nil {
		return errorResponse(c, err)
	}
	resp, ok := res.(domain.GetInstallationStatusResponse)
	if !ok {
		return errorResponse(c, errors.New("unexpected response"))
	}
	if resp.HasResponseError() {
		return errorResponse(c, resp.GetResponseError())
	}
	return c.JSON(http.StatusOK, resp.Status)
}

// TriggerHandler runs a manual tick and answers with its execution record.
func (s *Server) TriggerHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.TriggerTickRequest{
		InstallationRequestMixIn: installation(c),
	}, s.tickTimeout).Result()
	if err != nil {
		return errorResponse(c, err)
	}
	resp, ok := res.(domain.TriggerTickResponse)
	if !ok {
		return errorResponse(c, errors.New("unexpected response"))
	}
	if resp.HasResponseError() {
		return errorResponse(c, resp.GetResponseError())
	}
	return c.JSON(http.StatusOK, resp.Record)
}

func (s *Server) EnableHandler(enabled bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := s.rootContext.RequestFuture(s.masterActor, domain.SetOptimizationEnabledRequest{
			InstallationRequestMixIn: installation(c),
			Enabled:                  enabled,
		}, REQUEST_TIMEOUT).Result()
		if err != nil {
			return errorResponse(c, err)
		}
		resp, ok := res.(domain.SetOptimizationEnabledResponse)
		if !ok {
			return errorResponse(c, errors.New("unexpected response"))
		}
		if resp.HasResponseError() {
			return errorResponse(c, resp.GetResponseError())
		}
		return c.JSON(http.StatusOK, map[string]bool{"optimization_enabled": resp.Enabled})
	}
}

func installation(c echo.Context) domain.InstallationRequestMixIn {
	return domain.InstallationRequestMixIn{InstallationId: c.Param("id")}
}

func errorResponse(c echo.Context, err error) error {
	var cfgErr *domain.ConfigurationError
	switch {
	case errors.Is(err, domain.ErrUnknownInstallation):
		return c.JSON(http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.As(err, &cfgErr):
		return c.JSON(http.StatusConflict, errorBody{Error: err.Error()})
	default:
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	}
}
