// Package api exposes the workflow engine over HTTP: health, execution
// inspection, variant listing, and selection changes.
package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chem-gl/cadma-flow-api/internal/store"
	"github.com/chem-gl/cadma-flow-api/internal/workflow"
)

// Server wires the engine into an echo instance.
type Server struct {
	engine *workflow.Engine
	log    *slog.Logger
}

// NewServer builds the HTTP layer over an engine.
func NewServer(engine *workflow.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: engine, log: log}
}

// Echo returns a configured echo instance with all routes mounted.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/health", s.health)
	e.GET("/executions/:id", s.getExecution)
	e.GET("/executions/:id/timeline", s.timeline)
	e.GET("/executions/:id/children", s.children)
	e.GET("/molecules/:id/properties/:property/variants", s.variants)
	e.POST("/executions/:id/selections", s.selectVariant)

	return e
}

// Start runs the server on addr, blocking until shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("http server starting", "addr", addr)
	return s.Echo().Start(addr)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getExecution(c echo.Context) error {
	exec, err := s.engine.Store().GetExecution(c.Request().Context(), c.Param("id"))
	if store.IsNotFound(err) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, exec)
}

func (s *Server) timeline(c echo.Context) error {
	events, err := s.engine.Timeline(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) children(c echo.Context) error {
	children, err := s.engine.ChildExecutions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, children)
}

func (s *Server) variants(c echo.Context) error {
	moleculeID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "molecule id must be an integer")
	}
	variants, err := s.engine.ListVariants(c.Request().Context(), moleculeID, c.Param("property"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, variants)
}

// selectVariantRequest is the body of POST /executions/:id/selections.
type selectVariantRequest struct {
	MoleculeID   int64  `json:"molecule_id"`
	PropertyName string `json:"property_name"`
	DataTypeName string `json:"data_type_name"`
	DataRecordID string `json:"data_record_id"`
	SelectedBy   string `json:"selected_by"`
}

func (s *Server) selectVariant(c echo.Context) error {
	var req selectVariantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.PropertyName == "" || req.DataTypeName == "" || req.DataRecordID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "property_name, data_type_name, and data_record_id are required")
	}

	result, err := s.engine.SelectPropertyVariant(c.Request().Context(), c.Param("id"),
		req.MoleculeID, req.PropertyName, req.DataTypeName, req.DataRecordID, req.SelectedBy)
	switch {
	case store.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case workflow.IsSelectionMismatch(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}
