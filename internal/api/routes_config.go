package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ticlink-project/ticlink/internal/config"
	"github.com/ticlink-project/ticlink/internal/events"
)

type netFieldRequest struct {
	Field string      `json:"field" binding:"required"`
	Value interface{} `json:"value"`
}

// handleGetConfig returns the configuration with secrets blanked.
func (s *Server) handleGetConfig(c *gin.Context) {
	nd := s.cfg.GetNetData()
	app := s.cfg.GetApplicationData()
	if nd.AdminPasswordHash != "" {
		nd.AdminPasswordHash = "********"
	}
	if app.API.Token != "" {
		app.API.Token = "********"
	}
	c.JSON(http.StatusOK, gin.H{
		"net_data":         nd,
		"application_data": app,
	})
}

// handleSetNetField changes one net_data field. Most fields apply on the
// next start.
func (s *Server) handleSetNetField(c *gin.Context) {
	var req netFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Field == "admin_password_hash" {
		c.JSON(http.StatusForbidden, gin.H{"error": "set the admin password from the command line"})
		return
	}
	previous := s.cfg.GetNetData()
	if err := s.cfg.UpdateNetField(req.Field, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if res := config.Validate(s.cfg); !res.IsValid() {
		s.cfg.SetNetData(previous)
		c.JSON(http.StatusBadRequest, gin.H{"error": "configuration invalid", "details": res.Errors})
		return
	}
	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.eventBus.Emit(c.Request.Context(), events.New(events.EventConfigChanged, "api", events.ConfigChangedPayload{
		Section: "net_data",
		Key:     req.Field,
		Value:   req.Value,
	}))
	s.logger.Info().Str("field", req.Field).Msg("API: net data updated")

	c.JSON(http.StatusOK, gin.H{"status": "updated", "field": req.Field})
}
