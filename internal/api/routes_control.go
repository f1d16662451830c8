package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ticlink-project/ticlink/internal/db"
	"github.com/ticlink-project/ticlink/internal/netgame"
	"github.com/ticlink-project/ticlink/internal/session"
	"github.com/ticlink-project/ticlink/internal/xcmd"
)

type reasonRequest struct {
	Reason string `json:"reason"`
}

type adminRequest struct {
	Granted bool `json:"granted"`
}

type banRequest struct {
	Address string `json:"address" binding:"required"`
	Name    string `json:"name"`
	Reason  string `json:"reason"`
}

type sayRequest struct {
	Message string `json:"message" binding:"required"`
}

// bindOptional accepts an empty body.
func bindOptional(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (s *Server) handleKick(c *gin.Context) {
	slot, ok := parseSlot(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	err := s.do(c, func(h *netgame.Host) error {
		return h.Kick(slot, xcmd.KickCustomKick, req.Reason)
	})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "slot": slot})
		return
	}
	s.logger.Info().Int("slot", slot).Str("reason", req.Reason).Msg("API: player kicked")
	c.JSON(http.StatusOK, gin.H{"status": "kicked", "slot": slot})
}

func (s *Server) handleBanPlayer(c *gin.Context) {
	slot, ok := parseSlot(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	err := s.do(c, func(h *netgame.Host) error {
		return h.Ban(slot, req.Reason)
	})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "slot": slot})
		return
	}
	s.logger.Info().Int("slot", slot).Str("reason", req.Reason).Msg("API: player banned")
	c.JSON(http.StatusOK, gin.H{"status": "banned", "slot": slot})
}

func (s *Server) handleAdmin(c *gin.Context) {
	slot, ok := parseSlot(c)
	if !ok {
		return
	}
	var req adminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.do(c, func(h *netgame.Host) error {
		return h.SetAdmin(slot, req.Granted)
	})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "slot": slot})
		return
	}
	c.JSON(http.StatusOK, gin.H{"slot": slot, "admin": req.Granted})
}

func (s *Server) handleAddBan(c *gin.Context) {
	if s.deps.Bans == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no ban store"})
		return
	}
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := db.ValidBanAddress(req.Address); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ban := session.Ban{Address: req.Address, Name: req.Name, Reason: req.Reason, Created: time.Now()}
	if err := s.deps.Bans.AddBan(ban); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().Str("address", req.Address).Msg("API: address banned")
	c.JSON(http.StatusCreated, ban)
}

func (s *Server) handleRemoveBan(c *gin.Context) {
	addr := c.Query("address")
	if addr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}
	var removed bool
	err := s.do(c, func(h *netgame.Host) error {
		var err error
		removed, err = h.Unban(addr)
		return err
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "address not banned", "address": addr})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unbanned", "address": addr})
}

func (s *Server) handleSay(c *gin.Context) {
	var req sayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.do(c, func(h *netgame.Host) error { return h.Say(req.Message) }); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) handleShutdown(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "shutdown requested over API"
	}
	err := s.do(c, func(h *netgame.Host) error {
		h.Shutdown(req.Reason)
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "shutting down", "reason": req.Reason})
}
