package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/ticlink-project/ticlink/internal/session"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "ticlink",
		"version": Version,
	})
}

// handleInfo is the public listing entry, roughly what a game client sees
// in its server browser.
func (s *Server) handleInfo(c *gin.Context) {
	nd := s.cfg.GetNetData()
	snap := s.host.Status().Snapshot()
	names := lo.Map(snap.Players, func(p session.PlayerView, _ int) string { return p.Name })

	c.JSON(http.StatusOK, gin.H{
		"server_name": nd.ServerName,
		"port":        nd.Port,
		"application": nd.Application,
		"version":     nd.Version,
		"subversion":  nd.Subversion,
		"map":         snap.MapName,
		"game_type":   snap.GameType,
		"players":     names,
		"max_players": nd.MaxPlayers,
		"allow_joins": nd.AllowJoins,
		"dedicated":   nd.Dedicated,
	})
}
