package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/ticlink-project/ticlink/internal/netgame"
	"github.com/ticlink-project/ticlink/internal/util"
)

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.host.Status().Snapshot())
}

func (s *Server) handlePlayers(c *gin.Context) {
	players := s.host.Status().Snapshot().Players
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"total":   len(players),
	})
}

func (s *Server) handlePlayer(c *gin.Context) {
	slot, ok := parseSlot(c)
	if !ok {
		return
	}
	p, found := s.host.Status().Player(slot)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found", "slot": slot})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleNodes(c *gin.Context) {
	nodes := s.host.Status().Snapshot().Nodes
	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"total": len(nodes),
	})
}

func (s *Server) handleLag(c *gin.Context) {
	if s.deps.Lag == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lag monitor disabled"})
		return
	}
	players := lo.Values(s.deps.Lag.Players())
	sort.Slice(players, func(i, j int) bool { return players[i].Player < players[j].Player })
	nodes := lo.Values(s.deps.Lag.Nodes())
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Node < nodes[j].Node })
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"nodes":   nodes,
	})
}

func (s *Server) handlePlayerLag(c *gin.Context) {
	if s.deps.Lag == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lag monitor disabled"})
		return
	}
	slot, ok := parseSlot(c)
	if !ok {
		return
	}
	data, found := s.deps.Lag.Player(slot)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no samples for player", "slot": slot})
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) handleLagAlerts(c *gin.Context) {
	if s.deps.Lag == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lag monitor disabled"})
		return
	}
	alerts := s.deps.Lag.CheckThresholds()
	if alerts == nil {
		alerts = []netgame.LagAlert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) handleBans(c *gin.Context) {
	if s.deps.Bans == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no ban store"})
		return
	}
	bans, err := s.deps.Bans.ListBans()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bans":  bans,
		"total": len(bans),
	})
}

func (s *Server) handleIncidents(c *gin.Context) {
	if s.deps.Incidents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "incident log disabled"})
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	list, err := s.deps.Incidents.Incidents(c.Query("kind"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"incidents": list,
		"total":     len(list),
	})
}

func (s *Server) handleIncident(c *gin.Context) {
	if s.deps.Incidents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "incident log disabled"})
		return
	}
	inc, found, err := s.deps.Incidents.Incident(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (s *Server) handleSystem(c *gin.Context) {
	usage, err := util.GetProcessUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"system":  util.GetSystemInfo(),
		"process": usage,
	})
}

func parseSlot(c *gin.Context) (int, bool) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || slot < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid player slot"})
		return 0, false
	}
	return slot, true
}
