package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/syntaxvpn/vpnpool/internal/pool"
	"github.com/syntaxvpn/vpnpool/internal/report"
	"github.com/syntaxvpn/vpnpool/internal/selector"

	log "github.com/sirupsen/logrus"
)

const maxUsersLimit = 1000

// Reports is the read model behind the dashboard.
type Reports interface {
	Stats(ctx context.Context) (report.Stats, error)
	Users(ctx context.Context, limit int, search string) ([]report.UserReport, error)
	Pool(ctx context.Context) (pool.Stats, error)
	Connections(ctx context.Context) ([]report.ConnectionReport, error)
}

// Loads reports live server occupancy.
type Loads interface {
	Snapshot(ctx context.Context) []selector.ServerLoad
}

// ReportHandler serves read-only admin projections.
type ReportHandler struct {
	reports Reports
	loads   Loads
}

// NewReportHandler constructs a ReportHandler. loads may be nil.
func NewReportHandler(reports Reports, loads Loads) *ReportHandler {
	return &ReportHandler{reports: reports, loads: loads}
}

// Stats returns user, subscription, revenue and load totals.
func (h *ReportHandler) Stats(c *gin.Context) {
	stats, errStats := h.reports.Stats(c.Request.Context())
	if errStats != nil {
		log.WithError(errStats).Error("admin: stats failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Users lists the most recent users with their active subscription, filtered
// by ?q= when present.
func (h *ReportHandler) Users(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(parsed, maxUsersLimit)
	}
	users, errUsers := h.reports.Users(c.Request.Context(), limit, c.Query("q"))
	if errUsers != nil {
		log.WithError(errUsers).Error("admin: list users failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// Pool returns identifier usage per server.
func (h *ReportHandler) Pool(c *gin.Context) {
	stats, errStats := h.reports.Pool(c.Request.Context())
	if errStats != nil {
		log.WithError(errStats).Error("admin: pool stats failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pool stats failed"})
		return
	}
	servers := make([]gin.H, 0, len(stats.Servers))
	for _, s := range stats.Servers {
		servers = append(servers, gin.H{
			"server": s.Server,
			"used":   s.Used,
			"free":   s.Free(),
			"total":  s.Total,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"free":    stats.Free,
		"total":   stats.Total,
		"servers": servers,
	})
}

// Connections returns device counts per live subscription.
func (h *ReportHandler) Connections(c *gin.Context) {
	rows, errRows := h.reports.Connections(c.Request.Context())
	if errRows != nil {
		log.WithError(errRows).Error("admin: connections failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "connections failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": rows})
}

// Servers returns the current load snapshot.
func (h *ReportHandler) Servers(c *gin.Context) {
	if h.loads == nil {
		c.JSON(http.StatusOK, gin.H{"servers": []selector.ServerLoad{}})
		return
	}
	loads := h.loads.Snapshot(c.Request.Context())
	best, ok := selector.Pick(loads)
	c.JSON(http.StatusOK, gin.H{"servers": loads, "selected": best, "available": ok})
}
