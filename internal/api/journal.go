package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"papertrade-core/pkg/db"
)

// Handlers over the persisted compliance journal. Unlike the in-memory
// views these survive a restart.

func (s *Server) requireDB(c *gin.Context) bool {
	if s.DB == nil {
		respondError(c, http.StatusServiceUnavailable, "PERSISTENCE_DISABLED", "no database configured")
		return false
	}
	return true
}

func (s *Server) journalOrders(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.DB.Queries().GetOrdersByUser(c.Request.Context(), CurrentUserID(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if rows == nil {
		rows = []db.OrderRow{}
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) journalTrades(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	r, err := parseRange(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rows, err := s.DB.Queries().GetTradesByUser(c.Request.Context(), CurrentUserID(c), r.From, r.To)
	if err != nil {
		writeError(c, err)
		return
	}
	if rows == nil {
		rows = []db.TradeRow{}
	}
	c.JSON(http.StatusOK, rows)
}

// getCredential reports what is stored for an exchange. Sealed material
// never leaves the server.
func (s *Server) getCredential(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	row, err := s.DB.Queries().GetCredential(c.Request.Context(), CurrentUserID(c), strings.ToLower(c.Param("exchange")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exchange":    row.Exchange,
		"keyVersion":  row.KeyVersion,
		"riskLevel":   row.RiskLevel,
		"readOnly":    row.ReadOnly,
		"validatedAt": row.ValidatedAt.UTC(),
		"hasSecret":   row.APISecretSealed != "",
	})
}

func (s *Server) deleteCredential(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	if err := s.DB.Queries().DeleteCredential(c.Request.Context(), CurrentUserID(c), strings.ToLower(c.Param("exchange"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) auditSummary(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	counts, err := s.DB.Queries().CountAuditEventsByRisk(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"persisted": counts}
	if s.Guard != nil {
		resp["safetyScore"] = s.Guard.SafetyScore()
	}
	c.JSON(http.StatusOK, resp)
}
