package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"papertrade-core/internal/market"
	"papertrade-core/internal/papertrade"
	"papertrade-core/internal/portfolio"
	"papertrade-core/internal/safety"
	"papertrade-core/internal/simulation"
	"papertrade-core/pkg/db"
	"papertrade-core/pkg/trading"
)

const maxBatchOrders = 50

var errInvalidJSON = errors.New("request body must be a JSON object")

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// errorStatus maps a service error onto an HTTP status and error code.
func errorStatus(err error) (int, string) {
	var (
		cfgErr  *safety.ConfigurationError
		blocked *safety.RealMoneyOperationBlockedError
		permErr *safety.PermissionValidationError
		valErr  *simulation.ValidationError
		balErr  *portfolio.InsufficientBalanceError
		posErr  *portfolio.InsufficientPositionError
	)
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusServiceUnavailable, "PAPER_MODE_VIOLATION"
	case errors.As(err, &blocked):
		return http.StatusForbidden, "REAL_MONEY_BLOCKED"
	case errors.As(err, &permErr):
		return http.StatusForbidden, "CREDENTIAL_REJECTED"
	case errors.As(err, &valErr), errors.Is(err, errInvalidJSON):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, portfolio.ErrInvalidTrade), errors.Is(err, portfolio.ErrInvalidInitialAmount),
		errors.Is(err, portfolio.ErrUserIDRequired), errors.Is(err, db.ErrUserIDRequired):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.As(err, &balErr):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"
	case errors.As(err, &posErr):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_POSITION"
	case errors.Is(err, simulation.ErrOrderNotFound), errors.Is(err, portfolio.ErrPortfolioNotFound),
		errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "REQUEST_TIMEOUT"
	case errors.Is(err, papertrade.ErrDispatcherClosed):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	respondError(c, status, code, err.Error())
}

// decodeBody converts the certified body into dst.
func decodeBody(c *gin.Context, dst any) error {
	cert := certified(c)
	if cert == nil {
		return papertrade.ErrNotCertified
	}
	raw, err := json.Marshal(cert.Body())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errInvalidJSON
	}
	return nil
}

// parseRange reads from/to as RFC3339 or unix milliseconds.
func parseRange(c *gin.Context) (trading.TimeRange, error) {
	var r trading.TimeRange
	var err error
	if r.From, err = parseTime(c.Query("from")); err != nil {
		return r, err
	}
	if r.To, err = parseTime(c.Query("to")); err != nil {
		return r, err
	}
	return r, nil
}

func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &simulation.ValidationError{Field: "range", Reason: "use RFC3339 or unix milliseconds"}
	}
	return t.UTC(), nil
}

func (s *Server) getSystemStatus(c *gin.Context) {
	resp := gin.H{
		"meta":      s.Meta,
		"timestamp": time.Now().UTC(),
	}
	if s.Guard != nil {
		resp["safetyScore"] = s.Guard.SafetyScore()
		resp["paperTradingValid"] = s.Guard.ValidatePaperTradingMode() == nil
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_DISABLED", "metrics are not enabled")
		return
	}
	resp := gin.H{"simulation": s.Metrics.GetSnapshot()}
	if s.Bus != nil {
		sent, dropped := s.Bus.Stats()
		resp["events"] = gin.H{"sent": sent, "dropped": dropped}
	}
	if s.Dispatcher != nil {
		resp["batchPending"] = s.Dispatcher.Pending()
	}
	if s.Journal != nil {
		resp["journal"] = s.Journal.GetMetrics()
		resp["journalPending"] = s.Journal.Pending()
	}
	c.JSON(http.StatusOK, resp)
}

// ----------------------------------------
// Portfolio
// ----------------------------------------

func (s *Server) initPortfolio(c *gin.Context) {
	var req struct {
		InitialBalance float64 `json:"initialBalance"`
	}
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}
	bal, created, err := s.Svc.InitializePortfolio(CurrentUserID(c), req.InitialBalance)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"balance": bal, "created": created, "isPaperTrade": true})
}

func (s *Server) getPortfolio(c *gin.Context) {
	sum, err := s.Svc.Portfolio(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) getTrades(c *gin.Context) {
	r, err := parseRange(c)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Svc.TradeHistory(CurrentUserID(c), r))
}

// ----------------------------------------
// Orders
// ----------------------------------------

func (s *Server) placeOrder(c *gin.Context) {
	order, err := s.Svc.PlaceOrder(c.Request.Context(), certified(c))
	if err != nil {
		status, code := errorStatus(err)
		resp := gin.H{"code": code, "error": err.Error()}
		if order != nil {
			resp["order"] = order
		}
		c.JSON(status, resp)
		return
	}
	c.JSON(http.StatusCreated, order)
}

type batchItem struct {
	Index   int                     `json:"index"`
	Success bool                    `json:"success"`
	Order   *trading.SimulatedOrder `json:"order,omitempty"`
	Code    string                  `json:"code,omitempty"`
	Error   string                  `json:"error,omitempty"`
	Latency int64                   `json:"latencyMs"`
}

func (s *Server) placeBatch(c *gin.Context) {
	if s.Dispatcher == nil {
		respondError(c, http.StatusServiceUnavailable, "BATCH_DISABLED", "batch submission is not enabled")
		return
	}
	var req struct {
		Orders []map[string]any `json:"orders"`
	}
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}
	if len(req.Orders) == 0 || len(req.Orders) > maxBatchOrders {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "orders must hold 1 to 50 entries")
		return
	}

	reqs := make([]safety.InboundRequest, len(req.Orders))
	for i, body := range req.Orders {
		reqs[i] = safety.InboundRequest{
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			UserID: CurrentUserID(c),
			Body:   body,
		}
	}
	results, err := s.Dispatcher.SubmitBatch(c.Request.Context(), reqs)
	if err != nil && results == nil {
		writeError(c, err)
		return
	}

	out := make([]batchItem, len(results))
	filled := 0
	for i, r := range results {
		item := batchItem{Index: r.Index, Success: r.Success, Order: r.Order, Latency: r.Latency.Milliseconds()}
		if r.Error != nil {
			_, item.Code = errorStatus(r.Error)
			item.Error = r.ErrorMsg
		} else if r.Order != nil && r.Order.Status == trading.StatusFilled {
			filled++
		}
		out[i] = item
	}
	c.JSON(http.StatusOK, gin.H{"results": out, "submitted": len(out), "filled": filled})
}

func (s *Server) listOrders(c *gin.Context) {
	orders := s.Svc.Orders(CurrentUserID(c))
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit < len(orders) {
		orders = orders[:limit]
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) getOrder(c *gin.Context) {
	o, err := s.Svc.Order(CurrentUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) cancelOrder(c *gin.Context) {
	o, ok, err := s.Svc.CancelOrder(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{
			"code":  "ORDER_NOT_CANCELLABLE",
			"error": "order is already " + string(o.Status),
			"order": o,
		})
		return
	}
	c.JSON(http.StatusOK, o)
}

// ----------------------------------------
// Market conditions
// ----------------------------------------

func (s *Server) getConditions(c *gin.Context) {
	c.JSON(http.StatusOK, s.Svc.MarketConditions(c.Param("symbol")))
}

func (s *Server) updateConditions(c *gin.Context) {
	var u market.ConditionsUpdate
	if err := decodeBody(c, &u); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Svc.UpdateMarketConditions(CurrentUserID(c), c.Param("symbol"), u))
}

// ----------------------------------------
// Credentials / security
// ----------------------------------------

func (s *Server) registerCredential(c *gin.Context) {
	var req struct {
		Exchange  string `json:"exchange"`
		APIKey    string `json:"apiKey"`
		APISecret string `json:"apiSecret"`
	}
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}
	if strings.TrimSpace(req.Exchange) == "" || strings.TrimSpace(req.APIKey) == "" {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "exchange and apiKey are required")
		return
	}

	status, err := s.Svc.RegisterCredential(c.Request.Context(), CurrentUserID(c),
		strings.ToLower(strings.TrimSpace(req.Exchange)), req.APIKey, req.APISecret)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, status)
	case errors.Is(err, papertrade.ErrCredentialStoreDisabled):
		c.JSON(http.StatusOK, status)
	default:
		code, name := errorStatus(err)
		c.JSON(code, gin.H{"code": name, "error": err.Error(), "validation": status.Validation})
	}
}

func (s *Server) getSafetyScore(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"safetyScore": s.Svc.SafetyScore()})
}

// ----------------------------------------
// Admin
// ----------------------------------------

func (s *Server) resetPortfolio(c *gin.Context) {
	existed, err := s.Svc.ResetPortfolio(c.Request.Context(), CurrentUserID(c), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": existed})
}

func (s *Server) exportAudit(c *gin.Context) {
	c.JSON(http.StatusOK, s.Svc.SecurityExport())
}

func (s *Server) listAuditEvents(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	since, err := parseTime(c.Query("since"))
	if err != nil {
		writeError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.DB.Queries().ListAuditEvents(c.Request.Context(), since, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		out = append(out, gin.H{
			"id":        r.ID,
			"timestamp": r.Timestamp.UTC(),
			"event":     r.Name,
			"userId":    r.UserID,
			"riskLevel": r.RiskLevel,
			"details":   json.RawMessage(r.Details),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getAuditReport(c *gin.Context) {
	r, err := parseRange(c)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Svc.AuditReport(r))
}

func (s *Server) reconcile(c *gin.Context) {
	if s.Reconciler == nil {
		respondError(c, http.StatusServiceUnavailable, "RECONCILIATION_DISABLED", "reconciliation is not enabled")
		return
	}
	r, err := parseRange(c)
	if err != nil {
		writeError(c, err)
		return
	}
	report, err := s.Reconciler.Reconcile(c.Request.Context(), r)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
