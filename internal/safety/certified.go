package safety

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"papertrade-core/pkg/trading"
)

// InboundRequest is what the transport hands the guard: the user is already
// authenticated, the body already decoded.
type InboundRequest struct {
	Method string
	Path   string
	UserID string
	Body   map[string]any
}

// Certified is a request that passed InterceptTradingOperations. Its fields
// are unexported and the guard is the only constructor, so holding one
// proves the request was checked and stamped.
type Certified struct {
	method      string
	path        string
	userID      string
	body        map[string]any
	trading     bool
	certifiedAt time.Time
}

// Body returns a copy of the stamped body.
func (c *Certified) Body() map[string]any {
	return cloneBody(c.body).(map[string]any)
}

func (c *Certified) Method() string         { return c.method }
func (c *Certified) Path() string           { return c.path }
func (c *Certified) UserID() string         { return c.userID }
func (c *Certified) Trading() bool          { return c.trading }
func (c *Certified) CertifiedAt() time.Time { return c.certifiedAt }

// DecodeOrder reads an OrderRequest out of the stamped body. Unknown sides
// and types pass through unchanged for the engine to reject; a missing type
// means market.
func (c *Certified) DecodeOrder() (trading.OrderRequest, error) {
	b := c.body
	req := trading.OrderRequest{
		UserID:        c.userID,
		Symbol:        strings.ToUpper(stringField(b, "symbol")),
		Exchange:      strings.ToLower(stringField(b, "exchange")),
		ClientOrderID: stringField(b, "clientOrderId", "client_order_id", "newClientOrderId"),
	}

	rawSide := stringField(b, "side")
	if side, ok := trading.ParseSide(rawSide); ok {
		req.Side = side
	} else {
		req.Side = trading.Side(strings.ToLower(rawSide))
	}

	rawType := stringField(b, "orderType", "type")
	if rawType == "" {
		req.Type = trading.OrderTypeMarket
	} else if typ, ok := trading.ParseOrderType(rawType); ok {
		req.Type = typ
	} else {
		req.Type = trading.OrderType(strings.ToLower(rawType))
	}

	var err error
	if req.Quantity, err = numberField(b, "quantity", "qty", "amount"); err != nil {
		return req, err
	}
	if req.Price, err = numberField(b, "price"); err != nil {
		return req, err
	}
	return req, nil
}

func stringField(b map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := b[k]; ok && v != nil {
			return strings.TrimSpace(describe(v))
		}
	}
	return ""
}

func numberField(b map[string]any, keys ...string) (float64, error) {
	for _, k := range keys {
		v, ok := b[k]
		if !ok || v == nil {
			continue
		}
		var f float64
		switch t := v.(type) {
		case float64:
			f = t
		case int:
			f = float64(t)
		case int64:
			f = float64(t)
		case string:
			if strings.TrimSpace(t) == "" {
				continue
			}
			parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return 0, fmt.Errorf("%s: not a number: %q", k, t)
			}
			f = parsed
		default:
			return 0, fmt.Errorf("%s: unsupported type %T", k, v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("%s: not finite", k)
		}
		return f, nil
	}
	return 0, nil
}
