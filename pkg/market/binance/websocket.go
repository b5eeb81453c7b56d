package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamClient reads Binance public websocket streams.
type StreamClient struct {
	BaseURL string // e.g. wss://stream.binance.com:9443
	dialer  *websocket.Dialer
	log     *zap.Logger
}

// NewStreamClient builds a stream client; testnet toggles the host.
func NewStreamClient(testnet bool, logger *zap.Logger) *StreamClient {
	host := "stream.binance.com:9443"
	if testnet {
		host = "testnet.binance.vision"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamClient{
		BaseURL: (&url.URL{Scheme: "wss", Host: host}).String(),
		dialer:  websocket.DefaultDialer,
		log:     logger.Named("binance.ws"),
	}
}

// SubscribeMiniTickers opens one combined stream for all symbols and emits
// parsed mini tickers. The channel closes when ctx ends, the connection
// drops or stop is called.
func (c *StreamClient) SubscribeMiniTickers(ctx context.Context, symbols []string) (<-chan MiniTicker, func(), error) {
	if len(symbols) == 0 {
		return nil, nil, fmt.Errorf("no symbols to subscribe")
	}
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		// Binance requires lowercase symbols for websocket streams.
		streams = append(streams, strings.ToLower(s)+"@miniTicker")
	}
	u := fmt.Sprintf("%s/stream?streams=%s", c.BaseURL, strings.Join(streams, "/"))

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial binance ws: %w", err)
	}

	out := make(chan MiniTicker, 100)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	go func() {
		defer close(out)
		defer stop()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
					!strings.Contains(err.Error(), "use of closed network connection") {
					c.log.Warn("read error", zap.Error(err))
				}
				return
			}

			parsed, err := parseMiniTicker(msg)
			if err != nil {
				c.log.Debug("parse error", zap.Error(err))
				continue
			}
			select {
			case out <- parsed:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}

// parseMiniTicker accepts both the combined-stream wrapper and a bare payload.
func parseMiniTicker(msg []byte) (MiniTicker, error) {
	var wrapper struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &wrapper); err == nil && len(wrapper.Data) > 0 {
		msg = wrapper.Data
	}

	var raw struct {
		Event       string `json:"e"`
		EventTime   any    `json:"E"`
		Symbol      string `json:"s"`
		Close       string `json:"c"`
		Open        string `json:"o"`
		High        string `json:"h"`
		Low         string `json:"l"`
		Volume      string `json:"v"`
		QuoteVolume string `json:"q"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return MiniTicker{}, err
	}
	if raw.Event != "24hrMiniTicker" {
		return MiniTicker{}, fmt.Errorf("unexpected event %q", raw.Event)
	}
	t := MiniTicker{
		Symbol:      raw.Symbol,
		Close:       toFloat(raw.Close),
		Open:        toFloat(raw.Open),
		High:        toFloat(raw.High),
		Low:         toFloat(raw.Low),
		Volume:      toFloat(raw.Volume),
		QuoteVolume: toFloat(raw.QuoteVolume),
		Time:        toInt64(raw.EventTime),
	}
	if t.Close <= 0 {
		return MiniTicker{}, fmt.Errorf("non-positive close for %s", raw.Symbol)
	}
	return t, nil
}
