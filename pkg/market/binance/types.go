package binance

// MiniTicker is the rolling 24h summary pushed on the miniTicker stream.
type MiniTicker struct {
	Symbol      string
	Close       float64
	Open        float64
	High        float64
	Low         float64
	Volume      float64 // base asset
	QuoteVolume float64
	Time        int64 // ms
}

// Ticker24h is the REST rolling-window statistics snapshot.
type Ticker24h struct {
	Symbol             string
	LastPrice          float64
	PriceChangePercent float64
	High               float64
	Low                float64
	Volume             float64
	QuoteVolume        float64
}

// BookTicker holds best bid/ask.
type BookTicker struct {
	Symbol   string
	BidPrice float64
	AskPrice float64
}

// SpreadPercent is (ask-bid)/mid in percent; 0 when the book is empty.
func (b BookTicker) SpreadPercent() float64 {
	mid := (b.BidPrice + b.AskPrice) / 2
	if mid <= 0 || b.AskPrice < b.BidPrice {
		return 0
	}
	return (b.AskPrice - b.BidPrice) / mid * 100
}
