// Package models holds the tick payload types exchanged between stages.
package models

import "strconv"

// RawTick is a single trade event as delivered by the Binance trade stream.
// Field tags follow the exchange's wire names; price and quantity arrive as
// decimal strings and stay untouched until normalization.
type RawTick struct {
	EventType     string `json:"e"`
	EventTimeMs   int64  `json:"E"`
	Symbol        string `json:"s"`
	TradeID       int64  `json:"t"`
	Price         string `json:"p"`
	Qty           string `json:"q"`
	TradeTimeMs   int64  `json:"T"`
	IsMarketMaker bool   `json:"m"`
}

// NormalizedTick is the canonical tick republished on the norm topic and
// ultimately written to the sink.
type NormalizedTick struct {
	TsMs    int64   `json:"ts_ms"`
	Symbol  string  `json:"symbol"`
	Price   float64 `json:"price"`
	Qty     float64 `json:"qty"`
	TradeID int64   `json:"trade_id"`
	IsBM    bool    `json:"is_bm"`
}

// Normalize canonicalizes a raw tick. Trade time, trade id, symbol and the
// maker flag are copied verbatim. Price and quantity are parsed from their
// decimal strings; an unparseable value defaults to 0.0 instead of rejecting
// the tick. That keeps a bad field from killing the message, at the cost of
// a data-quality hole the sink cannot distinguish from a real zero.
func Normalize(raw RawTick) NormalizedTick {
	return NormalizedTick{
		TsMs:    raw.TradeTimeMs,
		Symbol:  raw.Symbol,
		Price:   parseDecimal(raw.Price),
		Qty:     parseDecimal(raw.Qty),
		TradeID: raw.TradeID,
		IsBM:    raw.IsMarketMaker,
	}
}

func parseDecimal(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
