package venue

import (
	"context"
	"testing"
	"time"
)

func sampleCandles(n int) []Candle {
	out := make([]Candle, n)
	for i := 0; i < n; i++ {
		out[i] = Candle{TsMs: int64(i), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10, Closed: true}
	}
	return out
}

func TestOfflineVenueKlinesReturnsTailWindow(t *testing.T) {
	v := NewOfflineVenue("offline", sampleCandles(10), nil, nil, Filters{}, FundingUpdate{})
	got, err := v.Klines(context.Background(), "BTCUSDT", "5m", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	if got[2].TsMs != 9 {
		t.Fatalf("expected last candle ts 9, got %d", got[2].TsMs)
	}
}

func TestOfflineVenueKlinesLimitBeyondLengthReturnsAll(t *testing.T) {
	v := NewOfflineVenue("offline", sampleCandles(4), nil, nil, Filters{}, FundingUpdate{})
	got, err := v.Klines(context.Background(), "BTCUSDT", "5m", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 candles, got %d", len(got))
	}
}

func TestOfflineVenueSubscribeReplaysFixture(t *testing.T) {
	v := NewOfflineVenue("offline", sampleCandles(3), nil, nil, Filters{}, FundingUpdate{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stream, err := v.Subscribe(ctx, "BTCUSDT", "5m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count := 0
	for range stream.Candles {
		count++
	}
	if count != 3 {
		t.Fatalf("expected 3 replayed candles, got %d", count)
	}
}

func TestOfflineVenuePremiumIndexReturnsFixture(t *testing.T) {
	v := NewOfflineVenue("offline", nil, nil, nil, Filters{}, FundingUpdate{TsMs: 5, FundingRate: 0.0001})
	got, err := v.PremiumIndex(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FundingRate != 0.0001 {
		t.Fatalf("expected fixture funding rate, got %v", got.FundingRate)
	}
}

func TestOfflineVenueBookTickerErrorsWithNoFixture(t *testing.T) {
	v := NewOfflineVenue("offline", nil, nil, nil, Filters{}, FundingUpdate{})
	_, err := v.BookTicker(context.Background(), "BTCUSDT")
	if err == nil {
		t.Fatal("expected error when no ticker fixture is loaded")
	}
}
