// Package rollup aggregates a base timeframe's bars into overlay timeframe
// bars (e.g. 12 x 5m -> 1h) deterministically.
package rollup

import "github.com/sawpanic/mtfengine/internal/domain"

// Buffer accumulates base bars for a single overlay timeframe and emits a
// rolled-up bar once N base bars have arrived.
type Buffer struct {
	n            int
	buf          []domain.Bar
	emittedCount int
}

// NewBuffer returns a Buffer that emits one overlay bar per n base bars.
func NewBuffer(n int) *Buffer {
	return &Buffer{n: n, buf: make([]domain.Bar, 0, n)}
}

// Push appends a base bar. When the buffer reaches N bars it returns the
// rolled-up overlay bar and true, and resets for the next window.
func (b *Buffer) Push(bar domain.Bar) (domain.Bar, bool) {
	b.buf = append(b.buf, bar)
	if len(b.buf) < b.n {
		return domain.Bar{}, false
	}

	first := b.buf[0]
	last := b.buf[len(b.buf)-1]
	high := first.High
	low := first.Low
	volume := 0.0
	for _, x := range b.buf {
		if x.High > high {
			high = x.High
		}
		if x.Low < low {
			low = x.Low
		}
		volume += x.Volume
	}

	out := domain.Bar{
		TsMs:   last.TsMs,
		BarID:  last.BarID,
		Open:   first.Open,
		High:   high,
		Low:    low,
		Close:  last.Close,
		Volume: volume,
	}

	b.buf = b.buf[:0]
	b.emittedCount++
	return out, true
}

// EmittedCount returns how many overlay bars this buffer has emitted.
func (b *Buffer) EmittedCount() int {
	return b.emittedCount
}

// Engine owns one Buffer per configured overlay timeframe name.
type Engine struct {
	buffers map[string]*Buffer
}

// NewEngine constructs an Engine from a timeframe-name -> N map, e.g.
// {"1h": 12, "12h": 144, "24h": 288} for a 5m base.
func NewEngine(ratios map[string]int) *Engine {
	e := &Engine{buffers: make(map[string]*Buffer, len(ratios))}
	for tf, n := range ratios {
		e.buffers[tf] = NewBuffer(n)
	}
	return e
}

// PushBase feeds one base bar to every overlay buffer, returning the set of
// overlay bars emitted on this push (usually empty, occasionally one or
// more if overlays share a boundary).
func (e *Engine) PushBase(bar domain.Bar) map[string]domain.Bar {
	out := make(map[string]domain.Bar)
	for tf, buf := range e.buffers {
		if rolled, ok := buf.Push(bar); ok {
			out[tf] = rolled
		}
	}
	return out
}

// IsTimeframeReady reports whether the named overlay has emitted at least
// minBars bars so far.
func (e *Engine) IsTimeframeReady(tf string, minBars int) bool {
	buf, ok := e.buffers[tf]
	if !ok {
		return false
	}
	return buf.EmittedCount() >= minBars
}
