package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotEmptyTrackerIsZero(t *testing.T) {
	tr := NewTracker(10, 5)
	s := tr.Snapshot()
	assert.Equal(t, 0, s.BarsTracked)
}

func TestSnapshotTracksInBandShare(t *testing.T) {
	tr := NewTracker(10, 5)
	tr.Observe(Record{Equity: 100, InBand: true})
	tr.Observe(Record{Equity: 100, InBand: true})
	tr.Observe(Record{Equity: 100, InBand: false})
	tr.Observe(Record{Equity: 100, InBand: false})

	s := tr.Snapshot()
	assert.InDelta(t, 0.5, s.InBandShare, 1e-9)
}

func TestSnapshotTracksHitRateOnlyOnDirectedBars(t *testing.T) {
	tr := NewTracker(10, 5)
	tr.Observe(Record{Equity: 100, Direction: 0, Return: -0.01}) // neutral, excluded
	tr.Observe(Record{Equity: 100, Direction: 1, Return: 0.01})  // correct long
	tr.Observe(Record{Equity: 100, Direction: 1, Return: -0.01}) // wrong long
	tr.Observe(Record{Equity: 100, Direction: -1, Return: -0.01}) // correct short

	s := tr.Snapshot()
	assert.InDelta(t, 2.0/3.0, s.HitRate, 1e-9)
}

func TestSnapshotMaxDrawdownFollowsEquityCurve(t *testing.T) {
	tr := NewTracker(10, 5)
	tr.Observe(Record{Equity: 100})
	tr.Observe(Record{Equity: 110})
	tr.Observe(Record{Equity: 90}) // drawdown from 110 peak
	tr.Observe(Record{Equity: 95})

	s := tr.Snapshot()
	assert.InDelta(t, 20.0/110.0, s.MaxDrawdown, 1e-9)
}

func TestSnapshotTurnoverSumsPositionDeltas(t *testing.T) {
	tr := NewTracker(10, 5)
	tr.Observe(Record{Equity: 100, PosDelta: 0.1})
	tr.Observe(Record{Equity: 100, PosDelta: -0.2}) // abs value counted
	tr.Observe(Record{Equity: 100, PosDelta: 0.05})

	s := tr.Snapshot()
	assert.InDelta(t, 0.35, s.Turnover, 1e-9)
}

func TestObserveEvictsOldestBeyondWindow(t *testing.T) {
	tr := NewTracker(2, 5)
	tr.Observe(Record{Equity: 100, InBand: true})
	tr.Observe(Record{Equity: 100, InBand: false})
	tr.Observe(Record{Equity: 100, InBand: false})

	s := tr.Snapshot()
	assert.Equal(t, 2, s.BarsTracked)
	assert.InDelta(t, 0.0, s.InBandShare, 1e-9) // the InBand=true record was evicted
}

func TestSnapshotSharpePositiveOnConsistentPositiveReturns(t *testing.T) {
	tr := NewTracker(20, 5)
	for i := 0; i < 20; i++ {
		r := 0.001
		if i%2 == 0 {
			r = 0.0015
		}
		tr.Observe(Record{Equity: 100 + float64(i), Return: r})
	}
	s := tr.Snapshot()
	assert.Greater(t, s.Sharpe, 0.0)
}
