package feature

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = []string{
	"mom_1", "mom_3", "mr_ema20_z", "rv_1h", "regime_high_vol",
	"gk_volatility", "jump_magnitude", "volume_intensity", "price_efficiency",
	"price_volume_corr", "vwap_momentum", "depth_proxy", "funding_rate",
	"funding_momentum_1h", "flow_diff", "S_top", "S_bot",
}

func feedBars(c *Computer, n int) ([]float64, float64) {
	var out []float64
	var atr float64
	price := 100.0
	for i := 0; i < n; i++ {
		price += 0.1
		row := Row{Open: price - 0.05, High: price + 0.2, Low: price - 0.2, Close: price, Volume: 1000 + float64(i)}
		out, atr = c.Update(row, Cohort{Pros: 0.1, Amateurs: -0.05}, 0.0001)
	}
	return out, atr
}

func TestComputerNotWarmedBeforeFiftyBars(t *testing.T) {
	c := NewComputer(testSchema, 0, 0, 0)
	feedBars(c, 49)
	assert.False(t, c.IsWarmed())
	feedBars(c, 1)
	assert.True(t, c.IsWarmed())
}

func TestComputerOutputLengthMatchesSchema(t *testing.T) {
	c := NewComputer(testSchema, 0, 0, 0)
	out, _ := feedBars(c, 10)
	require.Len(t, out, len(testSchema))
}

func TestComputerMissingColumnDefaultsToZero(t *testing.T) {
	schema := append(append([]string{}, testSchema...), "nonexistent_col")
	c := NewComputer(schema, 0, 0, 0)
	out, _ := feedBars(c, 5)
	require.Len(t, out, len(schema))
	assert.Equal(t, 0.0, out[len(out)-1])
}

func TestComputerNoNaNOrInf(t *testing.T) {
	c := NewComputer(testSchema, 0, 0, 0)
	out, atr := feedBars(c, 60)
	for i, v := range out {
		assert.False(t, math.IsNaN(v), "column %d (%s) is NaN", i, testSchema[i])
		assert.False(t, math.IsInf(v, 0), "column %d (%s) is Inf", i, testSchema[i])
	}
	assert.False(t, math.IsNaN(atr))
	assert.GreaterOrEqual(t, atr, 0.0)
}

func TestComputerMrEMA20ZNeutralOnFirstBars(t *testing.T) {
	c := NewComputer(testSchema, 0, 0, 0)
	row := Row{Open: 100, High: 100.5, Low: 99.5, Close: 100, Volume: 1000}
	out, _ := c.Update(row, Cohort{}, 0)
	idx := 2 // mr_ema20_z
	assert.Equal(t, 0.0, out[idx])
}

func TestComputerFlowDiffReflectsCohort(t *testing.T) {
	c := NewComputer(testSchema, 0, 0, 0)
	row := Row{Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 500}
	out, _ := c.Update(row, Cohort{Pros: 0.4, Amateurs: -0.2}, 0)
	flowDiffIdx := 14
	assert.InDelta(t, 0.6, out[flowDiffIdx], 1e-9)
}
