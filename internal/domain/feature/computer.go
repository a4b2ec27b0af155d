// Package feature turns raw bars, cohort flow, and funding into the
// fixed-order feature vector the model runtime expects. Every field is
// grounded on a rolling window seeded at construction time; nothing
// reaches back further than its configured horizon.
package feature

import (
	"math"

	"github.com/sawpanic/mtfengine/internal/domain/indicators"
)

const (
	minWarmBars  = 50
	emaPeriod    = 20
	defaultRVWin = 12
	defaultVol   = 50
	defaultCorr  = 36
	atrPeriod    = 14
	hurstPeriod  = 20
)

// Row is the set of raw inputs for a single closed bar.
type Row struct {
	Open, High, Low, Close, Volume float64
}

// Cohort carries the three cohort-flow channels for the same bar.
type Cohort struct {
	Pros, Amateurs, Mood float64
}

// Computer maintains bounded rolling state and produces feature
// vectors in schema order on every closed bar.
type Computer struct {
	schema   []string
	rvWindow int
	volWin   int
	corrWin  int

	closes, highs, lows, vols, funding ring

	ema20       float64
	emaAlpha    float64
	barCount    int
	lastCorr    float64
	priceDevHist ring

	trueRanges ring
	prevClose  float64
	haveClose  bool
}

// ring is a fixed-capacity FIFO of float64 values, used for every
// rolling window the feature computer maintains.
type ring struct {
	buf []float64
	cap int
}

func newRing(capacity int) ring {
	if capacity < 3 {
		capacity = 3
	}
	return ring{buf: make([]float64, 0, capacity), cap: capacity}
}

func (r *ring) push(v float64) {
	if len(r.buf) == r.cap {
		r.buf = r.buf[1:]
	}
	r.buf = append(r.buf, v)
}

func (r ring) len() int { return len(r.buf) }

// at returns the value `back` entries from the most recent (back=0 is
// the latest pushed value).
func (r ring) at(back int) float64 {
	idx := len(r.buf) - 1 - back
	if idx < 0 || idx >= len(r.buf) {
		return 0
	}
	return r.buf[idx]
}

func (r ring) values() []float64 { return r.buf }

// NewComputer constructs a Computer with the model's expected feature
// column order. rvWindow/volWindow/corrWindow default to 12/50/36 when
// zero, matching the reference implementation's live-demo defaults.
func NewComputer(schema []string, rvWindow, volWindow, corrWindow int) *Computer {
	if rvWindow <= 0 {
		rvWindow = defaultRVWin
	}
	if volWindow <= 0 {
		volWindow = defaultVol
	}
	if corrWindow <= 0 {
		corrWindow = defaultCorr
	}

	return &Computer{
		schema:       schema,
		rvWindow:     rvWindow,
		volWin:       volWindow,
		corrWin:      corrWindow,
		closes:       newRing(volWindow),
		highs:        newRing(volWindow),
		lows:         newRing(volWindow),
		vols:         newRing(volWindow),
		funding:      newRing(rvWindow),
		priceDevHist: newRing(volWindow),
		trueRanges:   newRing(atrPeriod),
		emaAlpha:     2.0 / (emaPeriod + 1),
	}
}

// IsWarmed reports whether at least 50 bars have been ingested.
// Downstream consumers must gate live trading on this flag.
func (c *Computer) IsWarmed() bool {
	return c.barCount >= minWarmBars
}

func ret(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return (b / a) - 1.0
}

func gkVol(o, h, l, c float64) float64 {
	if o <= 0 || h <= 0 || l <= 0 || c <= 0 {
		return 0
	}
	v := 0.5*math.Pow(math.Log(h/l), 2) - (2*math.Log(2)-1)*math.Pow(math.Log(c/o), 2)
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted[len(sorted)/2]
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func pearsonCorr(a, b []float64) (float64, bool) {
	if len(a) != len(b) || len(a) < 3 {
		return 0, false
	}
	ma, mb := mean(a), mean(b)
	var cov, va, vb float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0, false
	}
	corr := cov / math.Sqrt(va*vb)
	if math.IsNaN(corr) {
		return 0, false
	}
	return corr, true
}

// atr14 computes the average true range as the simple mean of the last
// 14 true-range values (Wilder's true-range definition, no Wilder
// smoothing), using the running window the Computer accumulates as bars
// close.
func (c *Computer) atr14() float64 {
	if c.trueRanges.len() == 0 {
		return 0
	}
	return mean(c.trueRanges.values())
}

// priceBars packs the rolling close/high/low rings into chronological
// OHLC bars for the shared indicators package.
func (c *Computer) priceBars() []indicators.PriceBar {
	closes, highs, lows := c.closes.values(), c.highs.values(), c.lows.values()
	bars := make([]indicators.PriceBar, len(closes))
	for i := range closes {
		bars[i] = indicators.PriceBar{High: highs[i], Low: lows[i], Close: closes[i]}
	}
	return bars
}

// adx14 reports trend strength (0-100) over the rolling window, 0
// until enough bars have accumulated for a valid reading.
func (c *Computer) adx14() float64 {
	res := indicators.CalculateADX(c.priceBars(), atrPeriod)
	if !res.IsValid {
		return 0
	}
	return res.ADX
}

// hurst reports the R/S-analysis Hurst exponent of closes over the
// last hurstPeriod bars, defaulting to 0.5 (random walk) until warm.
func (c *Computer) hurst() float64 {
	return indicators.CalculateHurstExponent(c.closes.values(), hurstPeriod).Exponent
}

// Update ingests one closed bar and returns its feature vector in
// schema order, along with the ATR-14 as a separate second return value
// (it is not one of the vector's schema columns).
func (c *Computer) Update(row Row, cohort Cohort, funding float64) ([]float64, float64) {
	c.barCount++

	prevClose, hadClose := 0.0, c.haveClose
	if hadClose {
		prevClose = c.closes.at(0)
	}

	c.closes.push(row.Close)
	c.highs.push(row.High)
	c.lows.push(row.Low)
	c.vols.push(row.Volume)
	c.funding.push(funding)

	if c.haveClose {
		tr := math.Max(row.High-row.Low, math.Max(math.Abs(row.High-c.prevClose), math.Abs(row.Low-c.prevClose)))
		c.trueRanges.push(tr)
	} else {
		c.trueRanges.push(row.High - row.Low)
	}
	c.prevClose = row.Close
	c.haveClose = true

	if c.ema20 == 0 {
		c.ema20 = row.Close
	} else {
		c.ema20 = (1-c.emaAlpha)*c.ema20 + c.emaAlpha*row.Close
	}

	r1 := 0.0
	if hadClose {
		r1 = ret(prevClose, row.Close)
	}
	r3 := 0.0
	if c.closes.len() >= 3 {
		r3 = ret(c.closes.at(2), row.Close)
	}

	rv1h := c.realizedVol()
	regimeHighVol := c.regimeHighVol(rv1h)

	gk := gkVol(row.Open, row.High, row.Low, row.Close)
	jumpMag := math.Abs(r1)

	volMean := 1.0
	if c.vols.len() > 0 {
		volMean = mean(c.vols.values())
	}
	volumeIntensity := (row.Volume / (volMean + 1e-9)) - 1.0

	priceRange := 0.0
	if row.Close != 0 {
		priceRange = (row.High - row.Low) / (row.Close + 1e-9)
	}
	priceEfficiency := math.Abs(r1) / (priceRange + 1e-9)

	priceVolumeCorr := c.priceVolumeCorr()

	vwapMomentum := r3
	depthProxy := 0.0

	fundingRate := funding
	fEMA := fundingRate
	if c.funding.len() >= c.rvWindow {
		fEMA = mean(c.funding.values())
	}
	fundingMomentum1h := fundingRate - fEMA

	flowDiff := cohort.Pros - cohort.Amateurs

	priceDev := row.Close - c.ema20
	c.priceDevHist.push(priceDev)
	mrEMA20Z := 0.0
	if c.priceDevHist.len() >= 3 {
		devStd := stddev(c.priceDevHist.values())
		mrEMA20Z = priceDev / (devStd + 1e-9)
	}

	values := map[string]float64{
		"mom_1":               r1,
		"mom_3":                r3,
		"mr_ema20_z":           mrEMA20Z,
		"rv_1h":                rv1h,
		"regime_high_vol":      regimeHighVol,
		"gk_volatility":        gk,
		"jump_magnitude":       jumpMag,
		"volume_intensity":     volumeIntensity,
		"price_efficiency":     priceEfficiency,
		"price_volume_corr":    priceVolumeCorr,
		"vwap_momentum":        vwapMomentum,
		"depth_proxy":          depthProxy,
		"funding_rate":         fundingRate,
		"funding_momentum_1h":  fundingMomentum1h,
		"flow_diff":            flowDiff,
		"S_top":                cohort.Pros,
		"S_bot":                cohort.Amateurs,
		"adx_14":               c.adx14(),
		"hurst":                c.hurst(),
	}

	out := make([]float64, len(c.schema))
	for i, col := range c.schema {
		v := values[col]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0.0
		}
		out[i] = v
	}

	return out, c.atr14()
}

func (c *Computer) realizedVol() float64 {
	n := c.closes.len()
	if n < 2 {
		return 0
	}
	limit := c.rvWindow
	if n-1 < limit {
		limit = n - 1
	}
	var sumSq float64
	for i := 1; i <= limit; i++ {
		r := ret(c.closes.at(i), c.closes.at(i-1))
		sumSq += r * r
	}
	return math.Sqrt(sumSq)
}

func (c *Computer) regimeHighVol(rv1h float64) float64 {
	n := c.closes.len()
	if n < 4 {
		return 0
	}
	var hist []float64
	limit := c.rvWindow + 2
	if n < limit {
		limit = n
	}
	for k := 2; k < limit; k++ {
		var sumSq float64
		segLen := 0
		inner := c.rvWindow
		if k < inner {
			inner = k
		}
		for i := 1; i < inner; i++ {
			back1 := k + 1 - i
			back2 := k - i
			if back1 >= n || back2 >= n {
				continue
			}
			r := ret(c.closes.at(back1), c.closes.at(back2))
			sumSq += r * r
			segLen++
		}
		if segLen > 0 {
			hist = append(hist, math.Sqrt(sumSq))
		} else {
			hist = append(hist, 0)
		}
	}
	med := median(hist)
	if rv1h > 2.0*med && rv1h > 0 {
		return 1.0
	}
	return 0.0
}

func (c *Computer) priceVolumeCorr() float64 {
	n := c.closes.len()
	if n < 3 {
		return 0
	}
	limit := c.corrWin
	if n-1 < limit {
		limit = n - 1
	}
	rr := make([]float64, 0, limit)
	for i := 1; i <= limit; i++ {
		rr = append(rr, ret(c.closes.at(i), c.closes.at(i-1)))
	}
	vv := make([]float64, 0, len(rr))
	for i := 0; i < len(rr); i++ {
		vv = append(vv, c.vols.at(i))
	}
	if len(rr) >= 3 {
		if corr, ok := pearsonCorr(rr, vv); ok {
			c.lastCorr = corr
			return corr
		}
	}
	return c.lastCorr
}
