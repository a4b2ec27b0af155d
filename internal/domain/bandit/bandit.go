// Package bandit selects which signal source (arm) drives position
// sizing on a given bar, using an epsilon-greedy policy over each
// arm's running mean reward with an optional variance-aware
// exploration bonus.
package bandit

import (
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/sawpanic/mtfengine/internal/domain"
	mtfio "github.com/sawpanic/mtfengine/internal/io"
)

// Arms are the four fixed sources of directional opinion the selector
// chooses between.
const (
	ArmPros       = "pros"
	ArmAmateurs   = "amateurs"
	ArmModelMeta  = "model_meta"
	ArmModelBMA   = "model_bma"
)

// AllArms lists every arm in a stable order, used when none has been
// observed yet and for deterministic iteration.
var AllArms = []string{ArmPros, ArmAmateurs, ArmModelMeta, ArmModelBMA}

// Config tunes the epsilon-greedy policy.
type Config struct {
	Epsilon          float64
	VarianceBonusK   float64 // 0 disables the variance-aware exploration bonus
	Rand             *rand.Rand
}

// DefaultConfig returns a conservative exploration rate with the
// variance bonus enabled.
func DefaultConfig() Config {
	return Config{Epsilon: 0.1, VarianceBonusK: 0.5, Rand: rand.New(rand.NewSource(1))}
}

// Selector picks an arm per bar and updates its running statistics
// from realized reward. State is checkpointed by the caller on every
// Select/Update via the returned *domain.BanditState snapshot.
type Selector struct {
	state       *domain.BanditState
	cfg         Config
	lastArm     string
	lastSignal  float64
	hadSelection bool
}

// NewSelector wires a Selector around a (possibly restored) BanditState.
func NewSelector(state *domain.BanditState, cfg Config) *Selector {
	if state == nil {
		state = domain.NewBanditState()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(1))
	}
	return &Selector{state: state, cfg: cfg}
}

// Select chooses an arm among those with a non-zero signal this bar.
// Arms absent from eligibleSignals are excluded from selection
// entirely, and if the previously-selected arm is excluded this bar,
// its reward is not credited on the next Update call.
func (s *Selector) Select(eligibleSignals map[string]float64) string {
	var eligible []string
	for _, arm := range AllArms {
		if sig, ok := eligibleSignals[arm]; ok && sig != 0 {
			eligible = append(eligible, arm)
		}
	}

	if len(eligible) == 0 {
		s.hadSelection = false
		s.lastArm = ""
		return ""
	}

	var chosen string
	if s.cfg.Rand.Float64() < s.cfg.Epsilon {
		chosen = eligible[s.cfg.Rand.Intn(len(eligible))]
	} else {
		chosen = s.bestArm(eligible)
	}

	s.lastArm = chosen
	s.lastSignal = eligibleSignals[chosen]
	s.hadSelection = true

	return chosen
}

func (s *Selector) bestArm(eligible []string) string {
	best := eligible[0]
	bestScore := math.Inf(-1)
	for _, arm := range eligible {
		mean := s.state.Means[arm]
		score := mean
		if s.cfg.VarianceBonusK > 0 {
			count := s.state.Counts[arm]
			variance := s.state.Variances[arm]
			if count > 0 {
				score += s.cfg.VarianceBonusK * math.Sqrt(variance/float64(count))
			}
		}
		if score > bestScore {
			bestScore = score
			best = arm
		}
	}
	return best
}

// Update credits the previously selected arm with its realized
// reward — the product of this bar's realized return (bps) and the
// raw signal value the arm produced when it was selected. If the
// previously selected arm is no longer eligible this bar (the signal
// disappeared), no reward is credited and no state mutates.
func (s *Selector) Update(realizedReturnBps float64) {
	if !s.hadSelection || s.lastArm == "" {
		return
	}

	reward := realizedReturnBps * s.lastSignal

	arm := s.lastArm
	count := s.state.Counts[arm]
	mean := s.state.Means[arm]
	variance := s.state.Variances[arm]

	count++
	delta := reward - mean
	mean += delta / float64(count)
	delta2 := reward - mean
	variance += delta * delta2

	s.state.Counts[arm] = count
	s.state.Means[arm] = mean
	s.state.Variances[arm] = variance

	s.hadSelection = false
}

// State returns the selector's current checkpoint.
func (s *Selector) State() *domain.BanditState {
	return s.state
}

// Checkpoint is the on-disk shape for a bandit state snapshot: the
// selector's per-arm statistics plus the time it was written.
type Checkpoint struct {
	Counts    map[string]int64   `json:"counts"`
	Means     map[string]float64 `json:"means"`
	Variances map[string]float64 `json:"variances"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// SaveCheckpoint atomically writes the selector's current state to
// path (temp file + rename), so a crash mid-write never leaves a
// truncated or partially-written checkpoint for the next restart to
// load.
func (s *Selector) SaveCheckpoint(path string) error {
	if path == "" {
		return nil
	}
	cp := Checkpoint{
		Counts:    s.state.Counts,
		Means:     s.state.Means,
		Variances: s.state.Variances,
		UpdatedAt: time.Now().UTC(),
	}
	return mtfio.WriteJSONAtomic(path, cp)
}

// LoadCheckpoint reads a bandit checkpoint written by SaveCheckpoint
// back into a BanditState. A missing file is not an error: the engine
// starts cold with an empty state, matching NewSelector's own nil-state
// handling.
func LoadCheckpoint(path string) (*domain.BanditState, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	state := domain.NewBanditState()
	for k, v := range cp.Counts {
		state.Counts[k] = v
	}
	for k, v := range cp.Means {
		state.Means[k] = v
	}
	for k, v := range cp.Variances {
		state.Variances[k] = v
	}
	return state, nil
}
