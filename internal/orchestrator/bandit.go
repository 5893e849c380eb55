package orchestrator

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// Mode selects the bandit algorithm.
type Mode string

const (
	ModeUCB1     Mode = "ucb1"
	ModeThompson Mode = "thompson"
	ModeLinUCB   Mode = "linucb"
)

// BanditDim is the LinUCB context length:
// [bias, taskComplexity, agentCount, memoryPressure, avgLatency, errorRate].
const BanditDim = 6

const ucb1Exploration = math.Sqrt2

// ArmStats is one strategy's learned summary.
type ArmStats struct {
	Pulls         int     `json:"pulls"`
	AverageReward float64 `json:"average_reward"`
}

type banditArm struct {
	Name  string  `json:"name"`
	Pulls int     `json:"pulls"`
	Sum   float64 `json:"sum"`
	// Thompson Beta parameters.
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	// LinUCB matrices.
	A [][]float64 `json:"a"`
	B []float64   `json:"b"`
}

func newBanditArm(name string) *banditArm {
	arm := &banditArm{Name: name, Alpha: 1, Beta: 1, B: make([]float64, BanditDim)}
	arm.A = make([][]float64, BanditDim)
	for i := range arm.A {
		arm.A[i] = make([]float64, BanditDim)
		arm.A[i][i] = 1
	}
	return arm
}

// Bandit learns which orchestration strategy pays. Three interchangeable
// modes share one reward history; switching modes at runtime keeps all
// learned state.
type Bandit struct {
	mu    sync.Mutex
	mode  Mode
	alpha float64 // LinUCB exploration
	arms  []*banditArm
	total int
	rng   *rand.Rand
}

// NewBandit creates a bandit over the given strategy names. Seed fixes the
// Thompson sampler for reproducibility; 0 seeds from a constant.
func NewBandit(mode Mode, armNames []string, seed int64) *Bandit {
	if len(armNames) == 0 {
		armNames = StrategyNames
	}
	if mode == "" {
		mode = ModeUCB1
	}
	if seed == 0 {
		seed = 1
	}
	b := &Bandit{mode: mode, alpha: 1.5, rng: rand.New(rand.NewSource(seed))}
	for _, name := range armNames {
		b.arms = append(b.arms, newBanditArm(name))
	}
	return b
}

// SetMode switches the algorithm at runtime.
func (b *Bandit) SetMode(mode Mode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = mode
}

// Mode returns the active algorithm.
func (b *Bandit) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// SelectStrategy picks a strategy name over all arms. The context vector
// is only used in LinUCB mode and may be nil otherwise.
func (b *Bandit) SelectStrategy(x []float64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selectLocked(b.arms, x)
}

// SelectStrategyFrom restricts selection to the named strategies, leaving
// the excluded arms' learned state untouched. Unknown names are skipped;
// an empty candidate set falls back to all arms.
func (b *Bandit) SelectStrategyFrom(allowed []string, x []float64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var arms []*banditArm
	for _, name := range allowed {
		if arm := b.findArm(name); arm != nil {
			arms = append(arms, arm)
		}
	}
	if len(arms) == 0 {
		arms = b.arms
	}
	return b.selectLocked(arms, x)
}

func (b *Bandit) selectLocked(arms []*banditArm, x []float64) string {
	switch b.mode {
	case ModeThompson:
		return b.selectThompson(arms)
	case ModeLinUCB:
		return b.selectLinUCB(arms, x)
	default:
		return b.selectUCB1(arms)
	}
}

func (b *Bandit) selectUCB1(arms []*banditArm) string {
	best := arms[0]
	bestScore := math.Inf(-1)
	for _, arm := range arms {
		score := math.Inf(1)
		if arm.Pulls > 0 {
			mean := arm.Sum / float64(arm.Pulls)
			score = mean + ucb1Exploration*math.Sqrt(math.Log(float64(b.total))/float64(arm.Pulls))
		}
		if score > bestScore {
			best = arm
			bestScore = score
		}
	}
	return best.Name
}

func (b *Bandit) selectThompson(arms []*banditArm) string {
	best := arms[0]
	bestSample := math.Inf(-1)
	for _, arm := range arms {
		sample := b.betaSample(arm.Alpha, arm.Beta)
		if sample > bestSample {
			best = arm
			bestSample = sample
		}
	}
	return best.Name
}

func (b *Bandit) selectLinUCB(arms []*banditArm, x []float64) string {
	if len(x) != BanditDim {
		x = make([]float64, BanditDim)
		x[0] = 1
	}
	best := arms[0]
	bestScore := math.Inf(-1)
	for _, arm := range arms {
		score := linScore(arm, x, b.alpha)
		if score > bestScore {
			best = arm
			bestScore = score
		}
	}
	return best.Name
}

// RecordReward folds one observed reward into a strategy's arm. Rewards
// are clamped to [0, 1]. Unknown strategies are ignored.
func (b *Bandit) RecordReward(strategy string, reward float64, x []float64) {
	if reward < 0 {
		reward = 0
	}
	if reward > 1 {
		reward = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	arm := b.findArm(strategy)
	if arm == nil {
		return
	}
	arm.Pulls++
	arm.Sum += reward
	b.total++

	arm.Alpha += reward
	arm.Beta += 1 - reward

	if len(x) == BanditDim {
		for i := 0; i < BanditDim; i++ {
			for j := 0; j < BanditDim; j++ {
				arm.A[i][j] += x[i] * x[j]
			}
			arm.B[i] += reward * x[i]
		}
	}
}

func (b *Bandit) findArm(name string) *banditArm {
	for _, arm := range b.arms {
		if arm.Name == name {
			return arm
		}
	}
	return nil
}

// GetStats returns per-strategy pulls and empirical mean reward.
func (b *Bandit) GetStats() map[string]ArmStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]ArmStats, len(b.arms))
	for _, arm := range b.arms {
		stats := ArmStats{Pulls: arm.Pulls}
		if arm.Pulls > 0 {
			stats.AverageReward = arm.Sum / float64(arm.Pulls)
		}
		out[arm.Name] = stats
	}
	return out
}

type banditState struct {
	Mode  Mode         `json:"mode"`
	Alpha float64      `json:"alpha"`
	Total int          `json:"total"`
	Arms  []*banditArm `json:"arms"`
}

// Serialize persists all learned state, including LinUCB matrices.
func (b *Bandit) Serialize() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return json.Marshal(banditState{Mode: b.mode, Alpha: b.alpha, Total: b.total, Arms: b.arms})
}

// DeserializeBandit restores a bandit from Serialize output.
func DeserializeBandit(data []byte, seed int64) (*Bandit, error) {
	var state banditState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode bandit state: %w", err)
	}
	if len(state.Arms) == 0 {
		return nil, fmt.Errorf("bandit state has no arms")
	}
	if seed == 0 {
		seed = 1
	}
	b := &Bandit{
		mode:  state.Mode,
		alpha: state.Alpha,
		total: state.Total,
		arms:  state.Arms,
		rng:   rand.New(rand.NewSource(seed)),
	}
	if b.mode == "" {
		b.mode = ModeUCB1
	}
	if b.alpha <= 0 {
		b.alpha = 1.5
	}
	return b, nil
}

// linScore computes theta'x + alpha*sqrt(x'A^-1 x) via Cholesky.
func linScore(arm *banditArm, x []float64, alpha float64) float64 {
	L, err := choleskyLower(arm.A)
	if err != nil {
		return 0
	}
	theta := solveCholesky(L, arm.B)
	ainvX := solveCholesky(L, x)
	mean, variance := 0.0, 0.0
	for i := range x {
		mean += theta[i] * x[i]
		variance += x[i] * ainvX[i]
	}
	if variance < 0 {
		variance = 0
	}
	return mean + alpha*math.Sqrt(variance)
}

func choleskyLower(A [][]float64) ([][]float64, error) {
	n := len(A)
	L := make([][]float64, n)
	for i := range L {
		L[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := A[i][j]
			for k := 0; k < j; k++ {
				sum -= L[i][k] * L[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil, fmt.Errorf("matrix not positive definite at %d", i)
				}
				L[i][j] = math.Sqrt(sum)
			} else {
				L[i][j] = sum / L[j][j]
			}
		}
	}
	return L, nil
}

func solveCholesky(L [][]float64, v []float64) []float64 {
	n := len(L)
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := v[i]
		for k := 0; k < i; k++ {
			sum -= L[i][k] * z[k]
		}
		z[i] = sum / L[i][i]
	}
	y := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := z[i]
		for k := i + 1; k < n; k++ {
			sum -= L[k][i] * y[k]
		}
		y[i] = sum / L[i][i]
	}
	return y
}

// betaSample draws from Beta(a, b) via two Gamma draws.
func (b *Bandit) betaSample(alpha, beta float64) float64 {
	x := b.gammaSample(alpha)
	y := b.gammaSample(beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// gammaSample draws from Gamma(shape, 1) using Marsaglia-Tsang, with the
// standard boost for shape < 1.
func (b *Bandit) gammaSample(shape float64) float64 {
	if shape < 1 {
		u := b.rng.Float64()
		return b.gammaSample(shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := b.rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := b.rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
