package marga

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
)

// ContextDim is the length of the routing context vector.
const ContextDim = 7

// DefaultAlpha is the LinUCB exploration parameter.
const DefaultAlpha = 1.5

// Turiya is a LinUCB contextual bandit over model tiers. Each arm keeps
// A = I + Σ x·xᵀ and b = Σ r·x; arm value is θᵀx + α·√(xᵀA⁻¹x) with
// θ = A⁻¹b solved by Cholesky decomposition.
type Turiya struct {
	mu    sync.Mutex
	alpha float64
	arms  []*linArm
}

type linArm struct {
	A     [][]float64
	B     []float64
	Pulls int
}

func newLinArm() *linArm {
	a := &linArm{
		A: make([][]float64, ContextDim),
		B: make([]float64, ContextDim),
	}
	for i := range a.A {
		a.A[i] = make([]float64, ContextDim)
		a.A[i][i] = 1
	}
	return a
}

// NewTuriya creates a bandit with numArms arms. Alpha <= 0 uses the default.
func NewTuriya(numArms int, alpha float64) *Turiya {
	if numArms < 1 {
		numArms = 1
	}
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	t := &Turiya{alpha: alpha, arms: make([]*linArm, numArms)}
	for i := range t.arms {
		t.arms[i] = newLinArm()
	}
	return t
}

// NumArms returns the arm count.
func (t *Turiya) NumArms() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.arms)
}

// Select returns the arm with the highest upper confidence bound for x,
// considering only arms with index >= floor. Ties go to the cheaper arm.
func (t *Turiya) Select(x []float64, floor int) (int, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if floor < 0 {
		floor = 0
	}
	if floor >= len(t.arms) {
		floor = len(t.arms) - 1
	}

	best := floor
	bestScore := math.Inf(-1)
	for i := floor; i < len(t.arms); i++ {
		score := t.arms[i].ucb(x, t.alpha)
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	return best, bestScore
}

// Update folds one observed reward into an arm's statistics.
func (t *Turiya) Update(arm int, x []float64, reward float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if arm < 0 || arm >= len(t.arms) {
		return
	}
	if reward < 0 {
		reward = 0
	}
	if reward > 1 {
		reward = 1
	}
	a := t.arms[arm]
	for i := 0; i < ContextDim; i++ {
		for j := 0; j < ContextDim; j++ {
			a.A[i][j] += x[i] * x[j]
		}
		a.B[i] += reward * x[i]
	}
	a.Pulls++
}

func (a *linArm) ucb(x []float64, alpha float64) float64 {
	L, err := cholesky(a.A)
	if err != nil {
		return 0
	}
	theta := cholSolve(L, a.B)
	ainvX := cholSolve(L, x)

	mean := 0.0
	variance := 0.0
	for i := 0; i < ContextDim; i++ {
		mean += theta[i] * x[i]
		variance += x[i] * ainvX[i]
	}
	if variance < 0 {
		variance = 0
	}
	return mean + alpha*math.Sqrt(variance)
}

// cholesky returns the lower triangular L with A = L·Lᵀ. A must be
// symmetric positive definite, which holds for I + Σ x·xᵀ.
func cholesky(A [][]float64) ([][]float64, error) {
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

// cholSolve solves A·y = v given the Cholesky factor L of A, by forward
// substitution (L·z = v) then back substitution (Lᵀ·y = z).
func cholSolve(L [][]float64, v []float64) []float64 {
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

type turiyaState struct {
	Alpha float64   `json:"alpha"`
	Arms  []*linArm `json:"arms"`
}

// Serialize persists the bandit's matrices as JSON.
func (t *Turiya) Serialize() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return json.Marshal(turiyaState{Alpha: t.alpha, Arms: t.arms})
}

// DeserializeTuriya restores a bandit from Serialize output.
func DeserializeTuriya(data []byte) (*Turiya, error) {
	var state turiyaState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode bandit state: %w", err)
	}
	if state.Alpha <= 0 {
		state.Alpha = DefaultAlpha
	}
	if len(state.Arms) == 0 {
		return nil, fmt.Errorf("bandit state has no arms")
	}
	for i, arm := range state.Arms {
		if arm == nil || len(arm.A) != ContextDim || len(arm.B) != ContextDim {
			return nil, fmt.Errorf("arm %d has malformed matrices", i)
		}
		for _, row := range arm.A {
			if len(row) != ContextDim {
				return nil, fmt.Errorf("arm %d has malformed matrices", i)
			}
		}
	}
	return &Turiya{alpha: state.Alpha, arms: state.Arms}, nil
}
