// Package trajopt fits a piecewise Bezier trajectory through a corridor
// chain. The fit minimizes integrated squared jerk subject to boundary
// conditions, C2 continuity at piece joints, per-piece corridor containment
// of the control polygon, and velocity/acceleration bounds. Inequalities are
// enforced by bounded quadratic-penalty iterations on top of an
// equality-constrained KKT solve; a post-hoc sampler verifies the result and
// drives tightened re-optimization when the continuous relaxation leaks.
package trajopt

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/siyuanwu99/RAST-corridor-planning/corridor"
	"github.com/siyuanwu99/RAST-corridor-planning/trajectory"
)

const (
	// maxPenaltyIters bounds the inner penalty loop of one Optimize call.
	maxPenaltyIters = 8
	// maxReOptimize bounds verification-driven re-solves before giving up.
	maxReOptimize = 10
	// initialPenalty is the starting weight on violated inequalities.
	initialPenalty = 1e3
)

// BoundaryState is a full kinematic state at a trajectory endpoint.
type BoundaryState struct {
	Pos r3.Vector
	Vel r3.Vector
	Acc r3.Vector
}

// linConstraint is one inequality row a.x <= ub over the flat control-point
// vector.
type linConstraint struct {
	idx  []int
	coef []float64
	ub   float64
}

// Optimizer holds one problem instance. Setup binds the corridors and
// boundary states; Optimize/ReOptimize solve; Trajectory returns the last
// accepted fit.
type Optimizer struct {
	logger golog.Logger

	init, final BoundaryState
	timeAlloc   []float64
	chain       corridor.Chain
	maxVel      float64
	maxAcc      float64

	// delta is the corridor tightening step applied per re-optimization.
	delta  float64
	margin float64
	reopts int

	order int
	sol   []float64
}

// New returns an optimizer with the default tightening step.
func New(logger golog.Logger) *Optimizer {
	return &Optimizer{logger: logger, delta: 0.05, order: trajectory.DefaultOrder}
}

// Setup binds a problem: boundary states, per-corridor time allocations, the
// corridor chain and dynamic limits. It resets any previous solution.
func (o *Optimizer) Setup(
	init, final BoundaryState,
	timeAlloc []float64,
	chain corridor.Chain,
	maxVel, maxAcc float64,
) error {
	if len(chain) == 0 {
		return errors.New("empty corridor chain")
	}
	if len(timeAlloc) != len(chain) {
		return errors.Errorf("time allocations %d != corridors %d", len(timeAlloc), len(chain))
	}
	for i, dt := range timeAlloc {
		if dt <= 0 {
			return errors.Errorf("non-positive time allocation at piece %d", i)
		}
	}
	if maxVel <= 0 || maxAcc <= 0 {
		return errors.New("dynamic limits must be positive")
	}
	o.init, o.final = init, final
	o.timeAlloc = append([]float64(nil), timeAlloc...)
	o.chain = chain
	o.maxVel, o.maxAcc = maxVel, maxAcc
	o.margin = 0
	o.reopts = 0
	o.sol = nil
	return nil
}

// Optimize solves the fit. The returned error carries detail for logging; the
// Status is the caller's control signal and is never promoted to a fatal
// condition by this package.
func (o *Optimizer) Optimize() (Status, error) {
	if len(o.chain) == 0 {
		return StatusInternalError, errors.New("optimizer not set up")
	}
	return o.solvePenalty()
}

// ReOptimize tightens the corridor margin and re-solves. Bounded; exceeding
// the retry budget reports infeasibility.
func (o *Optimizer) ReOptimize() (Status, error) {
	if o.reopts >= maxReOptimize {
		return StatusInfeasible, errors.Errorf("re-optimization budget (%d) exhausted", maxReOptimize)
	}
	o.reopts++
	o.margin += o.delta
	o.logger.Debugw("re-optimizing with tightened corridors", "margin", o.margin, "attempt", o.reopts)
	return o.solvePenalty()
}

// Trajectory materializes the last solution as a piecewise Bezier curve.
func (o *Optimizer) Trajectory() (*trajectory.Trajectory, error) {
	if o.sol == nil {
		return nil, errors.New("no solution available")
	}
	nCtrl := o.order + 1
	pieces := make([]trajectory.Piece, len(o.chain))
	for i := range o.chain {
		ctrl := make([]r3.Vector, nCtrl)
		for j := 0; j < nCtrl; j++ {
			base := o.varIndex(i, j, 0)
			ctrl[j] = r3.Vector{X: o.sol[base], Y: o.sol[base+1], Z: o.sol[base+2]}
		}
		pieces[i] = trajectory.Piece{Duration: o.timeAlloc[i], Ctrl: ctrl}
	}
	return &trajectory.Trajectory{Pieces: pieces}, nil
}

// varIndex maps (piece, control point, axis) to the flat decision vector.
func (o *Optimizer) varIndex(piece, ctrl, axis int) int {
	return (piece*(o.order+1)+ctrl)*3 + axis
}

func (o *Optimizer) numVars() int {
	return len(o.chain) * (o.order + 1) * 3
}
