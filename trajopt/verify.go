package trajopt

import (
	"math"

	"github.com/siyuanwu99/RAST-corridor-planning/trajectory"
)

// verifySamples is the number of samples checked per piece.
const verifySamples = 20

// IsCorridorSatisfied samples the fitted trajectory and checks it against the
// corridor half-spaces and dynamic limits within tol. The continuous
// relaxation solved by Optimize constrains only the control polygon, so the
// sampled curve is the authoritative check. The function is pure: calling it
// twice on unchanged inputs yields the same answer.
func (o *Optimizer) IsCorridorSatisfied(tr *trajectory.Trajectory, maxVel, maxAcc, tol float64) bool {
	if tr == nil || len(tr.Pieces) == 0 {
		return false
	}
	pieces := len(tr.Pieces)
	if pieces > len(o.chain) {
		pieces = len(o.chain)
	}
	for i := 0; i < pieces; i++ {
		p := &tr.Pieces[i]
		for s := 0; s <= verifySamples; s++ {
			t := p.Duration * float64(s) / float64(verifySamples)
			if o.chain[i].Violation(p.Pos(t)) > tol {
				return false
			}
			v, a := p.Vel(t), p.Acc(t)
			if math.Abs(v.X) > maxVel+tol || math.Abs(v.Y) > maxVel+tol || math.Abs(v.Z) > maxVel+tol {
				return false
			}
			if math.Abs(a.X) > maxAcc+tol || math.Abs(a.Y) > maxAcc+tol || math.Abs(a.Z) > maxAcc+tol {
				return false
			}
		}
	}
	return true
}
