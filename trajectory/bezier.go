// Package trajectory provides the piecewise Bezier curve type produced by the
// corridor optimizer and executed by the vehicle. Position, velocity and
// acceleration continuity at piece boundaries is a property of construction,
// enforced by the optimizer's continuity constraints.
package trajectory

import (
	"time"

	"github.com/golang/geo/r3"
)

// DefaultOrder is the Bezier degree used by the optimizer: high enough for
// acceleration boundary conditions on every piece.
const DefaultOrder = 5

// Piece is one Bezier segment: Order()+1 control points over a duration.
type Piece struct {
	Duration float64
	Ctrl     []r3.Vector
}

// Order returns the polynomial degree of the piece.
func (p *Piece) Order() int {
	return len(p.Ctrl) - 1
}

// deCasteljau evaluates a Bezier curve at normalized parameter s in [0,1].
func deCasteljau(ctrl []r3.Vector, s float64) r3.Vector {
	work := make([]r3.Vector, len(ctrl))
	copy(work, ctrl)
	for k := len(work) - 1; k > 0; k-- {
		for i := 0; i < k; i++ {
			work[i] = work[i].Mul(1 - s).Add(work[i+1].Mul(s))
		}
	}
	return work[0]
}

// derivCtrl returns the control points of the derivative curve.
func derivCtrl(ctrl []r3.Vector, duration float64) []r3.Vector {
	n := float64(len(ctrl) - 1)
	out := make([]r3.Vector, len(ctrl)-1)
	for i := range out {
		out[i] = ctrl[i+1].Sub(ctrl[i]).Mul(n / duration)
	}
	return out
}

// Pos evaluates position at t in [0, Duration].
func (p *Piece) Pos(t float64) r3.Vector {
	return deCasteljau(p.Ctrl, t/p.Duration)
}

// Vel evaluates velocity at t in [0, Duration].
func (p *Piece) Vel(t float64) r3.Vector {
	return deCasteljau(derivCtrl(p.Ctrl, p.Duration), t/p.Duration)
}

// Acc evaluates acceleration at t in [0, Duration].
func (p *Piece) Acc(t float64) r3.Vector {
	return deCasteljau(derivCtrl(derivCtrl(p.Ctrl, p.Duration), p.Duration), t/p.Duration)
}

// Trajectory is an ordered piece sequence with a start time and the ids
// stamped into the broadcast message.
type Trajectory struct {
	ID        int64
	DroneID   int
	Pieces    []Piece
	StartTime time.Time
}

// Duration returns the total duration across pieces.
func (tr *Trajectory) Duration() float64 {
	total := 0.0
	for i := range tr.Pieces {
		total += tr.Pieces[i].Duration
	}
	return total
}

// NumPieces returns the piece count.
func (tr *Trajectory) NumPieces() int {
	return len(tr.Pieces)
}

// Order returns the polynomial degree, taken from the first piece.
func (tr *Trajectory) Order() int {
	if len(tr.Pieces) == 0 {
		return 0
	}
	return tr.Pieces[0].Order()
}

// locate clamps t into the trajectory and returns the active piece with the
// local time.
func (tr *Trajectory) locate(t float64) (*Piece, float64) {
	if t < 0 {
		t = 0
	}
	for i := range tr.Pieces {
		p := &tr.Pieces[i]
		if t <= p.Duration || i == len(tr.Pieces)-1 {
			if t > p.Duration {
				t = p.Duration
			}
			return p, t
		}
		t -= p.Duration
	}
	return nil, 0
}

// Pos evaluates position at t seconds after the trajectory start, clamped to
// the final state beyond the end.
func (tr *Trajectory) Pos(t float64) r3.Vector {
	p, local := tr.locate(t)
	if p == nil {
		return r3.Vector{}
	}
	return p.Pos(local)
}

// Vel evaluates velocity at t seconds after the trajectory start.
func (tr *Trajectory) Vel(t float64) r3.Vector {
	p, local := tr.locate(t)
	if p == nil {
		return r3.Vector{}
	}
	return p.Vel(local)
}

// Acc evaluates acceleration at t seconds after the trajectory start.
func (tr *Trajectory) Acc(t float64) r3.Vector {
	p, local := tr.locate(t)
	if p == nil {
		return r3.Vector{}
	}
	return p.Acc(local)
}

// PosAt evaluates position at an absolute wall time.
func (tr *Trajectory) PosAt(at time.Time) r3.Vector {
	return tr.Pos(at.Sub(tr.StartTime).Seconds())
}

// Durations returns the per-piece durations.
func (tr *Trajectory) Durations() []float64 {
	out := make([]float64, len(tr.Pieces))
	for i := range tr.Pieces {
		out[i] = tr.Pieces[i].Duration
	}
	return out
}

// CtrlPoints returns all control points in piece order, the wire layout of
// the trajectory message.
func (tr *Trajectory) CtrlPoints() []r3.Vector {
	var out []r3.Vector
	for i := range tr.Pieces {
		out = append(out, tr.Pieces[i].Ctrl...)
	}
	return out
}
