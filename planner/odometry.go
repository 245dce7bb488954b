package planner

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// odometry is the asynchronously updated vehicle state. Message callbacks
// write it while the FSM tick reads it; access is serialized by a
// non-blocking busy flag on the owning Planner so a publisher callback is
// never stalled. A writer finding the flag set drops that sample.

// UpdatePose ingests a pose message. When no direct velocity source has been
// seen, velocity is estimated by finite-differencing consecutive poses.
func (p *Planner) UpdatePose(pos r3.Vector, att quat.Number, stamp time.Time) {
	if !p.stateBusy.CompareAndSwap(false, true) {
		return
	}
	defer p.stateBusy.Store(false)

	if !p.velocityReceived && p.posInit {
		dt := stamp.Sub(p.prevPosTime).Seconds()
		if dt > 0 {
			p.odomVel = pos.Sub(p.prevPos).Mul(1 / dt)
		}
	}
	p.prevPos = pos
	p.prevPosTime = stamp
	p.posInit = true

	p.odomPos = pos
	p.odomAtt = att
	p.odomReceived = true
	p.lastOdomTime = p.clk.Now()
}

// UpdateVelocity ingests a direct velocity measurement and estimates
// acceleration by finite differencing, with a dead zone and a symmetric
// clamp to suppress sensor noise.
func (p *Planner) UpdateVelocity(vel r3.Vector, stamp time.Time) {
	if !p.stateBusy.CompareAndSwap(false, true) {
		return
	}
	defer p.stateBusy.Store(false)

	p.odomVel = vel
	if p.velInit {
		dt := stamp.Sub(p.prevVelTime).Seconds()
		if dt > 0 {
			acc := vel.Sub(p.prevVel).Mul(1 / dt)
			p.odomAcc = r3.Vector{
				X: conditionAccel(acc.X, p.cfg.AccelDeadZone, p.cfg.MaxDiffAccel),
				Y: conditionAccel(acc.Y, p.cfg.AccelDeadZone, p.cfg.MaxDiffAccel),
				Z: conditionAccel(acc.Z, p.cfg.AccelDeadZone, p.cfg.MaxDiffAccel),
			}
		}
	}
	p.velocityReceived = true
	p.velInit = true
	p.prevVel = vel
	p.prevVelTime = stamp
	p.lastOdomTime = p.clk.Now()
}

// conditionAccel applies the dead zone and symmetric clamp.
func conditionAccel(a, deadZone, limit float64) float64 {
	if math.Abs(a) < deadZone {
		return 0
	}
	if a > limit {
		return limit
	}
	if a < -limit {
		return -limit
	}
	return a
}

// snapshotOdometry copies the odometry under the busy flag. A callback
// holding the flag makes the caller skip this cycle and retry next tick.
func (p *Planner) snapshotOdometry() (pos, vel, acc r3.Vector, ok bool) {
	if !p.stateBusy.CompareAndSwap(false, true) {
		return r3.Vector{}, r3.Vector{}, r3.Vector{}, false
	}
	defer p.stateBusy.Store(false)
	return p.odomPos, p.odomVel, p.odomAcc, p.odomReceived
}
