package riskmap

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// ObstacleKind distinguishes the known moving obstacle primitives used for
// velocity matching.
type ObstacleKind int

// Supported primitives: vertical cylinders and oriented circular plates.
const (
	KindCylinder ObstacleKind = iota
	KindPlane
)

// MovingObstacle is a ground-truth motion hint for one obstacle primitive.
// Velocity is planar; the risk map translates matched occupancy by it when
// building the future layers.
type MovingObstacle struct {
	Kind        ObstacleKind
	Center      r3.Vector
	Orientation quat.Number
	Width       float64
	Velocity    r3.Vector
}

// Observation is one sensor update cycle: the current obstacle point cloud in
// the world frame, the motion hints, and the new window center.
type Observation struct {
	Points    []r3.Vector
	Obstacles []MovingObstacle
	Center    r3.Vector
}

// rotate applies a unit quaternion rotation to a vector.
func rotate(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Update rewrites the grid wholesale from one observation: the window is
// recentered, voxels holding current points are marked at layer 0, and each
// occupied voxel is propagated through the future layers by its matched
// obstacle velocity. Returns ErrMapBusy if another writer holds the grid.
func (m *Map) Update(obs *Observation) error {
	if !m.busy.CompareAndSwap(false, true) {
		return ErrMapBusy
	}
	defer m.busy.Store(false)

	m.center = obs.Center
	for i := range m.risk {
		m.risk[i] = 0
	}

	for _, p := range obs.Points {
		if idx, ok := m.voxelIndex(p.Sub(m.center)); ok {
			m.risk[idx*m.cfg.PredictionTimes] = 1
		}
	}

	// Propagate each occupied voxel forward under its matched velocity.
	// Out-of-window predictions are discarded.
	for i := 0; i < m.cfg.voxelNum(); i++ {
		if float64(m.risk[i*m.cfg.PredictionTimes]) <= m.cfg.RiskThreshold {
			continue
		}
		pt := m.voxelCenter(i)
		vel := m.matchVelocity(pt, obs.Obstacles)
		for k := 1; k < m.cfg.PredictionTimes; k++ {
			pred := pt.Add(vel.Mul(m.cfg.TimeResolution * float64(k))).Sub(m.center)
			if idx, ok := m.voxelIndex(pred); ok {
				m.risk[idx*m.cfg.PredictionTimes+k] = 1
			}
		}
	}

	m.markUpdated()
	return nil
}

// matchVelocity finds the obstacle primitive containing a voxel center and
// returns its velocity, or zero for static occupancy.
func (m *Map) matchVelocity(pt r3.Vector, obstacles []MovingObstacle) r3.Vector {
	res := m.cfg.Resolution
	for _, ob := range obstacles {
		switch ob.Kind {
		case KindCylinder:
			axis := r3.Vector{X: ob.Center.X, Y: ob.Center.Y, Z: pt.Z}
			if pt.Sub(axis).Norm() <= ob.Width+m.cfg.Clearance {
				return ob.Velocity
			}
		case KindPlane:
			n := rotate(ob.Orientation, r3.Vector{Z: 1})
			toPt := pt.Sub(ob.Center)
			distToPlane := n.Dot(toPt)
			if distToPlane < 0 {
				distToPlane = -distToPlane
			}
			// Only the rim ring of the plate is matched; interior
			// returns would belong to whatever sits behind it.
			inPlane := toPt.Sub(n.Mul(n.Dot(toPt))).Norm()
			if distToPlane < 2*res && math.Abs(ob.Width/2-inPlane) < 2*res {
				return ob.Velocity
			}
		default:
			m.logger.Warnf("unknown obstacle kind %d", ob.Kind)
		}
	}
	return r3.Vector{}
}

// MergeAgentSamples stamps another agent's predicted world-frame positions
// into layer k as fully occupied, as part of the multi-agent merge. The
// caller must hold the grid via AcquirePlanning; the merge is part of the
// cycle that consumes it.
func (m *Map) MergeAgentSamples(samples []r3.Vector, k int) error {
	if k < 0 || k >= m.cfg.PredictionTimes {
		return errors.Errorf("time layer %d outside horizon", k)
	}
	for _, p := range samples {
		if idx, ok := m.voxelIndex(p.Sub(m.center)); ok {
			m.risk[idx*m.cfg.PredictionTimes+k] = 1
		}
	}
	return nil
}
