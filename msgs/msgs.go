// Package msgs defines the external interface types exchanged with the
// execution side and the inter-agent broadcast channel. Wire serialization is
// owned by the surrounding middleware; these are the in-memory shapes.
package msgs

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/siyuanwu99/RAST-corridor-planning/corridor"
	"github.com/siyuanwu99/RAST-corridor-planning/trajectory"
)

// TrajectoryMsg carries one published trajectory: ids, stamps, per-piece
// durations and the full control point list, three coordinates per point.
type TrajectoryMsg struct {
	DroneID    int
	TrajID     int64
	Order      int
	StartTime  time.Time
	PubTime    time.Time
	Durations  []float64
	CtrlPoints []r3.Vector
}

// FromTrajectory flattens a trajectory for publication.
func FromTrajectory(tr *trajectory.Trajectory, pubTime time.Time) TrajectoryMsg {
	return TrajectoryMsg{
		DroneID:    tr.DroneID,
		TrajID:     tr.ID,
		Order:      tr.Order(),
		StartTime:  tr.StartTime,
		PubTime:    pubTime,
		Durations:  tr.Durations(),
		CtrlPoints: tr.CtrlPoints(),
	}
}

// Trajectory reassembles the piecewise curve from the wire layout.
func (m *TrajectoryMsg) Trajectory() (*trajectory.Trajectory, error) {
	nCtrl := m.Order + 1
	if nCtrl < 2 {
		return nil, errors.Errorf("invalid trajectory order %d", m.Order)
	}
	if len(m.CtrlPoints) != nCtrl*len(m.Durations) {
		return nil, errors.Errorf("control point count %d does not match %d pieces of order %d",
			len(m.CtrlPoints), len(m.Durations), m.Order)
	}
	pieces := make([]trajectory.Piece, len(m.Durations))
	for i, dur := range m.Durations {
		if dur <= 0 {
			return nil, errors.Errorf("non-positive duration on piece %d", i)
		}
		pieces[i] = trajectory.Piece{
			Duration: dur,
			Ctrl:     append([]r3.Vector(nil), m.CtrlPoints[i*nCtrl:(i+1)*nCtrl]...),
		}
	}
	return &trajectory.Trajectory{
		ID:        m.TrajID,
		DroneID:   m.DroneID,
		Pieces:    pieces,
		StartTime: m.StartTime,
	}, nil
}

// CorridorSection is one polytope on the wire: paired point/normal half-space
// lists plus the traversal duration.
type CorridorSection struct {
	Duration float64
	Points   []r3.Vector
	Normals  []r3.Vector
}

// CorridorMsg publishes a planning cycle's corridor chain together with its
// boundary position/velocity/acceleration states.
type CorridorMsg struct {
	StartPos, StartVel, StartAcc r3.Vector
	EndPos, EndVel, EndAcc       r3.Vector
	Corridors                    []CorridorSection
}

// FromChain flattens a corridor chain; start and end are the boundary PVA
// triples (position, velocity, acceleration).
func FromChain(chain corridor.Chain, start, end [3]r3.Vector) CorridorMsg {
	msg := CorridorMsg{
		StartPos: start[0], StartVel: start[1], StartAcc: start[2],
		EndPos: end[0], EndVel: end[1], EndAcc: end[2],
		Corridors: make([]CorridorSection, 0, len(chain)),
	}
	for _, c := range chain {
		sec := CorridorSection{
			Duration: c.Duration,
			Points:   make([]r3.Vector, 0, len(c.Planes)),
			Normals:  make([]r3.Vector, 0, len(c.Planes)),
		}
		for _, hs := range c.Planes {
			sec.Points = append(sec.Points, hs.Point)
			sec.Normals = append(sec.Normals, hs.Normal)
		}
		msg.Corridors = append(msg.Corridors, sec)
	}
	return msg
}

// TrajectoryPublisher accepts trajectories for local execution and for the
// inter-agent broadcast channel.
type TrajectoryPublisher interface {
	PublishTrajectory(TrajectoryMsg)
	BroadcastTrajectory(TrajectoryMsg)
}

// CorridorPublisher accepts the per-cycle corridor chain.
type CorridorPublisher interface {
	PublishCorridors(CorridorMsg)
}
