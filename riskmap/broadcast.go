package riskmap

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Broadcast layout: VOXEL_NUM x PREDICTION_TIMES risk values, voxel-major,
// followed by the three map center coordinates.

// BroadcastLen returns the expected flat array length for this grid.
func (c Config) BroadcastLen() int {
	return c.voxelNum()*c.PredictionTimes + 3
}

// EncodeBroadcast flattens the grid and its center for the risk channel.
func (m *Map) EncodeBroadcast() []float32 {
	out := make([]float32, m.cfg.BroadcastLen())
	copy(out, m.risk)
	n := len(m.risk)
	out[n] = float32(m.center.X)
	out[n+1] = float32(m.center.Y)
	out[n+2] = float32(m.center.Z)
	return out
}

// ApplyBroadcast replaces the grid contents with a received risk array and
// recenters on the transmitted coordinates. Risk values are clamped to
// [0,1]; a peer's malformed payload must not break the grid invariant.
// Malformed lengths are rejected; a busy grid drops the message per the
// drop-latest contract.
func (m *Map) ApplyBroadcast(data []float32) error {
	if len(data) != m.cfg.BroadcastLen() {
		return errors.Errorf("risk broadcast length %d, want %d", len(data), m.cfg.BroadcastLen())
	}
	if !m.busy.CompareAndSwap(false, true) {
		return ErrMapBusy
	}
	defer m.busy.Store(false)
	n := len(m.risk)
	for i, v := range data[:n] {
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		m.risk[i] = v
	}
	m.center = r3.Vector{X: float64(data[n]), Y: float64(data[n+1]), Z: float64(data[n+2])}
	m.markUpdated()
	return nil
}
