// Package riskmap maintains a fixed-size spatio-temporal occupancy grid. Each
// voxel stores a risk value per discretized future time step; the grid window
// is recentered on the vehicle every update rather than reallocated.
package riskmap

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Occupancy is the result of a collision query against the grid.
type Occupancy int

// Query results. Positions outside the current window are always reported as
// OutOfBounds, never aliased back into the window.
const (
	Free Occupancy = iota
	Occupied
	OutOfBounds
)

func (o Occupancy) String() string {
	switch o {
	case Free:
		return "free"
	case Occupied:
		return "occupied"
	case OutOfBounds:
		return "out_of_bounds"
	}
	return "unknown"
}

// ErrMapBusy is returned when an update arrives while another writer or the
// planning cycle holds the grid. Per the drop-latest contract the caller
// skips the message instead of blocking.
var ErrMapBusy = errors.New("risk map busy, update dropped")

type voxelOffset struct{ x, y, z int }

// Map is the dense risk buffer. Writers (sensor updates, broadcast refreshes)
// and the planning cycle serialize through a non-blocking busy flag: a writer
// finding the flag set drops its message, and a planning cycle finding it set
// skips the cycle. Occupancy queries are only valid while the cycle holds the
// grid via AcquirePlanning.
type Map struct {
	cfg    Config
	logger golog.Logger
	clk    clock.Clock

	// risk is voxel-major: risk[i*PredictionTimes+k] is voxel i at layer k.
	risk   []float32
	center r3.Vector
	kernel []voxelOffset

	busy       atomic.Bool
	lastUpdate atomic.Time

	halfLen, halfWid, halfHt float64
}

// New allocates the grid and builds the default cubic inflation kernel from
// the configured clearance.
func New(cfg Config, logger golog.Logger) (*Map, error) {
	return NewWithClock(cfg, logger, clock.New())
}

// NewWithClock is New with an injectable clock for staleness tests.
func NewWithClock(cfg Config, logger golog.Logger, clk clock.Clock) (*Map, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid risk map config")
	}
	m := &Map{
		cfg:     cfg,
		logger:  logger,
		clk:     clk,
		risk:    make([]float32, cfg.voxelNum()*cfg.PredictionTimes),
		halfLen: float64(cfg.LengthVoxels) * cfg.Resolution / 2,
		halfWid: float64(cfg.WidthVoxels) * cfg.Resolution / 2,
		halfHt:  float64(cfg.HeightVoxels) * cfg.Resolution / 2,
	}
	m.buildCubeKernel()
	return m, nil
}

// Config returns the grid geometry.
func (m *Map) Config() Config {
	return m.cfg
}

// Center returns the world position the window is currently centered on.
func (m *Map) Center() r3.Vector {
	return m.center
}

// LastUpdate returns the stamp of the most recent accepted update, for
// staleness checks by the planning orchestrator. Safe to call without
// holding the grid.
func (m *Map) LastUpdate() time.Time {
	return m.lastUpdate.Load()
}

func (m *Map) markUpdated() {
	m.lastUpdate.Store(m.clk.Now())
}

// AcquirePlanning claims the grid for a planning cycle, so occupancy reads
// never race a sensor update rewriting the buffer. Writers arriving while it
// is held drop their message. Returns false when a writer currently holds the
// grid; the caller skips the cycle and retries next tick.
func (m *Map) AcquirePlanning() bool {
	return m.busy.CompareAndSwap(false, true)
}

// ReleasePlanning returns the grid to writers.
func (m *Map) ReleasePlanning() {
	m.busy.Store(false)
}

// Horizon returns the length of the prediction window in seconds.
func (m *Map) Horizon() float64 {
	return float64(m.cfg.PredictionTimes-1) * m.cfg.TimeResolution
}

func (m *Map) buildCubeKernel() {
	step := int(m.cfg.Clearance / m.cfg.Resolution)
	kernel := make([]voxelOffset, 0, (2*step+1)*(2*step+1)*(2*step+1))
	for x := -step; x <= step; x++ {
		for y := -step; y <= step; y++ {
			for z := -step; z <= step; z++ {
				kernel = append(kernel, voxelOffset{x, y, z})
			}
		}
	}
	m.kernel = kernel
}

// SetKernelFromPoints rebuilds the inflation kernel from a set of body-frame
// points, typically the ego swept volume supplied by the swarm coordinator.
// An empty set restores the cubic kernel. The caller must hold the grid via
// AcquirePlanning; queries in the same cycle use the new kernel.
func (m *Map) SetKernelFromPoints(pts []r3.Vector) {
	if len(pts) == 0 {
		m.buildCubeKernel()
		return
	}
	kernel := make([]voxelOffset, 0, len(pts))
	for _, p := range pts {
		kernel = append(kernel, voxelOffset{
			x: int(math.Round(p.X / m.cfg.Resolution)),
			y: int(math.Round(p.Y / m.cfg.Resolution)),
			z: int(math.Round(p.Z / m.cfg.Resolution)),
		})
	}
	m.kernel = kernel
	m.logger.Debugf("inflation kernel rebuilt with %d cells", len(kernel))
}

// inRange reports whether a map-frame position lies strictly inside the
// window.
func (m *Map) inRange(p r3.Vector) bool {
	return p.X > -m.halfLen && p.X < m.halfLen &&
		p.Y > -m.halfWid && p.Y < m.halfWid &&
		p.Z > -m.halfHt && p.Z < m.halfHt
}

func (m *Map) inRangeCell(x, y, z int) bool {
	return x >= 0 && x < m.cfg.LengthVoxels &&
		y >= 0 && y < m.cfg.WidthVoxels &&
		z >= 0 && z < m.cfg.HeightVoxels
}

// cellOf maps a map-frame position to voxel coordinates.
func (m *Map) cellOf(p r3.Vector) (x, y, z int, ok bool) {
	if !m.inRange(p) {
		return 0, 0, 0, false
	}
	x = int((p.X + m.halfLen) / m.cfg.Resolution)
	y = int((p.Y + m.halfWid) / m.cfg.Resolution)
	z = int((p.Z + m.halfHt) / m.cfg.Resolution)
	if !m.inRangeCell(x, y, z) {
		return 0, 0, 0, false
	}
	return x, y, z, true
}

// linearIndex is the (x,y,z) -> buffer bijection. Order is z-major, matching
// the broadcast layout.
func (m *Map) linearIndex(x, y, z int) int {
	return z*m.cfg.LengthVoxels*m.cfg.WidthVoxels + y*m.cfg.LengthVoxels + x
}

// voxelIndex maps a map-frame position to a linear voxel index.
func (m *Map) voxelIndex(p r3.Vector) (int, bool) {
	x, y, z, ok := m.cellOf(p)
	if !ok {
		return 0, false
	}
	return m.linearIndex(x, y, z), true
}

// voxelCenter returns the world-frame center of a voxel by linear index.
func (m *Map) voxelCenter(idx int) r3.Vector {
	x := idx % m.cfg.LengthVoxels
	y := (idx / m.cfg.LengthVoxels) % m.cfg.WidthVoxels
	z := idx / (m.cfg.LengthVoxels * m.cfg.WidthVoxels)
	return r3.Vector{
		X: (float64(x)+0.5)*m.cfg.Resolution - m.halfLen,
		Y: (float64(y)+0.5)*m.cfg.Resolution - m.halfWid,
		Z: (float64(z)+0.5)*m.cfg.Resolution - m.halfHt,
	}.Add(m.center)
}

func (m *Map) clampLayer(k int) int {
	if k < 0 {
		return 0
	}
	if k >= m.cfg.PredictionTimes {
		return m.cfg.PredictionTimes - 1
	}
	return k
}

// OccupancyAt checks the inflated neighborhood of a world-frame position
// against the risk threshold at discrete time layer k.
func (m *Map) OccupancyAt(pos r3.Vector, k int) Occupancy {
	rel := pos.Sub(m.center)
	x, y, z, ok := m.cellOf(rel)
	if !ok {
		return OutOfBounds
	}
	k = m.clampLayer(k)
	sum := 0.0
	for _, off := range m.kernel {
		cx, cy, cz := x+off.x, y+off.y, z+off.z
		if !m.inRangeCell(cx, cy, cz) {
			continue
		}
		sum += float64(m.risk[m.linearIndex(cx, cy, cz)*m.cfg.PredictionTimes+k])
		if sum > m.cfg.RiskThreshold {
			return Occupied
		}
	}
	return Free
}

// OccupancyAtTime checks a continuous query time by OR-ing the two nearest
// discrete layers, the conservative reading of an in-between time.
func (m *Map) OccupancyAtTime(pos r3.Vector, t float64) Occupancy {
	kc := m.clampLayer(int(math.Ceil(t / m.cfg.TimeResolution)))
	kf := m.clampLayer(int(math.Floor(t / m.cfg.TimeResolution)))
	oc := m.OccupancyAt(pos, kc)
	of := m.OccupancyAt(pos, kf)
	if oc == OutOfBounds || of == OutOfBounds {
		return OutOfBounds
	}
	if oc == Free && of == Free {
		return Free
	}
	return Occupied
}

// ObstaclePoints returns world-frame centers of voxels exceeding the risk
// threshold anywhere inside the [tStart,tEnd] window (seconds from now).
func (m *Map) ObstaclePoints(tStart, tEnd float64) []r3.Vector {
	lower := r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	upper := r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	return m.ObstaclePointsInBox(tStart, tEnd, lower, upper)
}

// ObstaclePointsInBox is ObstaclePoints restricted to a world-frame bounding
// box, the feed into convex corridor decomposition.
func (m *Map) ObstaclePointsInBox(tStart, tEnd float64, lower, upper r3.Vector) []r3.Vector {
	kStart := m.clampLayer(int(math.Floor(tStart / m.cfg.TimeResolution)))
	kEnd := m.clampLayer(int(math.Ceil(tEnd / m.cfg.TimeResolution)))
	pts := make([]r3.Vector, 0, 256)
	for i := 0; i < m.cfg.voxelNum(); i++ {
		occupied := false
		for k := kStart; k <= kEnd; k++ {
			if float64(m.risk[i*m.cfg.PredictionTimes+k]) > m.cfg.RiskThreshold {
				occupied = true
				break
			}
		}
		if !occupied {
			continue
		}
		c := m.voxelCenter(i)
		if c.X < lower.X || c.Y < lower.Y || c.Z < lower.Z ||
			c.X > upper.X || c.Y > upper.Y || c.Z > upper.Z {
			continue
		}
		pts = append(pts, c)
	}
	return pts
}

// RiskAt returns the raw risk of the voxel containing a world position at
// layer k, without inflation.
func (m *Map) RiskAt(pos r3.Vector, k int) (float64, bool) {
	idx, ok := m.voxelIndex(pos.Sub(m.center))
	if !ok {
		return 0, false
	}
	return float64(m.risk[idx*m.cfg.PredictionTimes+m.clampLayer(k)]), true
}
