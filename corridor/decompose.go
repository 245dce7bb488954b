package corridor

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

const (
	// maxTransverseRadius bounds how wide a corridor grows away from its
	// segment.
	maxTransverseRadius = 1.0
	// minTransverseRadius below which the free space around a segment is
	// considered degenerate.
	minTransverseRadius = 0.05
	// localRange selects the obstacle points considered for one segment.
	localRange = 2.0
	// maxFaces bounds the tangent planes added per corridor.
	maxFaces = 40
)

// ellipsoid in segment-aligned axes.
type ellipsoid struct {
	center r3.Vector
	axes   [3]r3.Vector
	radii  [3]float64
}

func (e *ellipsoid) local(p r3.Vector) r3.Vector {
	d := p.Sub(e.center)
	return r3.Vector{X: d.Dot(e.axes[0]), Y: d.Dot(e.axes[1]), Z: d.Dot(e.axes[2])}
}

// dist is the ellipsoid metric: <1 inside, 1 on the boundary.
func (e *ellipsoid) dist(p r3.Vector) float64 {
	l := e.local(p)
	return math.Sqrt(sq(l.X/e.radii[0]) + sq(l.Y/e.radii[1]) + sq(l.Z/e.radii[2]))
}

// tangentAt returns the outward half-space tangent to the ellipsoid scaled to
// pass through p.
func (e *ellipsoid) tangentAt(p r3.Vector) HalfSpace {
	l := e.local(p)
	grad := e.axes[0].Mul(l.X / sq(e.radii[0])).
		Add(e.axes[1].Mul(l.Y / sq(e.radii[1]))).
		Add(e.axes[2].Mul(l.Z / sq(e.radii[2])))
	return HalfSpace{Point: p, Normal: grad.Normalize()}
}

func sq(x float64) float64 { return x * x }

// segmentBasis builds an orthonormal frame with the first axis along the
// segment.
func segmentBasis(dir r3.Vector) [3]r3.Vector {
	e0 := dir
	if e0.Norm() < 1e-9 {
		e0 = r3.Vector{X: 1}
	}
	e0 = e0.Normalize()
	up := r3.Vector{Z: 1}
	if math.Abs(e0.Dot(up)) > 0.99 {
		up = r3.Vector{X: 1}
	}
	e1 := e0.Cross(up).Normalize()
	e2 := e0.Cross(e1)
	return [3]r3.Vector{e0, e1, e2}
}

// Cover converts a searched path into a corridor chain against the obstacle
// points, clipped to the [lower, upper] world box. Each corridor is tagged
// with segmentTime. A segment whose free space collapses below the minimum
// radius, or whose polytope fails to contain its own endpoints, aborts the
// whole extraction: a degenerate corridor must never reach the optimizer.
func Cover(route []r3.Vector, obstacles []r3.Vector, lower, upper r3.Vector, segmentTime float64) (Chain, error) {
	if len(route) < 2 {
		return nil, errors.Errorf("need at least 2 path nodes, got %d", len(route))
	}
	if segmentTime <= 0 {
		return nil, errors.New("segment time must be positive")
	}
	chain := make(Chain, 0, len(route)-1)
	for i := 0; i+1 < len(route); i++ {
		c, err := decomposeSegment(route[i], route[i+1], obstacles, lower, upper)
		if err != nil {
			return nil, errors.Wrapf(err, "segment %d", i)
		}
		c.Duration = segmentTime
		chain = append(chain, *c)
	}
	if err := chain.Validate(1e-6); err != nil {
		return nil, errors.Wrap(err, "corridor chain invalid")
	}
	return chain, nil
}

func decomposeSegment(p0, p1 r3.Vector, obstacles []r3.Vector, lower, upper r3.Vector) (*Corridor, error) {
	mid := p0.Add(p1).Mul(0.5)
	dir := p1.Sub(p0)
	halfLen := dir.Norm() / 2

	e := ellipsoid{
		center: mid,
		axes:   segmentBasis(dir),
		radii:  [3]float64{halfLen + 0.1, maxTransverseRadius, maxTransverseRadius},
	}

	// Local obstacle pool: points near the segment and inside the box.
	local := make([]r3.Vector, 0, 128)
	for _, q := range obstacles {
		if q.X < lower.X || q.Y < lower.Y || q.Z < lower.Z ||
			q.X > upper.X || q.Y > upper.Y || q.Z > upper.Z {
			continue
		}
		l := e.local(q)
		if math.Abs(l.X) > halfLen+localRange || math.Hypot(l.Y, l.Z) > localRange {
			continue
		}
		local = append(local, q)
	}

	// Shrink the transverse radii until no point is inside the seed
	// ellipsoid; the long axis stays fixed on the segment.
	for _, q := range local {
		if e.dist(q) >= 1 {
			continue
		}
		l := e.local(q)
		den := 1 - sq(l.X/e.radii[0])
		if den <= 1e-6 {
			// Obstacle essentially on the segment axis.
			return nil, errors.New("obstacle intersects path segment, free space degenerate")
		}
		rt := math.Sqrt((sq(l.Y) + sq(l.Z)) / den)
		if rt < e.radii[1] {
			e.radii[1] = rt
			e.radii[2] = rt
		}
	}
	if e.radii[1] < minTransverseRadius {
		return nil, errors.Errorf("free space around segment narrower than %.2fm", minTransverseRadius)
	}

	c := &Corridor{Start: p0, End: p1}

	// Grow the polytope: repeatedly take the closest remaining point in the
	// ellipsoid metric, cut with the tangent plane through it, and discard
	// everything the plane excludes.
	remaining := local
	for len(remaining) > 0 && len(c.Planes) < maxFaces {
		bestIdx := -1
		bestDist := math.Inf(1)
		for i, q := range remaining {
			if d := e.dist(q); d < bestDist {
				bestDist = d
				bestIdx = i
			}
		}
		dilated := e
		for i := range dilated.radii {
			dilated.radii[i] *= math.Max(bestDist, 1e-6)
		}
		hs := dilated.tangentAt(remaining[bestIdx])
		c.Planes = append(c.Planes, hs)

		kept := remaining[:0]
		for _, q := range remaining {
			if hs.Normal.Dot(q.Sub(hs.Point)) < -1e-9 {
				kept = append(kept, q)
			}
		}
		remaining = kept
	}
	if len(remaining) > 0 {
		return nil, errors.Errorf("face budget exhausted with %d obstacle points uncut", len(remaining))
	}

	// Clip to the global bounding box.
	c.Planes = append(c.Planes,
		HalfSpace{Point: r3.Vector{X: upper.X, Y: mid.Y, Z: mid.Z}, Normal: r3.Vector{X: 1}},
		HalfSpace{Point: r3.Vector{X: lower.X, Y: mid.Y, Z: mid.Z}, Normal: r3.Vector{X: -1}},
		HalfSpace{Point: r3.Vector{X: mid.X, Y: upper.Y, Z: mid.Z}, Normal: r3.Vector{Y: 1}},
		HalfSpace{Point: r3.Vector{X: mid.X, Y: lower.Y, Z: mid.Z}, Normal: r3.Vector{Y: -1}},
		HalfSpace{Point: r3.Vector{X: mid.X, Y: mid.Y, Z: upper.Z}, Normal: r3.Vector{Z: 1}},
		HalfSpace{Point: r3.Vector{X: mid.X, Y: mid.Y, Z: lower.Z}, Normal: r3.Vector{Z: -1}},
	)

	if !c.Contains(p0, 1e-6) || !c.Contains(p1, 1e-6) {
		return nil, errors.New("polytope does not contain its segment endpoints")
	}
	return c, nil
}
