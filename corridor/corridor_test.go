package corridor

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

var (
	boxLower = r3.Vector{X: -5, Y: -5, Z: -1}
	boxUpper = r3.Vector{X: 5, Y: 5, Z: 3}
)

func TestCoverFreeSpace(t *testing.T) {
	route := []r3.Vector{{Z: 1}, {X: 1, Z: 1}, {X: 2, Z: 1}}
	chain, err := Cover(route, nil, boxLower, boxUpper, 0.4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(chain), test.ShouldEqual, 2)

	for i, c := range chain {
		test.That(t, c.Duration, test.ShouldEqual, 0.4)
		test.That(t, c.Contains(route[i], 1e-9), test.ShouldBeTrue)
		test.That(t, c.Contains(route[i+1], 1e-9), test.ShouldBeTrue)
		// With no obstacles only the box faces remain.
		test.That(t, len(c.Planes), test.ShouldEqual, 6)
	}
	test.That(t, chain.Validate(1e-6), test.ShouldBeNil)
}

func TestCoverOverlap(t *testing.T) {
	obstacles := []r3.Vector{
		{X: 0.5, Y: 0.6, Z: 1}, {X: 1.5, Y: -0.6, Z: 1}, {X: 1.0, Y: 0.7, Z: 1.5},
	}
	route := []r3.Vector{{Z: 1}, {X: 1, Z: 1}, {X: 2, Z: 1}}
	chain, err := Cover(route, obstacles, boxLower, boxUpper, 0.4)
	test.That(t, err, test.ShouldBeNil)

	// The shared path node must be inside both adjacent corridors.
	test.That(t, chain[0].Contains(route[1], 1e-6), test.ShouldBeTrue)
	test.That(t, chain[1].Contains(route[1], 1e-6), test.ShouldBeTrue)
}

func TestCoverExcludesObstacles(t *testing.T) {
	obstacles := []r3.Vector{{X: 1, Y: 0.4, Z: 1}, {X: 1, Y: -0.5, Z: 1.2}}
	route := []r3.Vector{{Z: 1}, {X: 2, Z: 1}}
	chain, err := Cover(route, obstacles, boxLower, boxUpper, 0.4)
	test.That(t, err, test.ShouldBeNil)

	for _, q := range obstacles {
		test.That(t, chain[0].Contains(q, -1e-9), test.ShouldBeFalse)
	}
}

func TestCoverObstacleOnSegment(t *testing.T) {
	// An obstacle sitting on the path axis leaves no free cross-section.
	obstacles := []r3.Vector{{X: 1, Y: 0, Z: 1}}
	route := []r3.Vector{{Z: 1}, {X: 2, Z: 1}}
	_, err := Cover(route, obstacles, boxLower, boxUpper, 0.4)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "narrower")
}

func TestCoverInputChecks(t *testing.T) {
	_, err := Cover([]r3.Vector{{Z: 1}}, nil, boxLower, boxUpper, 0.4)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Cover([]r3.Vector{{Z: 1}, {X: 1, Z: 1}}, nil, boxLower, boxUpper, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestViolation(t *testing.T) {
	route := []r3.Vector{{Z: 1}, {X: 1, Z: 1}}
	chain, err := Cover(route, nil, boxLower, boxUpper, 0.4)
	test.That(t, err, test.ShouldBeNil)

	c := chain[0]
	test.That(t, c.Violation(r3.Vector{X: 0.5, Z: 1}), test.ShouldEqual, 0)
	// One meter past the +x box face.
	test.That(t, c.Violation(r3.Vector{X: 6, Z: 1}), test.ShouldAlmostEqual, 1, 1e-9)
}

func TestChainValidate(t *testing.T) {
	test.That(t, Chain{}.Validate(1e-6), test.ShouldNotBeNil)

	// Two corridors that do not overlap at the shared node.
	far := Corridor{
		Planes: []HalfSpace{{Point: r3.Vector{X: 10}, Normal: r3.Vector{X: -1}}},
		Start:  r3.Vector{X: 11},
		End:    r3.Vector{X: 12},
	}
	near := Corridor{
		Planes: []HalfSpace{{Point: r3.Vector{X: 2}, Normal: r3.Vector{X: 1}}},
		Start:  r3.Vector{},
		End:    r3.Vector{X: 1},
	}
	err := Chain{near, far}.Validate(1e-6)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "overlap")
}

func TestTimeAllocations(t *testing.T) {
	ch := Chain{{Duration: 0.4}, {Duration: 0.4}, {Duration: 0.4}}
	test.That(t, ch.TimeAllocations(), test.ShouldResemble, []float64{0.4, 0.4, 0.4})
}
