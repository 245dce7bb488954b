package motionplan

import (
	"github.com/golang/geo/r3"
)

// Node is one kinodynamic state on a returned path: a reachable position and
// velocity at a fixed time offset from the search start.
type Node struct {
	Pos  r3.Vector
	Vel  r3.Vector
	Time float64
}

// State is a continuous start state for the search.
type State struct {
	Pos r3.Vector
	Vel r3.Vector
}

type nodeHandle int32

const nilHandle nodeHandle = -1

// searchNode lives in a per-search arena and is addressed by handle; the
// arena is released wholesale when the search returns, so failure paths leak
// nothing.
type searchNode struct {
	pos    r3.Vector
	vel    r3.Vector
	step   int
	g      float64
	f      float64
	parent nodeHandle
	closed bool
}

type nodeArena struct {
	nodes []searchNode
}

func newNodeArena(capHint int) *nodeArena {
	return &nodeArena{nodes: make([]searchNode, 0, capHint)}
}

func (a *nodeArena) alloc(n searchNode) nodeHandle {
	a.nodes = append(a.nodes, n)
	return nodeHandle(len(a.nodes) - 1)
}

func (a *nodeArena) at(h nodeHandle) *searchNode {
	return &a.nodes[h]
}

// extractPath walks parent handles back to the root and returns the states in
// start-to-end order.
func (a *nodeArena) extractPath(h nodeHandle, startTime, timeStep float64) []Node {
	var rev []nodeHandle
	for h != nilHandle {
		rev = append(rev, h)
		h = a.at(h).parent
	}
	path := make([]Node, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		n := a.at(rev[i])
		path = append(path, Node{
			Pos:  n.pos,
			Vel:  n.vel,
			Time: startTime + float64(n.step)*timeStep,
		})
	}
	return path
}

// openHeap is a min-heap of arena handles ordered by total cost f.
type openHeap struct {
	arena   *nodeArena
	handles []nodeHandle
}

func (h *openHeap) Len() int { return len(h.handles) }

func (h *openHeap) Less(i, j int) bool {
	return h.arena.at(h.handles[i]).f < h.arena.at(h.handles[j]).f
}

func (h *openHeap) Swap(i, j int) {
	h.handles[i], h.handles[j] = h.handles[j], h.handles[i]
}

func (h *openHeap) Push(x interface{}) {
	h.handles = append(h.handles, x.(nodeHandle))
}

func (h *openHeap) Pop() interface{} {
	old := h.handles
	n := len(old)
	x := old[n-1]
	h.handles = old[:n-1]
	return x
}
