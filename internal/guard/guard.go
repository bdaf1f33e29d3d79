// Package guard rejects resolution trees whose depth or estimated cost exceeds
// configured limits, before any storage is touched.
//
// The estimate of a node is its unit cost multiplied by the arity upper bound
// of every ancestor: a list of 20 orders each listing 10 items makes every
// item field count 200 times. The total is the sum over all nodes.
package guard

import (
	"fmt"
	"math"

	"github.com/hanpama/graphload/internal/fault"
)

// NodeID identifies a node of a Tree. The zero value is the virtual root.
type NodeID int

const Root NodeID = 0

type Node struct {
	ID    NodeID
	Field string
	// Cost is the unit cost of resolving the field once.
	Cost int
	// Arity is the upper bound of records the field yields per parent;
	// values below 1 count as 1.
	Arity    int
	Children []NodeID
}

// Tree is a resolution tree stored as a node-id graph. Edges added with Link
// may point back at an ancestor; Check reports such cycles.
type Tree struct {
	nodes []Node
}

func NewTree() *Tree {
	return &Tree{nodes: []Node{{ID: Root}}}
}

// Add creates a child of parent and returns its id.
func (t *Tree) Add(parent NodeID, field string, cost, arity int) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, Node{ID: id, Field: field, Cost: cost, Arity: arity})
	if int(parent) < len(t.nodes) {
		t.nodes[parent].Children = append(t.nodes[parent].Children, id)
	}
	return id
}

// Link adds an edge between two existing nodes.
func (t *Tree) Link(parent, child NodeID) error {
	if !t.has(parent) || !t.has(child) || child == Root {
		return fmt.Errorf("guard: cannot link %d -> %d", parent, child)
	}
	t.nodes[parent].Children = append(t.nodes[parent].Children, child)
	return nil
}

func (t *Tree) Node(id NodeID) (Node, bool) {
	if !t.has(id) {
		return Node{}, false
	}
	return t.nodes[id], true
}

func (t *Tree) Len() int { return len(t.nodes) - 1 }

func (t *Tree) has(id NodeID) bool { return id >= 0 && int(id) < len(t.nodes) }

// Limits are the per-request bounds. A zero limit disables that check.
type Limits struct {
	MaxDepth int
	MaxCost  int
	// MaxSelections bounds the fields a document may select once its
	// fragments are inlined.
	MaxSelections int
}

// Report is the measured size of a tree.
type Report struct {
	Cost  int
	Depth int
}

// Check walks t and returns its report, or a fault.ErrQueryTooExpensive error
// as soon as a limit is exceeded. Root fields are at depth 1.
func Check(t *Tree, lim Limits) (Report, error) {
	if lim.MaxSelections > 0 && t.Len() > lim.MaxSelections {
		return Report{}, fault.TooExpensive("%d selections exceed limit %d", t.Len(), lim.MaxSelections)
	}
	w := walker{t: t, lim: lim, onPath: make(map[NodeID]bool)}
	for _, c := range t.nodes[Root].Children {
		if err := w.visit(c, 1, 1); err != nil {
			return w.rep, err
		}
	}
	return w.rep, nil
}

type walker struct {
	t      *Tree
	lim    Limits
	rep    Report
	onPath map[NodeID]bool
}

func (w *walker) visit(id NodeID, depth, mult int) error {
	if w.onPath[id] {
		return fault.TooExpensive("cyclic resolution at field %q", w.t.nodes[id].Field)
	}
	n := w.t.nodes[id]
	if depth > w.rep.Depth {
		w.rep.Depth = depth
	}
	if w.lim.MaxDepth > 0 && depth > w.lim.MaxDepth {
		return fault.TooExpensive("depth %d exceeds limit %d at field %q", depth, w.lim.MaxDepth, n.Field)
	}
	w.rep.Cost = addSat(w.rep.Cost, mulSat(max(n.Cost, 0), mult))
	if w.lim.MaxCost > 0 && w.rep.Cost > w.lim.MaxCost {
		return fault.TooExpensive("cost exceeds limit %d at field %q", w.lim.MaxCost, n.Field)
	}
	if len(n.Children) == 0 {
		return nil
	}
	w.onPath[id] = true
	defer delete(w.onPath, id)
	next := mulSat(mult, max(n.Arity, 1))
	for _, c := range n.Children {
		if err := w.visit(c, depth+1, next); err != nil {
			return err
		}
	}
	return nil
}

func addSat(a, b int) int {
	if a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}

func mulSat(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt/b {
		return math.MaxInt
	}
	return a * b
}
