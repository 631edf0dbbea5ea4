// Package flame merges stack traces into weighted call trees.
package flame

import (
	"fmt"
	"time"

	"spyview/internal/stacktrace"
)

// RootName is the label of the synthetic root node
const RootName = "all"

// Options selects which traces are merged and how frames are labeled
type Options struct {
	IncludeLines  bool // label frames with their line number
	GroupByThread bool // add one subtree per thread under the root
	IncludeIdle   bool // keep traces of threads that were not running
	GILOnly       bool // keep only traces holding the GIL
}

// Keep reports whether a trace passes the filters
func (o Options) Keep(trace stacktrace.StackTrace) bool {
	if !o.IncludeIdle && !trace.Active {
		return false
	}
	if o.GILOnly && !trace.OwnsGIL {
		return false
	}
	return true
}

// Node is a call tree node. Each child is owned by exactly one parent.
type Node struct {
	Count    uint64
	Frame    stacktrace.Frame
	Children map[string]*Node
}

func newNode(frame stacktrace.Frame) *Node {
	return &Node{Frame: frame, Children: make(map[string]*Node)}
}

// child returns the child with the given label, creating it from frame on first use
func (n *Node) child(label string, frame stacktrace.Frame) *Node {
	c, ok := n.Children[label]
	if !ok {
		c = newNode(frame)
		n.Children[label] = c
	}
	return c
}

// insert merges one trace's frames below n, walking from the outermost
// caller to the innermost frame. n and every node on the path count the
// trace once.
func (n *Node) insert(frames []stacktrace.Frame, includeLines bool) {
	n.Count++
	cur := n
	for i := len(frames) - 1; i >= 0; i-- {
		frame := frames[i]
		cur = cur.child(Label(frame, includeLines), frame)
		cur.Count++
	}
}

// Label is the key under which a frame is merged with its siblings
func Label(frame stacktrace.Frame, includeLines bool) string {
	filename := frame.DisplayFilename()
	if includeLines && frame.Line > 0 {
		return fmt.Sprintf("%s (%s:%d)", frame.Name, filename, frame.Line)
	}
	return fmt.Sprintf("%s (%s)", frame.Name, filename)
}

// Aggregate merges traces into a single tree rooted at "all" and reports
// how long the merge took.
func Aggregate(traces []stacktrace.StackTrace, opts Options) (*Node, time.Duration) {
	start := time.Now()

	root := newNode(stacktrace.Frame{Name: RootName})
	for _, trace := range traces {
		if !opts.Keep(trace) {
			continue
		}

		if opts.GroupByThread {
			label := stacktrace.ThreadLabel(trace.ThreadID)
			root.Count++
			root.child(label, stacktrace.Frame{Name: label}).insert(trace.Frames, opts.IncludeLines)
		} else {
			root.insert(trace.Frames, opts.IncludeLines)
		}
	}

	return root, time.Since(start)
}

// Leaf reports whether the node has no children
func (n *Node) Leaf() bool {
	return len(n.Children) == 0
}

// Self returns the traces that terminated at this node
func (n *Node) Self() uint64 {
	var children uint64
	for _, c := range n.Children {
		children += c.Count
	}
	return n.Count - children
}

// Depth returns the length of the longest path below n, n included
func (n *Node) Depth() int {
	max := 0
	for _, c := range n.Children {
		if d := c.Depth(); d > max {
			max = d
		}
	}
	return max + 1
}
