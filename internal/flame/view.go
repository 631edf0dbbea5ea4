package flame

import (
	"fmt"
	"sort"

	"spyview/internal/stacktrace"
)

// View is the transmission form of a Node, as consumed by the flame graph UI
type View struct {
	Frame    stacktrace.Frame `json:"frame"`
	Name     string           `json:"name"`
	Value    uint64           `json:"value"`
	Children []View           `json:"children"`
}

// NewView converts a tree into its transmission form. Children are
// ordered by label so responses are stable.
func NewView(n *Node, includeLines bool) View {
	v := View{
		Frame:    n.Frame,
		Name:     displayName(n.Frame, includeLines),
		Value:    n.Count,
		Children: make([]View, 0, len(n.Children)),
	}

	labels := make([]string, 0, len(n.Children))
	for label := range n.Children {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		v.Children = append(v.Children, NewView(n.Children[label], includeLines))
	}
	return v
}

// displayName differs from Label for synthetic frames: no empty "()" suffix
func displayName(frame stacktrace.Frame, includeLines bool) string {
	filename := frame.DisplayFilename()
	switch {
	case includeLines && frame.Line > 0:
		return fmt.Sprintf("%s (%s:%d)", frame.Name, filename, frame.Line)
	case filename != "":
		return fmt.Sprintf("%s (%s)", frame.Name, filename)
	default:
		return frame.Name
	}
}
