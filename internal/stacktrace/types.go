package stacktrace

import "fmt"

// Frame is a single level of a captured call stack
type Frame struct {
	Name          string  `json:"name"`
	Filename      string  `json:"filename"`
	ShortFilename *string `json:"short_filename"`
	Module        *string `json:"module"`
	Line          int     `json:"line"`
}

// StackTrace is one sampled snapshot of one thread at one instant.
// Frames are stored innermost first; the outermost caller is last.
type StackTrace struct {
	ThreadID uint64  `json:"thread_id"`
	Frames   []Frame `json:"frames"`
	Active   bool    `json:"active"`
	OwnsGIL  bool    `json:"owns_gil"`
}

// Batch is a set of traces captured together at one elapsed time
type Batch struct {
	Traces    []StackTrace
	ElapsedMS uint64
}

// DisplayFilename returns the short filename when known, otherwise the full filename
func (f Frame) DisplayFilename() string {
	if f.ShortFilename != nil {
		return *f.ShortFilename
	}
	return f.Filename
}

// ModuleName returns the module the frame belongs to, or "" if unknown
func (f Frame) ModuleName() string {
	if f.Module != nil {
		return *f.Module
	}
	return ""
}

// String formats the frame the way a stack dump prints it
func (f Frame) String() string {
	if f.Line > 0 {
		return fmt.Sprintf("%s (%s:%d)", f.Name, f.DisplayFilename(), f.Line)
	}
	return fmt.Sprintf("%s (%s)", f.Name, f.DisplayFilename())
}

// ThreadLabel is the display name used for a thread id
func ThreadLabel(threadID uint64) string {
	return fmt.Sprintf("thread 0x%x", threadID)
}

// Status describes whether the thread was running when sampled
func (t StackTrace) Status() string {
	if !t.Active {
		return "idle"
	}
	if t.OwnsGIL {
		return "active+gil"
	}
	return "active"
}

// StrPtr is a helper for building frames with optional fields
func StrPtr(s string) *string {
	return &s
}
