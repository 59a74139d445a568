package props

import (
	"fmt"
	"strings"

	"github.com/andreyvit/propdb/value"
)

// SaveError reports a failed write with everything needed to diagnose it.
type SaveError struct {
	Key     EntityKey
	Mode    Mode
	Old     value.Map
	New     value.Map
	Diff    Diff
	Deletes []int64
	Inserts []Row
	Err     error
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

func (e *SaveError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "props: save %v (%v): %v", e.Key, e.Mode, e.Err)
	fmt.Fprintf(&buf, " [old=%d new=%d changes=%d deletes=%v inserts=%d]", len(e.Old), len(e.New), len(e.Diff), e.Deletes, len(e.Inserts))
	for _, d := range e.Diff {
		fmt.Fprintf(&buf, "\n  %s %s: %v -> %v", d.Op, d.Name, d.Old, d.New)
	}
	return buf.String()
}
