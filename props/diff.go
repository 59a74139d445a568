package props

import (
	"maps"
	"slices"

	"github.com/andreyvit/propdb/value"
)

// DiffOp classifies one property in a comparison of two maps.
type DiffOp int

const (
	Equal DiffOp = iota
	LeftOnly
	RightOnly
	NotEqual
)

func (op DiffOp) String() string {
	switch op {
	case Equal:
		return "equal"
	case LeftOnly:
		return "left_only"
	case RightOnly:
		return "right_only"
	case NotEqual:
		return "not_equal"
	}
	return "invalid"
}

type Difference struct {
	Name string
	Op   DiffOp
	Old  value.Value
	New  value.Value
}

// Diff lists the properties that differ between two maps, by name. Equal
// properties are never included.
type Diff []Difference

// Compare computes the differences from old to new.
func Compare(old, new value.Map) Diff {
	var d Diff
	for name, ov := range old {
		nv, ok := new[name]
		switch {
		case !ok:
			d = append(d, Difference{Name: name, Op: LeftOnly, Old: ov})
		case !ov.Equal(nv):
			d = append(d, Difference{Name: name, Op: NotEqual, Old: ov, New: nv})
		}
	}
	for name, nv := range new {
		if _, ok := old[name]; !ok {
			d = append(d, Difference{Name: name, Op: RightOnly, New: nv})
		}
	}
	slices.SortFunc(d, func(a, b Difference) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return d
}

func (d Diff) IsEmpty() bool {
	return len(d) == 0
}

// Deleted returns the names whose old rows must go: left-only and changed.
func (d Diff) Deleted() []string {
	var names []string
	for _, e := range d {
		if e.Op == LeftOnly || e.Op == NotEqual {
			names = append(names, e.Name)
		}
	}
	return names
}

// Inserted returns the names that need new rows: right-only and changed.
func (d Diff) Inserted() []string {
	var names []string
	for _, e := range d {
		if e.Op == RightOnly || e.Op == NotEqual {
			names = append(names, e.Name)
		}
	}
	return names
}

// Removed returns the old values of deleted properties.
func (d Diff) Removed() value.Map {
	m := value.Map{}
	for _, e := range d {
		if e.Op == LeftOnly || e.Op == NotEqual {
			m[e.Name] = e.Old
		}
	}
	return m
}

// Added returns the new values of inserted properties.
func (d Diff) Added() value.Map {
	m := value.Map{}
	for _, e := range d {
		if e.Op == RightOnly || e.Op == NotEqual {
			m[e.Name] = e.New
		}
	}
	return m
}

// Apply returns a copy of base with the differences applied.
func (d Diff) Apply(base value.Map) value.Map {
	m := maps.Clone(base)
	if m == nil {
		m = value.Map{}
	}
	for _, e := range d {
		if e.Op == LeftOnly {
			delete(m, e.Name)
		} else {
			m[e.Name] = e.New
		}
	}
	return m
}
