package propdb

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpRows

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var dumpSep = strings.Repeat("=", 80)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dumpable is implemented by every Table.
type Dumpable interface {
	Name() string
	Count(tx *Tx) int
	dumpRows(tx *Tx, w *strings.Builder)
}

// Dump renders the contents of the given tables for debugging.
func (tx *Tx) Dump(f DumpFlags, tables ...Dumpable) string {
	var buf strings.Builder
	for _, tbl := range tables {
		if f.Contains(DumpTableHeaders) {
			fmt.Fprintln(&buf, dumpSep)
			fmt.Fprintf(&buf, "%s (%d rows)\n", tbl.Name(), tbl.Count(tx))
		}
		if f.Contains(DumpRows) {
			tbl.dumpRows(tx, &buf)
		}
	}
	return buf.String()
}

func (t *Table[Row]) dumpRows(tx *Tx, w *strings.Builder) {
	var pos int
	for k, raw := range t.scanRaw(tx, nil) {
		pos++
		row := new(Row)
		if err := decodeRow(raw, row); err != nil {
			fmt.Fprintf(w, "%s.%d: %s = <%v>\n", t.name, pos, k, err)
			continue
		}
		fmt.Fprintf(w, "%s.%d: %s = %s\n", t.name, pos, k, loggableRow(t.suppressContent, row))
	}
}
