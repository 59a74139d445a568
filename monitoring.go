package propdb

import (
	"encoding/json"
)

type TableStats struct {
	Name string
	Rows int
}

// Stats reports basic statistics for the given tables.
func (tx *Tx) Stats(tables ...Dumpable) []TableStats {
	result := make([]TableStats, 0, len(tables))
	for _, tbl := range tables {
		result = append(result, TableStats{
			Name: tbl.Name(),
			Rows: tbl.Count(tx),
		})
	}
	return result
}

func loggableRow(suppress bool, row any) string {
	if row == nil {
		return "<none>"
	}
	if suppress {
		return "<suppressed>"
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return "<unencodable: " + err.Error() + ">"
	}
	return string(raw)
}
