package propdb

import "fmt"

type (
	// Change describes a single row write, delivered to Tx.OnChange.
	Change struct {
		Table string
		Op    Op
		Key   Key
	}

	Op int
)

const (
	OpNone   Op = 0
	OpPut    Op = 1
	OpDelete Op = 2
)

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}
