package value

import "fmt"

// NotInList is the ListIndex of a property that is not part of a collection.
const NotInList int32 = -1

// PropertyKey identifies one stored row of an entity: the prototype id and
// the position within an exploded collection.
type PropertyKey struct {
	PropertyID int64
	ListIndex  int32
}

func (k PropertyKey) InList() bool {
	return k.ListIndex >= 0
}

// Compare orders by PropertyID, then ListIndex.
func (k PropertyKey) Compare(o PropertyKey) int {
	switch {
	case k.PropertyID < o.PropertyID:
		return -1
	case k.PropertyID > o.PropertyID:
		return 1
	case k.ListIndex < o.ListIndex:
		return -1
	case k.ListIndex > o.ListIndex:
		return 1
	}
	return 0
}

func (k PropertyKey) String() string {
	if k.ListIndex == NotInList {
		return fmt.Sprintf("%d", k.PropertyID)
	}
	return fmt.Sprintf("%d[%d]", k.PropertyID, k.ListIndex)
}
