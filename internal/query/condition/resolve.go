package condition

import "fmt"

// IndexOf maps a field name to the id of the index that owns it.
type IndexOf func(field string) (string, error)

// ResolveIndex returns the single index every leaf of c belongs to. single
// is false when the leaves span more than one index (a mixed condition).
func ResolveIndex(c Condition, indexOf IndexOf) (index string, single bool, err error) {
	switch x := c.(type) {
	case nil:
		return "", false, fmt.Errorf("resolving index of empty condition")
	case *Comparison:
		idx, err := indexOf(x.Field)
		if err != nil {
			return "", false, err
		}
		return idx, true, nil
	case *Not:
		return ResolveIndex(x.Child, indexOf)
	case Set:
		members := x.Members()
		if len(members) == 0 {
			return "", false, fmt.Errorf("resolving index of empty %s", x.Connective())
		}
		first, single, err := ResolveIndex(members[0], indexOf)
		if err != nil {
			return "", false, err
		}
		for _, child := range members[1:] {
			idx, childSingle, err := ResolveIndex(child, indexOf)
			if err != nil {
				return "", false, err
			}
			if !childSingle || idx != first {
				single = false
			}
		}
		if !single {
			return "", false, nil
		}
		return first, true, nil
	}
	return "", false, fmt.Errorf("unknown condition type %T", c)
}

// Group is a run of sibling conditions that resolve to the same index.
// Single is false for the group collecting siblings that are themselves
// mixed; those members must be handled one by one.
type Group struct {
	Index   string
	Single  bool
	Members []Condition
}

// GroupByIndex partitions the immediate children of a set condition by the
// index each resolves to. Groups appear in the order their first member
// does; member order within a group is preserved.
func GroupByIndex(children []Condition, indexOf IndexOf) ([]Group, error) {
	var groups []Group
	position := make(map[string]int)
	mixed := -1
	for _, child := range children {
		idx, single, err := ResolveIndex(child, indexOf)
		if err != nil {
			return nil, err
		}
		if !single {
			if mixed < 0 {
				mixed = len(groups)
				groups = append(groups, Group{})
			}
			groups[mixed].Members = append(groups[mixed].Members, child)
			continue
		}
		pos, ok := position[idx]
		if !ok {
			pos = len(groups)
			position[idx] = pos
			groups = append(groups, Group{Index: idx, Single: true})
		}
		groups[pos].Members = append(groups[pos].Members, child)
	}
	return groups, nil
}
