// Package field holds the registry of searchable fields: which index owns
// each field, its data type, whether it can be sorted on and which operator
// applies when a query omits one.
//
// A Registry is populated once at startup and is read-only afterwards; it is
// safe for concurrent readers without locking.
package field

import (
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
)

// DataType is the value type of a field.
type DataType string

const (
	TypeText   DataType = "text"
	TypeString DataType = "string"
	TypeDate   DataType = "date"
	TypeNumber DataType = "number"
)

// Valid reports whether t is a known data type.
func (t DataType) Valid() bool {
	switch t {
	case TypeText, TypeString, TypeDate, TypeNumber:
		return true
	}
	return false
}

// DefaultOperator is the comparison applied to a field of type t when the
// query does not name one.
func (t DataType) DefaultOperator() string {
	if t == TypeText {
		return condition.OpContains
	}
	return condition.OpEqual
}

// Definition describes one field.
type Definition struct {
	Name     string
	Index    string
	Type     DataType
	Sortable bool
	Source   string
	Objects  []string
	Addable  bool
}

// DefaultOperator returns the operator used when none is given.
func (d Definition) DefaultOperator() string {
	return d.Type.DefaultOperator()
}

// Registry maps field names to their definitions.
type Registry struct {
	fields  map[string]Definition
	byIndex map[string][]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		fields:  make(map[string]Definition),
		byIndex: make(map[string][]string),
	}
}

// Register adds def. Registering a name twice is a configuration error.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return apperrors.NewConfigurationError(def.Index, "field without name in index")
	}
	if def.Index == "" {
		return apperrors.NewConfigurationError(def.Name, "field without index")
	}
	if def.Type == "" {
		def.Type = TypeString
	}
	if !def.Type.Valid() {
		return apperrors.NewConfigurationError(def.Name, fmt.Sprintf("unknown data type %q for field", def.Type))
	}
	if existing, dup := r.fields[def.Name]; dup {
		return apperrors.NewConfigurationError(def.Name,
			fmt.Sprintf("field already registered by index %s", existing.Index))
	}
	r.fields[def.Name] = def
	r.byIndex[def.Index] = append(r.byIndex[def.Index], def.Name)
	return nil
}

// Lookup returns the definition of name.
func (r *Registry) Lookup(name string) (Definition, error) {
	def, ok := r.fields[name]
	if !ok {
		return Definition{}, apperrors.NewConfigurationError(name, "unknown field")
	}
	return def, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.fields[name]
	return ok
}

// IndexOf returns the index owning name. Its signature matches
// condition.IndexOf.
func (r *Registry) IndexOf(name string) (string, error) {
	def, err := r.Lookup(name)
	if err != nil {
		return "", err
	}
	return def.Index, nil
}

// Fields returns the definitions owned by index in registration order.
func (r *Registry) Fields(index string) []Definition {
	names := r.byIndex[index]
	out := make([]Definition, 0, len(names))
	for _, name := range names {
		out = append(out, r.fields[name])
	}
	return out
}

// Indexes returns every index id with at least one field, sorted.
func (r *Registry) Indexes() []string {
	out := make([]string, 0, len(r.byIndex))
	for idx := range r.byIndex {
		out = append(out, idx)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered fields.
func (r *Registry) Len() int {
	return len(r.fields)
}
