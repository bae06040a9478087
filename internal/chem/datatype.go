// Package chem defines the typed molecular data contract: concrete data
// types, the explicit type registry, and the retrieval service that turns
// (molecule, type, method, config) into provenance-tagged records.
package chem

import (
	"sort"
	"sync"

	"github.com/chem-gl/cadma-flow-api/internal/model"
)

// MethodUserInput is the retrieval method backed by explicit user-provided
// values. It is the only method the built-in QSAR types implement.
const MethodUserInput = "user_input"

// DataType is the contract every concrete molecular data type implements.
// A type owns one property, one native representation, and the set of
// retrieval methods that can produce it. Serialization is symmetric:
// Deserialize(Serialize(v)) must round-trip any value CheckValue accepts.
type DataType interface {
	// Name is the registry tag persisted on records and selections.
	Name() string
	// PropertyName is the chemical property this type carries, e.g. "logp".
	PropertyName() string
	// NativeType tags the native representation of serialized values.
	NativeType() model.NativeType
	// RetrievalMethods lists the methods this type accepts, in order of
	// preference.
	RetrievalMethods() []string
	// CheckValue validates a candidate value against the native type.
	CheckValue(v any) error
	// Serialize encodes a checked value into the record payload.
	Serialize(v any) (string, error)
	// Deserialize decodes a record payload back into the native value.
	Deserialize(payload string) (any, error)
}

// Registry maps type names to registered DataType implementations.
// Registration is explicit; resolving an unregistered name is an error,
// never a silent scan.
type Registry struct {
	mu    sync.RWMutex
	types map[string]DataType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: map[string]DataType{}}
}

// Register adds a data type. Re-registering a name replaces the previous
// implementation.
func (r *Registry) Register(dt DataType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[dt.Name()] = dt
}

// Resolve returns the data type registered under the given name.
func (r *Registry) Resolve(name string) (DataType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dt, ok := r.types[name]
	if !ok {
		return nil, &UnknownTypeError{TypeName: name}
	}
	return dt, nil
}

// Names returns all registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByProperty returns the names of types carrying the given property,
// sorted.
func (r *Registry) ByProperty(property string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := []string{}
	for name, dt := range r.types {
		if dt.PropertyName() == property {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with the built-in QSAR types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(LogPData{})
	r.Register(ToxicityData{})
	r.Register(AbsorptionData{})
	r.Register(MutagenicityData{})
	return r
}
