// Package registry implements the Property Registry: the declarative
// catalog of container properties, their kinds, validators, defaults
// and mutability rules described in spec.md §4.1.
package registry

import (
	"fmt"
	"sync"
)

// Kind is the wire/value kind of a property.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindUint
	KindList
	KindMap
)

// Flag is a bitset of the modifiers a property descriptor can carry.
type Flag uint8

const (
	// FlagHidden properties are not returned by List/enumeration.
	FlagHidden Flag = 1 << iota
	// FlagInherited properties fall back to the parent's resolved
	// value when unset, recursing to root.
	FlagInherited
	// FlagReadOnlyIfHasParent properties may only be set on a
	// non-root container by a privileged caller.
	FlagReadOnlyIfHasParent
	// FlagSuperuserOnly properties may only be set by a privileged
	// caller, regardless of hierarchy position.
	FlagSuperuserOnly
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Value is a typed property value. Exactly one field is meaningful,
// selected by Kind.
type Value struct {
	Kind Kind
	Str  string
	Bool bool
	Int  int64
	Uint uint64
	List []string
	Map  map[string]string
}

// String renders the value back to its canonical wire (string) form,
// used for SetProperty/GetProperty round-tripping.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindUint:
		return fmt.Sprintf("%d", v.Uint)
	case KindList:
		out := ""
		for i, item := range v.List {
			if i > 0 {
				out += ";"
			}
			out += item
		}
		return out
	case KindMap:
		out := ""
		first := true
		for k, val := range v.Map {
			if !first {
				out += ";"
			}
			first = false
			out += k + "=" + val
		}
		return out
	default:
		return v.Str
	}
}

// PropertyContainer is the minimal view the registry needs of a
// container in order to resolve defaults and inherited values without
// importing the container package (which in turn depends on registry).
type PropertyContainer interface {
	Name() string
	// Parent returns the container's parent and whether one exists;
	// root containers return (nil, false).
	Parent() (PropertyContainer, bool)
	// State returns the container's current state name, compared
	// against a Descriptor's MutableStates set.
	State() string
	// GetExplicit returns a property's explicitly-set value, without
	// walking the inheritance chain or consulting the default.
	GetExplicit(name string) (Value, bool)
}

// Validator parses and validates a raw wire string into a typed Value.
type Validator func(c PropertyContainer, raw string) (Value, error)

// DefaultProvider computes a property's value when nothing has been
// set explicitly and (if inherited) no ancestor has one either.
type DefaultProvider func(c PropertyContainer) Value

// SetterHook runs after a value has been validated and before it is
// stored, for properties with a side effect or an extra check. An error
// rejects the Set and nothing is stored.
type SetterHook func(c PropertyContainer, v Value) error

// Descriptor is one catalog entry.
type Descriptor struct {
	Name          string
	Description   string
	Kind          Kind
	Flags         Flag
	MutableStates map[string]struct{}
	Default       DefaultProvider
	Validate      Validator
	OnSet         SetterHook
}

// Mutable reports whether state is one of the states in which this
// property may be changed. A nil/empty set means "mutable in every
// state" (used by read-only data properties, which are never Set via
// this path anyway).
func (d *Descriptor) Mutable(state string) bool {
	if len(d.MutableStates) == 0 {
		return true
	}
	_, ok := d.MutableStates[state]
	return ok
}

// Registry is the process-wide catalog of known properties.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
}

// New returns an empty registry. Use Register or RegisterStandard (see
// properties.go) to populate the standard catalog.
func New() *Registry {
	return &Registry{descriptors: make(map[string]*Descriptor)}
}

// Register adds or replaces a descriptor.
func (r *Registry) Register(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[d.Name] = d
}

// Lookup finds a descriptor by property name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// Names returns every non-hidden property name, for List-style
// enumeration.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.descriptors))
	for name, d := range r.descriptors {
		if d.Flags.Has(FlagHidden) {
			continue
		}
		names = append(names, name)
	}
	return names
}

// MutableStates builds the set literal used by Descriptor.MutableStates.
func MutableStates(states ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(states))
	for _, s := range states {
		set[s] = struct{}{}
	}
	return set
}
