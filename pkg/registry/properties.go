package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/portod/pkg/portoerr"
)

// Container states, mirrored here (rather than imported from
// pkg/container) to keep the registry free of a cyclic dependency on
// the package that depends on it. pkg/container's State.String() values
// match these constants exactly.
const (
	StateStopped  = "Stopped"
	StateStarting = "Starting"
	StateRunning  = "Running"
	StatePaused   = "Paused"
	StateMeta     = "Meta"
	StateDead     = "Dead"
)

var stoppedOnly = MutableStates(StateStopped)
var anyButRunning = MutableStates(StateStopped, StateStarting, StateDead, StateMeta)
var always = MutableStates() // empty => mutable in every state, used for rarely-restricted knobs

func stringValidator(c PropertyContainer, raw string) (Value, error) {
	return Value{Kind: KindString, Str: raw}, nil
}

func boolValidator(c PropertyContainer, raw string) (Value, error) {
	switch strings.ToLower(raw) {
	case "true", "1":
		return Value{Kind: KindBool, Bool: true}, nil
	case "false", "0", "":
		return Value{Kind: KindBool, Bool: false}, nil
	default:
		return Value{}, fmt.Errorf("invalid boolean %q", raw)
	}
}

func intValidator(min, max int64) Validator {
	return func(c PropertyContainer, raw string) (Value, error) {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid integer %q: %w", raw, err)
		}
		if v < min || v > max {
			return Value{}, fmt.Errorf("value %d out of range [%d,%d]", v, min, max)
		}
		return Value{Kind: KindInt, Int: v}, nil
	}
}

func uintValidator(c PropertyContainer, raw string) (Value, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("invalid unsigned integer %q: %w", raw, err)
	}
	return Value{Kind: KindUint, Uint: v}, nil
}

func enumValidator(choices ...string) Validator {
	return func(c PropertyContainer, raw string) (Value, error) {
		for _, choice := range choices {
			if raw == choice {
				return Value{Kind: KindString, Str: raw}, nil
			}
		}
		return Value{}, fmt.Errorf("value %q must be one of %v", raw, choices)
	}
}

func listValidator(c PropertyContainer, raw string) (Value, error) {
	if raw == "" {
		return Value{Kind: KindList}, nil
	}
	return Value{Kind: KindList, List: strings.Split(raw, ";")}, nil
}

func zeroString(PropertyContainer) Value  { return Value{Kind: KindString} }
func zeroBool(PropertyContainer) Value    { return Value{Kind: KindBool} }
func zeroInt(i int64) DefaultProvider {
	return func(PropertyContainer) Value { return Value{Kind: KindInt, Int: i} }
}
func zeroUint(u uint64) DefaultProvider {
	return func(PropertyContainer) Value { return Value{Kind: KindUint, Uint: u} }
}

// RegisterStandard populates reg with the full §6 container property
// catalog: the mutable properties plus the hidden/read-only data
// fields.
func RegisterStandard(reg *Registry) {
	reg.Register(&Descriptor{
		Name: "command", Kind: KindString, Flags: 0,
		MutableStates: stoppedOnly, Default: zeroString, Validate: stringValidator,
		Description: "command line to exec on Start",
	})
	reg.Register(&Descriptor{
		Name: "user", Kind: KindString, Flags: FlagInherited,
		MutableStates: stoppedOnly, Default: zeroString, Validate: stringValidator,
	})
	reg.Register(&Descriptor{
		Name: "group", Kind: KindString, Flags: FlagInherited,
		MutableStates: stoppedOnly, Default: zeroString, Validate: stringValidator,
	})
	reg.Register(&Descriptor{
		Name: "env", Kind: KindList, Flags: FlagInherited,
		MutableStates: stoppedOnly, Default: func(PropertyContainer) Value { return Value{Kind: KindList} },
		Validate: listValidator,
	})
	reg.Register(&Descriptor{
		Name: "root", Kind: KindString, Flags: FlagReadOnlyIfHasParent,
		MutableStates: stoppedOnly, Default: zeroString, Validate: stringValidator,
		Description: "chroot/pivot_root target",
	})
	reg.Register(&Descriptor{
		Name: "cwd", Kind: KindString, Flags: 0,
		MutableStates: stoppedOnly, Default: func(PropertyContainer) Value { return Value{Kind: KindString, Str: "/"} },
		Validate: stringValidator,
	})
	reg.Register(&Descriptor{
		Name: "stdin_path", Kind: KindString, Flags: 0,
		MutableStates: stoppedOnly, Default: func(PropertyContainer) Value { return Value{Kind: KindString, Str: "/dev/null"} },
		Validate: stringValidator,
	})
	reg.Register(&Descriptor{
		Name: "stdout_path", Kind: KindString, Flags: 0,
		MutableStates: stoppedOnly, Default: zeroString, Validate: stringValidator,
	})
	reg.Register(&Descriptor{
		Name: "stderr_path", Kind: KindString, Flags: 0,
		MutableStates: stoppedOnly, Default: zeroString, Validate: stringValidator,
	})
	reg.Register(&Descriptor{
		Name: "stdout_limit", Kind: KindUint, Flags: FlagInherited,
		MutableStates: stoppedOnly, Default: zeroUint(8 * 1024 * 1024), Validate: uintValidator,
	})
	reg.Register(&Descriptor{
		Name: "memory_guarantee", Kind: KindUint, Flags: FlagInherited,
		MutableStates: anyButRunning, Default: zeroUint(0), Validate: uintValidator,
		Description: "hierarchical: parent >= sum(children)",
	})
	reg.Register(&Descriptor{
		Name: "memory_limit", Kind: KindUint, Flags: FlagInherited,
		MutableStates: anyButRunning, Default: zeroUint(0), Validate: uintValidator,
		Description: "hierarchical: children <= parent",
	})
	reg.Register(&Descriptor{
		Name: "recharge_on_pgfault", Kind: KindBool, Flags: FlagInherited,
		MutableStates: anyButRunning, Default: zeroBool, Validate: boolValidator,
	})
	reg.Register(&Descriptor{
		Name: "cpu_policy", Kind: KindString, Flags: FlagInherited,
		MutableStates: anyButRunning,
		Default:       func(PropertyContainer) Value { return Value{Kind: KindString, Str: "normal"} },
		Validate:      enumValidator("normal", "rt", "idle"),
		OnSet: func(c PropertyContainer, v Value) error {
			if v.Str == "idle" {
				return portoerr.New(portoerr.NotSupported, "cpu_policy %q is not supported", v.Str)
			}
			return nil
		},
	})
	reg.Register(&Descriptor{
		Name: "cpu_priority", Kind: KindInt, Flags: FlagInherited,
		MutableStates: anyButRunning, Default: zeroInt(50), Validate: intValidator(0, 99),
	})
	reg.Register(&Descriptor{
		Name: "net_guarantee", Kind: KindUint, Flags: FlagInherited,
		MutableStates: anyButRunning, Default: zeroUint(0), Validate: uintValidator,
	})
	reg.Register(&Descriptor{
		Name: "net_ceil", Kind: KindUint, Flags: FlagInherited,
		MutableStates: anyButRunning, Default: zeroUint(0), Validate: uintValidator,
	})
	reg.Register(&Descriptor{
		Name: "net_priority", Kind: KindInt, Flags: FlagInherited,
		MutableStates: anyButRunning, Default: zeroInt(3), Validate: intValidator(0, 7),
	})
	reg.Register(&Descriptor{
		Name: "respawn", Kind: KindBool, Flags: 0,
		MutableStates: always, Default: zeroBool, Validate: boolValidator,
	})
	reg.Register(&Descriptor{
		Name: "max_respawns", Kind: KindInt, Flags: 0,
		MutableStates: always, Default: zeroInt(-1), Validate: intValidator(-1, 1<<30),
		Description: "-1 means unlimited",
	})
	reg.Register(&Descriptor{
		Name: "isolate", Kind: KindBool, Flags: FlagReadOnlyIfHasParent,
		MutableStates: stoppedOnly, Default: func(PropertyContainer) Value { return Value{Kind: KindBool, Bool: false} },
		Validate: boolValidator,
	})
	reg.Register(&Descriptor{
		Name: "private", Kind: KindString, Flags: 0,
		MutableStates: always, Default: zeroString, Validate: stringValidator,
		Description: "free-form metadata, opaque to the daemon",
	})
	reg.Register(&Descriptor{
		Name: "ulimit", Kind: KindString, Flags: FlagInherited,
		MutableStates: stoppedOnly, Default: zeroString,
		Validate: func(c PropertyContainer, raw string) (Value, error) {
			if _, err := ParseUlimit(raw); err != nil {
				return Value{}, err
			}
			return Value{Kind: KindString, Str: raw}, nil
		},
	})
	reg.Register(&Descriptor{
		Name: "hostname", Kind: KindString, Flags: FlagReadOnlyIfHasParent,
		MutableStates: stoppedOnly, Default: zeroString, Validate: stringValidator,
	})
	reg.Register(&Descriptor{
		Name: "bind_dns", Kind: KindBool, Flags: FlagInherited,
		MutableStates: stoppedOnly, Default: func(PropertyContainer) Value { return Value{Kind: KindBool, Bool: true} },
		Validate: boolValidator,
	})
	reg.Register(&Descriptor{
		Name: "bind", Kind: KindString, Flags: 0,
		MutableStates: stoppedOnly, Default: zeroString,
		Validate: func(c PropertyContainer, raw string) (Value, error) {
			if _, err := ParseBind(raw); err != nil {
				return Value{}, err
			}
			return Value{Kind: KindString, Str: raw}, nil
		},
	})
	reg.Register(&Descriptor{
		Name: "net", Kind: KindString, Flags: FlagReadOnlyIfHasParent,
		MutableStates: stoppedOnly,
		Default:       func(PropertyContainer) Value { return Value{Kind: KindString, Str: "host"} },
		Validate: func(c PropertyContainer, raw string) (Value, error) {
			if _, err := ParseNet(raw); err != nil {
				return Value{}, err
			}
			return Value{Kind: KindString, Str: raw}, nil
		},
		// "none"/"host" only: macvlan needs a host veth/macvlan link
		// created via netlink, which this daemon does not do.
		OnSet: func(c PropertyContainer, v Value) error {
			entries, err := ParseNet(v.Str)
			if err != nil {
				return portoerr.Wrap(portoerr.InvalidValue, err, "property %q", "net")
			}
			for _, e := range entries {
				if e.Mode == NetMacvlan {
					return portoerr.New(portoerr.NotSupported, "net mode %q requires host veth/macvlan link setup this daemon does not perform", e.Mode)
				}
			}
			return nil
		},
	})
	reg.Register(&Descriptor{
		Name: "allowed_devices", Kind: KindList, Flags: FlagInherited | FlagSuperuserOnly,
		MutableStates: stoppedOnly, Default: func(PropertyContainer) Value { return Value{Kind: KindList} },
		Validate: listValidator,
		// cgroup v2 has no devices.allow file; per-device access
		// control there needs an attached eBPF program, which this
		// daemon does not build. Rather than accept the property and
		// silently never enforce it, any non-empty list is rejected
		// at Set time.
		OnSet: func(c PropertyContainer, v Value) error {
			if len(v.List) > 0 {
				return portoerr.New(portoerr.NotSupported, "allowed_devices: cgroup v2 device filtering is not implemented")
			}
			return nil
		},
	})

	// Hidden, read-only derived data. These never go through Set; the
	// registry still carries them so GetProperty/GetData share one
	// lookup path and so List-style enumeration can skip them via
	// FlagHidden.
	for _, data := range []struct {
		name string
		kind Kind
	}{
		{"uid", KindUint}, {"gid", KindUint}, {"id", KindUint},
		{"root_pid", KindInt}, {"state", KindString}, {"exit_status", KindInt},
		{"stdout", KindString}, {"stderr", KindString},
		{"cpu_usage", KindUint}, {"memory_usage", KindUint},
	} {
		d := data
		reg.Register(&Descriptor{
			Name: d.name, Kind: d.kind, Flags: FlagHidden,
			MutableStates: nil, // never mutable via SetProperty
			Default:       func(PropertyContainer) Value { return Value{Kind: d.kind} },
			Validate: func(c PropertyContainer, raw string) (Value, error) {
				return Value{}, fmt.Errorf("property %q is read-only", d.name)
			},
		})
	}
}
