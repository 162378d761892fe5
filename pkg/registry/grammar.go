package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// Ulimit is one parsed entry of the `ulimit` grammar:
// `name:soft hard[;name:soft hard]*`, where `unlim` denotes infinity.
type Ulimit struct {
	Name string
	Soft uint64
	Hard uint64
	// SoftInf/HardInf are true when the corresponding bound was
	// written as `unlim`.
	SoftInf bool
	HardInf bool
}

var ulimitNames = MutableStates(
	"as", "core", "cpu", "data", "fsize", "locks", "memlock", "msgqueue",
	"nice", "nofile", "nproc", "rss", "rtprio", "rttime", "sigpending",
	"stack",
)

// ParseUlimit parses the full `ulimit` property grammar.
func ParseUlimit(raw string) ([]Ulimit, error) {
	if raw == "" {
		return nil, nil
	}
	var out []Ulimit
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		nameRest := strings.SplitN(entry, ":", 2)
		if len(nameRest) != 2 {
			return nil, fmt.Errorf("ulimit entry %q missing ':'", entry)
		}
		name := strings.TrimSpace(nameRest[0])
		if _, ok := ulimitNames[name]; !ok {
			return nil, fmt.Errorf("unknown ulimit name %q", name)
		}
		fields := strings.Fields(nameRest[1])
		if len(fields) != 2 {
			return nil, fmt.Errorf("ulimit entry %q must have soft and hard bounds", entry)
		}
		u := Ulimit{Name: name}
		if fields[0] == "unlim" {
			u.SoftInf = true
		} else {
			v, err := strconv.ParseUint(fields[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("ulimit %q: invalid soft bound: %w", name, err)
			}
			u.Soft = v
		}
		if fields[1] == "unlim" {
			u.HardInf = true
		} else {
			v, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("ulimit %q: invalid hard bound: %w", name, err)
			}
			u.Hard = v
		}
		if !u.SoftInf && !u.HardInf && u.Soft > u.Hard {
			return nil, fmt.Errorf("ulimit %q: soft bound exceeds hard bound", name)
		}
		out = append(out, u)
	}
	return out, nil
}

// Bind is one parsed entry of the `bind` grammar:
// `src dst[ ro|rw][;...]`.
type Bind struct {
	Source      string
	Destination string
	ReadOnly    bool
}

// ParseBind parses the full `bind` property grammar. It does not stat
// the source filesystem path, and neither does Start: a missing source
// makes the bind mount in the container-init stage (init.go) fail after
// fork, and the child exits.
func ParseBind(raw string) ([]Bind, error) {
	if raw == "" {
		return nil, nil
	}
	var out []Bind
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Fields(entry)
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("bind entry %q must be 'src dst [ro|rw]'", entry)
		}
		b := Bind{Source: fields[0], Destination: fields[1]}
		if len(fields) == 3 {
			switch fields[2] {
			case "ro":
				b.ReadOnly = true
			case "rw":
				b.ReadOnly = false
			default:
				return nil, fmt.Errorf("bind entry %q: mode must be 'ro' or 'rw'", entry)
			}
		}
		out = append(out, b)
	}
	return out, nil
}

// NetMode is the kind of a single `net` grammar entry.
type NetMode string

const (
	NetNone    NetMode = "none"
	NetHost    NetMode = "host"
	NetMacvlan NetMode = "macvlan"
)

// NetEntry is one parsed entry of the `net` grammar.
type NetEntry struct {
	Mode      NetMode
	Iface     string // host [iface]
	Master    string // macvlan master name [...]
	Name      string
	VlanMode  string // bridge|private|vepa|passthru
	Hw        string
}

// ParseNet parses the full `net` property grammar:
// `none` | `host [iface]` | `macvlan master name [mode [hw]]`, combined
// with `;`. `none` is exclusive of any other entry.
func ParseNet(raw string) ([]NetEntry, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "none" {
		return []NetEntry{{Mode: NetNone}}, nil
	}
	var out []NetEntry
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Fields(entry)
		switch fields[0] {
		case "none":
			if len(out) > 0 || len(strings.Split(raw, ";")) > 1 {
				return nil, fmt.Errorf("'none' must not be combined with other net entries")
			}
			return []NetEntry{{Mode: NetNone}}, nil
		case "host":
			e := NetEntry{Mode: NetHost}
			if len(fields) >= 2 {
				e.Iface = fields[1]
			}
			out = append(out, e)
		case "macvlan":
			if len(fields) < 3 || fields[1] != "master" {
				return nil, fmt.Errorf("macvlan entry %q must be 'macvlan master <name> [mode [hw]]'", entry)
			}
			e := NetEntry{Mode: NetMacvlan, Master: fields[1], Name: fields[2]}
			if len(fields) >= 4 {
				e.VlanMode = fields[3]
			}
			if len(fields) >= 5 {
				e.Hw = fields[4]
			}
			out = append(out, e)
		default:
			return nil, fmt.Errorf("unknown net entry %q", entry)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty net value")
	}
	return out, nil
}
