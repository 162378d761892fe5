package session

import (
	"path"
	"strings"
)

// ResolveName implements spec.md §4.4's small name-resolution
// language: a client-supplied relative name is resolved against the
// session's porto-namespace. origin is the session's origin container,
// namespace is the session's porto-namespace prefix.
func ResolveName(raw, origin, namespace string) string {
	var resolved string
	switch {
	case raw == "/":
		resolved = "/"
	case raw == "self":
		resolved = origin
	case raw == ".":
		resolved = parentOf(namespace)
	case strings.HasPrefix(raw, "self/"):
		resolved = joinName(origin, strings.TrimPrefix(raw, "self/"))
	case raw == "/porto" || strings.HasPrefix(raw, "/porto/"):
		resolved = "/" + strings.TrimPrefix(strings.TrimPrefix(raw, "/porto"), "/")
	default:
		resolved = joinName(namespace, raw)
	}
	return normalize(resolved)
}

// ValidateResolved reports whether resolved may be acted on by a
// session rooted at origin/namespace (spec.md §4.4): it must lie
// within the namespace, lie within the origin container's subtree, be
// an ancestor of the origin container, or be root.
func ValidateResolved(resolved, origin, namespace string) bool {
	return resolved == "/" ||
		isWithin(resolved, namespace) ||
		isWithin(resolved, origin) ||
		isWithin(origin, resolved)
}

// isWithin reports whether name is ancestor (or equal to ancestor).
func isWithin(name, ancestor string) bool {
	if ancestor == "/" {
		return true
	}
	return name == ancestor || strings.HasPrefix(name, ancestor+"/")
}

func parentOf(name string) string {
	if name == "/" {
		return "/"
	}
	idx := strings.LastIndex(name, "/")
	if idx <= 0 {
		return "/"
	}
	return name[:idx]
}

func joinName(base, suffix string) string {
	if suffix == "" {
		return base
	}
	if base == "/" {
		return "/" + suffix
	}
	return base + "/" + suffix
}

// normalize collapses "." and ".." segments the way path.Clean does,
// while keeping "/" as the canonical root spelling rather than path's
// empty string.
func normalize(name string) string {
	clean := path.Clean(name)
	if clean == "." || clean == "" {
		return "/"
	}
	return clean
}
