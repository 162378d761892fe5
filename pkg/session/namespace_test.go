package session

import "testing"

func TestResolveName(t *testing.T) {
	cases := []struct {
		raw, origin, namespace, want string
	}{
		{"/", "/a/b", "/a", "/"},
		{"self", "/a/b", "/a", "/a/b"},
		{".", "/a/b", "/a/child", "/a"},
		{"self/x", "/a/b", "/a", "/a/b/x"},
		{"/porto/a/b", "/c", "/c", "/a/b"},
		{"x", "/a/b", "/a", "/a/x"},
	}
	for _, c := range cases {
		got := ResolveName(c.raw, c.origin, c.namespace)
		if got != c.want {
			t.Errorf("ResolveName(%q, %q, %q) = %q, want %q", c.raw, c.origin, c.namespace, got, c.want)
		}
	}
}

func TestValidateResolved(t *testing.T) {
	if !ValidateResolved("/", "/a/b", "/a") {
		t.Error("root must always validate")
	}
	if !ValidateResolved("/a/x", "/a/b", "/a") {
		t.Error("within namespace must validate")
	}
	if !ValidateResolved("/a/b/y", "/a/b", "/a/b") {
		t.Error("within origin subtree must validate")
	}
	if !ValidateResolved("/a", "/a/b", "/a/b") {
		t.Error("ancestor of origin must validate")
	}
	if ValidateResolved("/other", "/a/b", "/a") {
		t.Error("unrelated name must not validate")
	}
}
