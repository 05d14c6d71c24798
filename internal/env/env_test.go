package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func toMap(pairs []string) map[string]string {
	m := make(map[string]string)
	for _, kv := range pairs {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func TestMergeLayering(t *testing.T) {
	e := New()
	e.base = Var{"PATH": "/usr/bin", "MAP": "TheIsland_WP"}
	e.Set("MAP", "Ragnarok_WP")
	e.SetPairs([]string{"CLUSTER=alpha", "=broken"})

	m := toMap(e.Merge([]string{"SESSION=${CLUSTER}-${MAP}", "PORT=7777"}))
	if m["PATH"] != "/usr/bin" {
		t.Fatalf("base var lost: %v", m)
	}
	if m["MAP"] != "Ragnarok_WP" {
		t.Fatalf("global override not applied: %v", m["MAP"])
	}
	if m["SESSION"] != "alpha-Ragnarok_WP" {
		t.Fatalf("expansion failed: %q", m["SESSION"])
	}
	if _, ok := m[""]; ok {
		t.Fatalf("empty key leaked")
	}
}

func TestMergeUnknownReferenceKept(t *testing.T) {
	e := New()
	e.base = Var{}
	m := toMap(e.Merge([]string{"A=${MISSING}/x"}))
	if m["A"] != "${MISSING}/x" {
		t.Fatalf("unexpected %q", m["A"])
	}
}

func TestMergeSorted(t *testing.T) {
	e := New()
	e.base = Var{"B": "2", "A": "1"}
	out := e.Merge(nil)
	if len(out) != 2 || out[0] != "A=1" || out[1] != "B=2" {
		t.Fatalf("unexpected order %v", out)
	}
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(p, []byte("A=1\n#comment\n\nB = two\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e := New()
	if err := e.LoadFile(p); err != nil {
		t.Fatalf("load: %v", err)
	}
	if e.Var["A"] != "1" || e.Var["B"] != "two" {
		t.Fatalf("unexpected vars %v", e.Var)
	}
	if err := e.LoadFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
