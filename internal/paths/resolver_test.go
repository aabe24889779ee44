package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSplit(t *testing.T) {
	r := New(map[string]string{
		"notes":         "/data/notes",
		"notes-archive": "/data/archive",
	})

	tests := []struct {
		path     string
		wantRoot string
		wantRel  string
		wantOK   bool
	}{
		{"notes:plan.md", "/data/notes", "plan.md", true},
		{"notes:sub/plan.md", "/data/notes", "sub/plan.md", true},
		{"notes:", "/data/notes", "", true},
		{"notes-archive:2025.md", "/data/archive", "2025.md", true},
		{"plan.md", "", "", false},
		{"other:x.md", "", "", false},
	}
	for _, tt := range tests {
		root, rel, ok := r.Split(tt.path)
		if root != tt.wantRoot || rel != tt.wantRel || ok != tt.wantOK {
			t.Errorf("Split(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.path, root, rel, ok, tt.wantRoot, tt.wantRel, tt.wantOK)
		}
	}
}

func TestResolve(t *testing.T) {
	r := New(map[string]string{"notes": "/data/notes"})

	if got := r.Resolve("notes:plan.md"); got != filepath.Join("/data/notes", "plan.md") {
		t.Errorf("Resolve = %q", got)
	}
	if got := r.Resolve("notes:"); got != "/data/notes" {
		t.Errorf("Resolve bare prefix = %q", got)
	}
	if got := r.Resolve("plain.md"); got != "plain.md" {
		t.Errorf("Resolve unprefixed = %q", got)
	}
}

func TestNilResolver(t *testing.T) {
	var r *Resolver

	if _, _, ok := r.Split("notes:x"); ok {
		t.Error("nil resolver matched a prefix")
	}
	if got := r.Resolve("notes:x"); got != "notes:x" {
		t.Errorf("nil Resolve = %q", got)
	}
	if got := r.Prefixes(); got != nil {
		t.Errorf("nil Prefixes = %v", got)
	}
	if New(nil) != nil {
		t.Error("New(nil) should return nil")
	}
}

func TestPrefixes(t *testing.T) {
	r := New(map[string]string{"b": "/b", "a": "/a"})
	got := r.Prefixes()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Prefixes = %v", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	if got := ExpandHome("~/notes"); got != filepath.Join(home, "notes") {
		t.Errorf("ExpandHome(~/notes) = %q", got)
	}
	if got := ExpandHome("~"); got != home {
		t.Errorf("ExpandHome(~) = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandHome(/abs/path) = %q", got)
	}
	if got := ExpandHome("~user/x"); got != "~user/x" {
		t.Errorf("ExpandHome(~user/x) = %q", got)
	}
}
