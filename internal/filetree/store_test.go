package filetree

import (
	"encoding/json"
	"strings"
	"testing"

	"codesync/internal/models"
)

func TestNewSeededStoreHasMainJS(t *testing.T) {
	s := NewSeededStore()
	n, ok := s.Get("main.js")
	if !ok {
		t.Fatalf("expected main.js to be seeded")
	}
	if n.Type != models.NodeFile || !strings.Contains(n.Content, "Hello, world from CodeSync!") {
		t.Fatalf("unexpected seed node: %#v", n)
	}
	if s.Len() != 1 {
		t.Fatalf("expected exactly one node, got %d", s.Len())
	}
}

func TestCreateFileOverwrites(t *testing.T) {
	s := NewStore()
	s.CreateFile("a.py", "one")
	s.CreateFile("a.py", "two")
	n, _ := s.Get("a.py")
	if n.Content != "two" {
		t.Fatalf("expected overwrite, got %q", n.Content)
	}
}

func TestCreateFolderDefaults(t *testing.T) {
	s := NewStore()
	n := s.CreateFolder("src")
	if n.Type != models.NodeFolder || !n.Expanded || n.Children == nil || len(n.Children) != 0 {
		t.Fatalf("unexpected folder: %#v", n)
	}
}

func TestUpdateFileContentIgnoresMissingAndFolders(t *testing.T) {
	s := NewStore()
	if s.UpdateFileContent("nope.js", "x") {
		t.Fatalf("update of missing path should be a no-op")
	}
	if _, ok := s.Get("nope.js"); ok {
		t.Fatalf("update must not create a node")
	}
	s.CreateFolder("dir")
	if s.UpdateFileContent("dir", "x") {
		t.Fatalf("update of folder should be a no-op")
	}
	s.CreateFile("f.js", "")
	if !s.UpdateFileContent("f.js", "new") {
		t.Fatalf("expected update to succeed")
	}
	n, _ := s.Get("f.js")
	if n.Content != "new" {
		t.Fatalf("unexpected content %q", n.Content)
	}
}

func TestDeleteItemRemovesDescendantsOnly(t *testing.T) {
	s := NewStore()
	s.CreateFolder("a")
	s.CreateFile("a/b.js", "b")
	s.CreateFile("a/c/d.js", "d")
	s.CreateFile("ab.js", "sibling")

	if !s.DeleteItem("a") {
		t.Fatalf("expected delete to report removal")
	}
	for _, p := range []string{"a", "a/b.js", "a/c/d.js"} {
		if _, ok := s.Get(p); ok {
			t.Fatalf("expected %s to be deleted", p)
		}
	}
	if _, ok := s.Get("ab.js"); !ok {
		t.Fatalf("sibling ab.js must survive")
	}
}

func TestDeleteItemMissingPath(t *testing.T) {
	s := NewStore()
	s.CreateFile("x.js", "")
	if s.DeleteItem("y.js") {
		t.Fatalf("expected no removal")
	}
	if s.Len() != 1 {
		t.Fatalf("store changed: %d", s.Len())
	}
}

func TestCreateDeleteSequenceFollowsArrivalOrder(t *testing.T) {
	type op struct {
		create  bool
		content string
	}
	seqs := [][]op{
		{{create: true, content: "1"}, {create: false}},
		{{create: false}, {create: true, content: "2"}},
		{{create: true, content: "1"}, {create: true, content: "2"}, {create: false}, {create: true, content: "3"}},
	}
	for i, seq := range seqs {
		s := NewStore()
		var want *string
		for _, o := range seq {
			if o.create {
				s.CreateFile("p.js", o.content)
				c := o.content
				want = &c
			} else {
				s.DeleteItem("p.js")
				want = nil
			}
		}
		got, ok := s.Get("p.js")
		if want == nil && ok {
			t.Fatalf("seq %d: expected p.js absent, got %#v", i, got)
		}
		if want != nil && (!ok || got.Content != *want) {
			t.Fatalf("seq %d: expected content %q, got %#v (present=%v)", i, *want, got, ok)
		}
	}
}

func TestRenameItem(t *testing.T) {
	s := NewStore()
	s.CreateFile("a/old.js", "body")
	if !s.RenameItem("a/old.js", "a/new.js") {
		t.Fatalf("expected rename to succeed")
	}
	if _, ok := s.Get("a/old.js"); ok {
		t.Fatalf("old path still present")
	}
	n, ok := s.Get("a/new.js")
	if !ok {
		t.Fatalf("new path missing")
	}
	if n.Name != "new.js" || n.Content != "body" {
		t.Fatalf("unexpected renamed node: %#v", n)
	}
}

func TestRenameMissingIsNoop(t *testing.T) {
	s := NewStore()
	if s.RenameItem("ghost.js", "real.js") {
		t.Fatalf("expected no-op")
	}
	if s.Len() != 0 {
		t.Fatalf("store changed")
	}
}

func TestRenameFolderDoesNotRekeyDescendants(t *testing.T) {
	s := NewStore()
	s.CreateFolder("lib")
	s.CreateFile("lib/x.js", "x")
	s.RenameItem("lib", "pkg")
	if _, ok := s.Get("pkg"); !ok {
		t.Fatalf("folder not moved")
	}
	if _, ok := s.Get("lib/x.js"); !ok {
		t.Fatalf("descendant should keep its old key")
	}
	if _, ok := s.Get("pkg/x.js"); ok {
		t.Fatalf("descendant should not be rekeyed")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.CreateFile("a.js", "a")
	snap := s.Snapshot()
	n := snap["a.js"]
	n.Content = "mutated"
	snap["a.js"] = n
	delete(snap, "a.js")
	got, ok := s.Get("a.js")
	if !ok || got.Content != "a" {
		t.Fatalf("snapshot mutation leaked into store: %#v", got)
	}
}

func TestNodeJSONShapes(t *testing.T) {
	s := NewStore()
	file := s.CreateFile("f.js", "")
	folder := s.CreateFolder("d")

	b, err := json.Marshal(file)
	if err != nil {
		t.Fatalf("marshal file: %v", err)
	}
	var fm map[string]any
	_ = json.Unmarshal(b, &fm)
	if fm["type"] != "file" || fm["content"] != "" || fm["name"] != "f.js" {
		t.Fatalf("unexpected file json: %s", b)
	}
	if _, has := fm["children"]; has {
		t.Fatalf("file json should not carry children: %s", b)
	}

	b, err = json.Marshal(folder)
	if err != nil {
		t.Fatalf("marshal folder: %v", err)
	}
	var dm map[string]any
	_ = json.Unmarshal(b, &dm)
	if dm["type"] != "folder" || dm["expanded"] != true {
		t.Fatalf("unexpected folder json: %s", b)
	}
	if children, ok := dm["children"].(map[string]any); !ok || len(children) != 0 {
		t.Fatalf("expected empty children object: %s", b)
	}
}
