// Package filetree holds a room's shared file tree as a flat mapping from
// slash-delimited path to node.
//
// A Store is not safe for concurrent use; the session hub serializes access.
package filetree

import (
	"strings"
	"time"

	"codesync/internal/models"
)

const (
	DefaultFileName    = "main.js"
	DefaultFileContent = "// Welcome to CodeSync!\nconsole.log(\"Hello, world from CodeSync!\");"
)

type Store struct {
	nodes map[string]*models.Node
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{nodes: make(map[string]*models.Node), now: time.Now}
}

// NewSeededStore returns a store holding the default main.js file.
func NewSeededStore() *Store {
	s := NewStore()
	s.CreateFile(DefaultFileName, DefaultFileContent)
	return s
}

// CreateFile stores a file at path, replacing whatever was there.
func (s *Store) CreateFile(path, content string) models.Node {
	n := &models.Node{
		Name:      path,
		Type:      models.NodeFile,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.nodes[path] = n
	return *n
}

func (s *Store) CreateFolder(path string) models.Node {
	n := &models.Node{
		Name:      path,
		Type:      models.NodeFolder,
		Children:  map[string]*models.Node{},
		Expanded:  true,
		CreatedAt: s.now(),
	}
	s.nodes[path] = n
	return copyNode(n)
}

// UpdateFileContent reports whether path named a file.
func (s *Store) UpdateFileContent(path, content string) bool {
	n, ok := s.nodes[path]
	if !ok || n.Type != models.NodeFile {
		return false
	}
	n.Content = content
	return true
}

// DeleteItem removes path and every path below it. "a" removes "a/b.js"
// but never "ab.js".
func (s *Store) DeleteItem(path string) bool {
	_, removed := s.nodes[path]
	delete(s.nodes, path)
	prefix := path + "/"
	for key := range s.nodes {
		if strings.HasPrefix(key, prefix) {
			delete(s.nodes, key)
			removed = true
		}
	}
	return removed
}

// RenameItem moves the node at oldPath to newPath and renames it to the new
// basename. Descendants of a renamed folder keep their old keys.
func (s *Store) RenameItem(oldPath, newPath string) bool {
	n, ok := s.nodes[oldPath]
	if !ok {
		return false
	}
	moved := copyNode(n)
	moved.Name = baseName(newPath)
	delete(s.nodes, oldPath)
	s.nodes[newPath] = &moved
	return true
}

func (s *Store) Get(path string) (models.Node, bool) {
	n, ok := s.nodes[path]
	if !ok {
		return models.Node{}, false
	}
	return copyNode(n), true
}

func (s *Store) Len() int { return len(s.nodes) }

// Snapshot returns a deep copy of the flat mapping.
func (s *Store) Snapshot() map[string]models.Node {
	out := make(map[string]models.Node, len(s.nodes))
	for k, n := range s.nodes {
		out[k] = copyNode(n)
	}
	return out
}

func baseName(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func copyNode(n *models.Node) models.Node {
	out := *n
	if n.Children != nil {
		out.Children = make(map[string]*models.Node, len(n.Children))
		for k, c := range n.Children {
			cc := copyNode(c)
			out.Children[k] = &cc
		}
	}
	return out
}
