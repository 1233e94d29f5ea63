package filetree

import (
	"sort"
	"strings"

	"codesync/internal/models"
)

// BuildTree projects a flat path-keyed mapping into a nested hierarchy keyed
// by path segment. Folders implied by a descendant path but missing from the
// mapping are synthesized. The input is not modified.
func BuildTree(flat map[string]models.Node) map[string]*models.Node {
	root := map[string]*models.Node{}

	paths := make([]string, 0, len(flat))
	for p := range flat {
		paths = append(paths, p)
	}
	// parents before children so explicit folder nodes win over synthesized ones
	sort.Slice(paths, func(i, j int) bool {
		di, dj := strings.Count(paths[i], "/"), strings.Count(paths[j], "/")
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})

	for _, p := range paths {
		segs := strings.Split(strings.Trim(p, "/"), "/")
		level := root
		for i, seg := range segs {
			last := i == len(segs)-1
			if last {
				src := flat[p]
				n := copyNode(&src)
				n.Name = seg
				if existing, ok := level[seg]; ok && existing.Type == models.NodeFolder && n.Type == models.NodeFolder {
					n.Children = existing.Children
				}
				if n.Type == models.NodeFolder && n.Children == nil {
					n.Children = map[string]*models.Node{}
				}
				level[seg] = &n
				continue
			}
			parent, ok := level[seg]
			if !ok || parent.Type != models.NodeFolder {
				parent = &models.Node{
					Name:     seg,
					Type:     models.NodeFolder,
					Children: map[string]*models.Node{},
					Expanded: true,
				}
				level[seg] = parent
			}
			if parent.Children == nil {
				parent.Children = map[string]*models.Node{}
			}
			level = parent.Children
		}
	}
	return root
}
