package filetree

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"appforge/internal/domain"
)

// arenaNode is a FileNode under construction; children are arena indices.
type arenaNode struct {
	node     domain.FileNode
	children []int
}

type builder struct {
	nodes   []arenaNode
	folders map[string]int
}

func newBuilder() *builder {
	return &builder{
		nodes:   []arenaNode{{node: domain.FileNode{Type: domain.NodeFolder}}},
		folders: map[string]int{},
	}
}

func (b *builder) push(parent int, n domain.FileNode) int {
	b.nodes = append(b.nodes, arenaNode{node: n})
	idx := len(b.nodes) - 1
	b.nodes[parent].children = append(b.nodes[parent].children, idx)
	return idx
}

func (b *builder) add(f domain.CodeFile) {
	parts := strings.Split(f.Path, "/")
	parent := 0
	for i, part := range parts[:len(parts)-1] {
		folderPath := strings.Join(parts[:i+1], "/")
		idx, ok := b.folders[folderPath]
		if !ok {
			idx = b.push(parent, domain.FileNode{Name: part, Path: folderPath, Type: domain.NodeFolder})
			b.folders[folderPath] = idx
		}
		parent = idx
	}
	lang := f.Language
	if lang == "" {
		lang = Language(f.Path)
	}
	b.push(parent, domain.FileNode{
		Name:     parts[len(parts)-1],
		Path:     f.Path,
		Type:     domain.NodeFile,
		Size:     len(f.Content),
		Language: lang,
	})
}

// build materializes the arena. Children always sit at higher indices than
// their parent, so walking backwards finishes every subtree before it is used.
func (b *builder) build() []domain.FileNode {
	less := nameOrder()
	built := make([]domain.FileNode, len(b.nodes))
	for i := len(b.nodes) - 1; i >= 0; i-- {
		n := b.nodes[i].node
		kids := b.nodes[i].children
		if len(kids) > 0 {
			sort.SliceStable(kids, func(x, y int) bool {
				return less(built[kids[x]], built[kids[y]])
			})
			n.Children = make([]domain.FileNode, len(kids))
			for j, k := range kids {
				n.Children[j] = built[k]
			}
		}
		built[i] = n
	}
	if built[0].Children == nil {
		return []domain.FileNode{}
	}
	return built[0].Children
}

// nameOrder puts folders before files, then orders names with the root
// locale collation and falls back to byte order so distinct names never tie.
func nameOrder() func(a, b domain.FileNode) bool {
	col := collate.New(language.Und)
	return func(a, b domain.FileNode) bool {
		if a.Type != b.Type {
			return a.Type == domain.NodeFolder
		}
		if c := col.CompareString(a.Name, b.Name); c != 0 {
			return c < 0
		}
		return a.Name < b.Name
	}
}

// BuildTree turns a flat file list into a sorted tree. Paths are normalized
// first; unusable paths are skipped and repeated paths keep the last content
// at the first position. A non-empty filter keeps files whose path contains
// it, ignoring case, together with their ancestor folders.
func BuildTree(files []domain.CodeFile, filter string) []domain.FileNode {
	needle := strings.ToLower(filter)
	b := newBuilder()
	for _, f := range Dedupe(files) {
		if needle != "" && !strings.Contains(strings.ToLower(f.Path), needle) {
			continue
		}
		b.add(f)
	}
	return b.build()
}

// Find returns the node at path p.
func Find(nodes []domain.FileNode, p string) (domain.FileNode, bool) {
	level := nodes
	for {
		var next *domain.FileNode
		for i := range level {
			n := &level[i]
			if n.Path == p {
				return *n, true
			}
			if n.Type == domain.NodeFolder && strings.HasPrefix(p, n.Path+"/") {
				next = n
			}
		}
		if next == nil {
			return domain.FileNode{}, false
		}
		level = next.Children
	}
}

// Walk visits nodes depth first in tree order. Returning false from fn skips a folder's children.
func Walk(nodes []domain.FileNode, fn func(n domain.FileNode, depth int) bool) {
	type frame struct {
		nodes []domain.FileNode
		depth int
	}
	stack := []frame{{nodes: nodes}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if len(top.nodes) == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		n := top.nodes[0]
		top.nodes = top.nodes[1:]
		depth := top.depth
		if fn(n, depth) && len(n.Children) > 0 {
			stack = append(stack, frame{nodes: n.Children, depth: depth + 1})
		}
	}
}
