/*
Copyright 2025 WillIsback

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package catalog

import (
	"sort"

	"github.com/gravitational/trace"
)

// NodeKind is the hierarchy level of a tree node.
type NodeKind int

const (
	// KindEnv is an environment node.
	KindEnv NodeKind = iota
	// KindRegion is a region node.
	KindRegion
	// KindType is a server type node.
	KindType
	// KindHost is a leaf host node.
	KindHost
)

// Node is one element of the selector tree. Selection state lives on the
// leaves; inner nodes derive theirs from their descendants.
type Node struct {
	// Kind is the hierarchy level.
	Kind NodeKind
	// Name is the node's own label.
	Name string
	// Path is the colon-joined path from the environment down to this
	// node; for leaves it equals the target's fully qualified name.
	Path string
	// Entry is set on leaves only.
	Entry *Entry
	// Children are sorted by name.
	Children []*Node
	// Expanded marks whether the node's children are visible.
	Expanded bool

	selected bool
}

// Tree is the UI-free model behind the hierarchical host selector: the
// front end renders Visible() and calls Toggle/SetExpanded on key events.
type Tree struct {
	// Roots are the environment nodes.
	Roots []*Node

	index map[string]*Node
}

// NewTree builds the selector tree for the catalog. When online is non-nil
// it is the set of reachable fully qualified names, and subtrees without a
// single online leaf are pruned.
func NewTree(c *Catalog, online map[string]bool) *Tree {
	t := &Tree{index: make(map[string]*Node)}
	for _, envName := range c.Environments() {
		envNode := &Node{Kind: KindEnv, Name: envName, Path: envName, Expanded: true}
		for _, regionName := range c.Regions(envName) {
			regionNode := &Node{
				Kind: KindRegion, Name: regionName,
				Path: envName + ":" + regionName, Expanded: true,
			}
			types := c.environments[envName][regionName]
			typeNames := make([]string, 0, len(types))
			for name := range types {
				typeNames = append(typeNames, name)
			}
			sort.Strings(typeNames)
			for _, typeName := range typeNames {
				typeNode := &Node{
					Kind: KindType, Name: typeName,
					Path: regionNode.Path + ":" + typeName, Expanded: true,
				}
				hosts := types[typeName]
				hostNames := make([]string, 0, len(hosts))
				for name := range hosts {
					hostNames = append(hostNames, name)
				}
				sort.Strings(hostNames)
				for _, hostName := range hostNames {
					path := FullName(envName, regionName, typeName, hostName)
					if online != nil && !online[path] {
						continue
					}
					entry := hosts[hostName]
					typeNode.Children = append(typeNode.Children, &Node{
						Kind: KindHost, Name: hostName, Path: path, Entry: &entry,
					})
				}
				if len(typeNode.Children) > 0 {
					regionNode.Children = append(regionNode.Children, typeNode)
				}
			}
			if len(regionNode.Children) > 0 {
				envNode.Children = append(envNode.Children, regionNode)
			}
		}
		if len(envNode.Children) > 0 {
			t.Roots = append(t.Roots, envNode)
		}
	}
	t.reindex()
	return t
}

func (t *Tree) reindex() {
	var walk func(*Node)
	walk = func(n *Node) {
		t.index[n.Path] = n
		for _, child := range n.Children {
			walk(child)
		}
	}
	for _, root := range t.Roots {
		walk(root)
	}
}

// Node looks a node up by path.
func (t *Tree) Node(path string) (*Node, error) {
	n, ok := t.index[path]
	if !ok {
		return nil, trace.NotFound("no tree node at %q", path)
	}
	return n, nil
}

// SetExpanded expands or collapses an inner node.
func (t *Tree) SetExpanded(path string, expanded bool) error {
	n, err := t.Node(path)
	if err != nil {
		return trace.Wrap(err)
	}
	if n.Kind == KindHost {
		return trace.BadParameter("cannot expand leaf node %q", path)
	}
	n.Expanded = expanded
	return nil
}

// Toggle flips the selection of the subtree rooted at path. Toggling an
// inner node selects every leaf below it when at least one is unselected,
// and clears them all otherwise.
func (t *Tree) Toggle(path string) error {
	n, err := t.Node(path)
	if err != nil {
		return trace.Wrap(err)
	}
	leaves := n.leaves()
	all := true
	for _, leaf := range leaves {
		if !leaf.selected {
			all = false
			break
		}
	}
	for _, leaf := range leaves {
		leaf.selected = !all
	}
	return nil
}

// ClearSelection unselects every leaf.
func (t *Tree) ClearSelection() {
	for _, root := range t.Roots {
		for _, leaf := range root.leaves() {
			leaf.selected = false
		}
	}
}

// IsSelected reports whether every leaf under the node is selected; for
// leaves that is their own state.
func (n *Node) IsSelected() bool {
	leaves := n.leaves()
	if len(leaves) == 0 {
		return false
	}
	for _, leaf := range leaves {
		if !leaf.selected {
			return false
		}
	}
	return true
}

// IsLeaf reports whether the node is a host.
func (n *Node) IsLeaf() bool { return n.Kind == KindHost }

func (n *Node) leaves() []*Node {
	if n.IsLeaf() {
		return []*Node{n}
	}
	var out []*Node
	for _, child := range n.Children {
		out = append(out, child.leaves()...)
	}
	return out
}

// Visible returns the nodes a renderer should draw, depth-first, stopping
// at collapsed nodes.
func (t *Tree) Visible() []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		out = append(out, n)
		if !n.Expanded {
			return
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	for _, root := range t.Roots {
		walk(root)
	}
	return out
}

// Selected returns the selected leaves as targets, in tree order.
func (t *Tree) Selected() []Target {
	var out []Target
	for _, root := range t.Roots {
		for _, leaf := range root.leaves() {
			if leaf.selected {
				out = append(out, Target{Name: leaf.Path, Entry: *leaf.Entry})
			}
		}
	}
	return out
}
