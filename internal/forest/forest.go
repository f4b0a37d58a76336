// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package forest holds the hierarchical data containers the console fronts:
// a tree of branches carrying nests of eggs. Branches are addressed by slash
// paths rooted at the tree name.
package forest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBranchNotFound indicates a path that resolves to no branch.
	ErrBranchNotFound = errors.New("branch not found")
	// ErrBranchExists indicates a create colliding with an existing branch.
	ErrBranchExists = errors.New("branch already exists")
	// ErrInvalidMove indicates a move that would orphan or cycle the tree.
	ErrInvalidMove = errors.New("invalid branch move")
)

// =============================================================================
// CONTAINERS
// =============================================================================

// Egg is a leaf payload stored in a nest.
type Egg struct {
	Name    string
	Payload string
}

// Nest is a container of eggs. Restricted marks a nest whose reads require a
// permission check at the console layer.
type Nest struct {
	Name       string
	Owner      string
	Restricted bool
	Eggs       []Egg
}

// Branch is one node of the tree. Children and nests are owned by the branch.
type Branch struct {
	Name         string
	Owner        string
	CreationDate string
	parent       *Branch
	children     []*Branch
	nests        []*Nest
}

// Path returns the branch's full slash path from the root.
func (b *Branch) Path() string {
	if b.parent == nil {
		return "/" + b.Name
	}
	return b.parent.Path() + "/" + b.Name
}

// Children returns a snapshot of the child branches.
func (b *Branch) Children() []*Branch {
	return append([]*Branch(nil), b.children...)
}

// Nests returns a snapshot of the branch's nests.
func (b *Branch) Nests() []*Nest {
	return append([]*Nest(nil), b.nests...)
}

func (b *Branch) child(name string) *Branch {
	for _, c := range b.children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// =============================================================================
// TREE
// =============================================================================

// Tree owns a root branch and an index of full paths for O(1) lookup.
type Tree struct {
	mu    sync.RWMutex
	Name  string
	Owner string
	root  *Branch
	index map[string]*Branch
}

// NewTree creates a tree with a root branch named after the tree.
func NewTree(name, owner string) *Tree {
	root := &Branch{
		Name:         name,
		Owner:        owner,
		CreationDate: time.Now().Format(time.RFC3339),
	}
	t := &Tree{
		Name:  name,
		Owner: owner,
		root:  root,
		index: map[string]*Branch{root.Path(): root},
	}
	return t
}

// BranchByPath resolves a slash path. "/" resolves to the root.
func (t *Tree) BranchByPath(path string) *Branch {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.branchByPathLocked(path)
}

func (t *Tree) branchByPathLocked(path string) *Branch {
	if path == "/" || path == "" {
		return t.root
	}
	return t.index[strings.TrimRight(path, "/")]
}

// CreateBranch adds a branch under parentPath.
func (t *Tree) CreateBranch(name, parentPath, owner string) (*Branch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent := t.branchByPathLocked(parentPath)
	if parent == nil {
		return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, parentPath)
	}
	if parent.child(name) != nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrBranchExists, parent.Path(), name)
	}

	b := &Branch{
		Name:         name,
		Owner:        owner,
		CreationDate: time.Now().Format(time.RFC3339),
		parent:       parent,
	}
	parent.children = append(parent.children, b)
	t.index[b.Path()] = b
	return b, nil
}

// MoveBranch reparents the branch at path under newParentPath, reindexing the
// whole moved subtree. The root cannot move, and a branch cannot move under
// its own subtree.
func (t *Tree) MoveBranch(path, newParentPath string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.branchByPathLocked(path)
	if b == nil {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, path)
	}
	if b.parent == nil {
		return fmt.Errorf("%w: cannot move the root branch", ErrInvalidMove)
	}

	newParent := t.branchByPathLocked(newParentPath)
	if newParent == nil {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, newParentPath)
	}
	for p := newParent; p != nil; p = p.parent {
		if p == b {
			return fmt.Errorf("%w: cannot move a branch under its own subtree", ErrInvalidMove)
		}
	}
	if newParent.child(b.Name) != nil {
		return fmt.Errorf("%w: %s/%s", ErrBranchExists, newParent.Path(), b.Name)
	}

	t.unindexSubtree(b)

	old := b.parent
	for i, c := range old.children {
		if c == b {
			old.children = append(old.children[:i], old.children[i+1:]...)
			break
		}
	}
	b.parent = newParent
	newParent.children = append(newParent.children, b)

	t.indexSubtree(b)
	return nil
}

func (t *Tree) unindexSubtree(b *Branch) {
	delete(t.index, b.Path())
	for _, c := range b.children {
		t.unindexSubtree(c)
	}
}

func (t *Tree) indexSubtree(b *Branch) {
	t.index[b.Path()] = b
	for _, c := range b.children {
		t.indexSubtree(c)
	}
}

// AddNest attaches a nest to the branch at branchPath.
func (t *Tree) AddNest(branchPath string, nest *Nest) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.branchByPathLocked(branchPath)
	if b == nil {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, branchPath)
	}
	b.nests = append(b.nests, nest)
	return nil
}

// FindNest searches the whole tree for a nest by name.
func (t *Tree) FindNest(name string) *Nest {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var walk func(b *Branch) *Nest
	walk = func(b *Branch) *Nest {
		for _, n := range b.nests {
			if n.Name == name {
				return n
			}
		}
		for _, c := range b.children {
			if n := walk(c); n != nil {
				return n
			}
		}
		return nil
	}
	return walk(t.root)
}
