// Package keytree maintains a lazily loaded view over a hierarchy of dotted
// translation keys. Children of a folder are fetched from a collaborator on
// first expansion and cached; nothing is fetched up front.
//
// The hierarchy is held as a flat arena keyed by full path, with a separate
// parent-to-children index. Updating one node is a single map write; there is
// no ancestor rebuild.
package keytree

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Entry is one child listing as returned by the collaborator.
type Entry struct {
	FullPath   string `json:"full_path"`
	Segment    string `json:"segment"`
	IsFolder   bool   `json:"is_folder"`
	ChildCount int    `json:"child_count"`
}

// Loader supplies the direct children of a dotted path. An empty parentPath
// requests the top-level forest. A parent with no children yields an empty
// slice, not an error.
type Loader interface {
	LoadChildren(ctx context.Context, parentPath string) ([]Entry, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, parentPath string) ([]Entry, error)

// LoadChildren calls f.
func (f LoaderFunc) LoadChildren(ctx context.Context, parentPath string) ([]Entry, error) {
	return f(ctx, parentPath)
}

// Node is one segment of a dotted key. IsLoading and IsLoaded are mutually
// exclusive; both stay false for leaves, which never fetch.
type Node struct {
	FullPath   string
	Segment    string
	IsFolder   bool
	ChildCount int

	IsLoaded  bool
	IsLoading bool
	Expanded  bool // display state only
}

// Callbacks receive selection, create-under, and delete notifications. The
// tree performs no mutation itself; after an external create or delete
// succeeds the caller is responsible for refetching the affected parent.
// Any callback may be nil.
type Callbacks struct {
	OnSelect func(fullPath string)
	OnCreate func(parentPath string)
	OnDelete func(fullPath string)
}

var (
	// ErrClosed is returned by operations on a closed tree.
	ErrClosed = errors.New("keytree: closed")
	// ErrUnknownPath is returned when a path is not present in the tree.
	ErrUnknownPath = errors.New("keytree: unknown path")
)

// Tree is the lazily materialized key hierarchy. Node records returned by
// accessors are live: they reflect later state changes in place.
type Tree struct {
	loader Loader
	cb     Callbacks

	mu         sync.Mutex
	nodes      map[string]*Node    // full path -> record
	children   map[string][]string // parent path -> ordered child paths ("" = roots)
	generation uint64
	rootState  rootState
	closed     bool
}

type rootState int

const (
	rootUnloaded rootState = iota
	rootLoading
	rootLoaded
)

// New creates an empty tree over the given loader.
func New(loader Loader, cb Callbacks) *Tree {
	return &Tree{
		loader:   loader,
		cb:       cb,
		nodes:    make(map[string]*Node),
		children: make(map[string][]string),
	}
}

// Init fetches the top-level forest. It runs at most one root load per tree:
// repeated calls after a successful load (or while one is in flight) are
// no-ops. On failure the forest stays empty and the error is returned; there
// is no automatic retry, but Init may be called again.
func (t *Tree) Init(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.rootState != rootUnloaded {
		t.mu.Unlock()
		return nil
	}
	t.rootState = rootLoading
	t.mu.Unlock()

	entries, err := t.loader.LoadChildren(ctx, "")

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if err != nil {
		t.rootState = rootUnloaded
		return fmt.Errorf("load root: %w", err)
	}
	t.install("", entries)
	t.rootState = rootLoaded
	t.generation++
	return nil
}

// Initializing reports whether the root load is still in flight.
func (t *Tree) Initializing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootState == rootLoading
}

// Toggle expands or collapses the folder at fullPath. Toggling a leaf never
// touches load state; it only fires the select notification. A loaded folder
// flips its display flag with zero fetches. An unloaded folder fetches its
// children once; on failure it reverts to unloaded so the next toggle
// retries. Toggling a folder whose fetch is already in flight is a no-op.
func (t *Tree) Toggle(ctx context.Context, fullPath string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	node, ok := t.nodes[fullPath]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPath, fullPath)
	}
	if !node.IsFolder {
		t.mu.Unlock()
		if t.cb.OnSelect != nil {
			t.cb.OnSelect(fullPath)
		}
		return nil
	}
	if node.IsLoaded {
		node.Expanded = !node.Expanded
		t.generation++
		t.mu.Unlock()
		return nil
	}
	if node.IsLoading {
		t.mu.Unlock()
		return nil
	}
	node.IsLoading = true
	t.generation++
	t.mu.Unlock()

	entries, err := t.loader.LoadChildren(ctx, fullPath)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		// The component was torn down while the fetch was in flight;
		// discard the settlement instead of writing stale state.
		return ErrClosed
	}
	node, ok = t.nodes[fullPath]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPath, fullPath)
	}
	if err != nil {
		node.IsLoading = false
		t.generation++
		return fmt.Errorf("load children of %s: %w", fullPath, err)
	}
	t.install(fullPath, entries)
	node.IsLoading = false
	node.IsLoaded = true
	node.Expanded = true
	// The fetched list is authoritative; reconcile the advertised count.
	node.ChildCount = len(entries)
	t.generation++
	return nil
}

// install replaces the children of parentPath with fresh records in
// collaborator order. Any previously installed subtree under parentPath is
// dropped first.
func (t *Tree) install(parentPath string, entries []Entry) {
	for _, old := range t.children[parentPath] {
		t.drop(old)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		t.nodes[e.FullPath] = &Node{
			FullPath:   e.FullPath,
			Segment:    e.Segment,
			IsFolder:   e.IsFolder,
			ChildCount: e.ChildCount,
		}
		paths = append(paths, e.FullPath)
	}
	t.children[parentPath] = paths
}

// drop removes a node and its descendants from the arena.
func (t *Tree) drop(fullPath string) {
	for _, child := range t.children[fullPath] {
		t.drop(child)
	}
	delete(t.children, fullPath)
	delete(t.nodes, fullPath)
}

// Select notifies the caller that fullPath was selected. Tree state is not
// mutated.
func (t *Tree) Select(fullPath string) {
	if t.cb.OnSelect != nil {
		t.cb.OnSelect(fullPath)
	}
}

// RequestCreate notifies the caller that a key should be created under
// parentPath. The tree does not perform the mutation.
func (t *Tree) RequestCreate(parentPath string) {
	if t.cb.OnCreate != nil {
		t.cb.OnCreate(parentPath)
	}
}

// RequestDelete notifies the caller that fullPath should be deleted. The
// tree does not perform the mutation.
func (t *Tree) RequestDelete(fullPath string) {
	if t.cb.OnDelete != nil {
		t.cb.OnDelete(fullPath)
	}
}

// Roots returns the top-level forest in collaborator order.
func (t *Tree) Roots() []*Node {
	return t.ChildrenOf("")
}

// ChildrenOf returns the installed children of parentPath in collaborator
// order. It is empty until the parent has loaded.
func (t *Tree) ChildrenOf(parentPath string) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	paths := t.children[parentPath]
	out := make([]*Node, 0, len(paths))
	for _, p := range paths {
		out = append(out, t.nodes[p])
	}
	return out
}

// Node returns the record at fullPath, if present.
func (t *Tree) Node(fullPath string) (*Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[fullPath]
	return n, ok
}

// Len returns the number of materialized nodes.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

// Generation returns a counter that advances on every observable state
// change, for cheap change detection by a rendering layer.
func (t *Tree) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// Close tears the tree down. Fetches still in flight settle harmlessly:
// their results are discarded rather than written into the dead tree.
func (t *Tree) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}
