// Package snapshot captures opaque handles to workspace state so the
// processor can expose rollback points across a model step without
// owning the diff mechanism.
//
// A snapshot is a content manifest (path to blob hash) of the git
// worktree: the HEAD tree plus any modified or untracked files, with
// ignored files excluded. Handles are content-addressed, so identical
// workspace states share a handle.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ChangeKind classifies one entry of a diff.
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Modified ChangeKind = "modified"
	Deleted  ChangeKind = "deleted"
)

// Change is one file-level difference between two snapshots.
type Change struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
}

// Manager creates snapshots of one workspace and diffs them. Manifests
// are held in memory keyed by handle; handles are only meaningful within
// the Manager that produced them.
type Manager struct {
	dir string

	mu        sync.Mutex
	manifests map[string]map[string]string
}

// NewManager creates a manager for the workspace rooted at dir. The
// directory must be inside a git repository.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir, manifests: map[string]map[string]string{}}
}

// Create captures the current workspace state and returns its handle.
func (m *Manager) Create(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	repo, err := git.PlainOpen(m.dir)
	if err != nil {
		return "", fmt.Errorf("open repository %s: %w", m.dir, err)
	}

	manifest := map[string]string{}

	// Tracked state as of HEAD. A repository with no commits yet has no
	// HEAD tree; the worktree status below covers everything then.
	if head, err := repo.Head(); err == nil {
		commit, err := repo.CommitObject(head.Hash())
		if err != nil {
			return "", fmt.Errorf("resolve HEAD commit: %w", err)
		}
		tree, err := commit.Tree()
		if err != nil {
			return "", fmt.Errorf("resolve HEAD tree: %w", err)
		}
		err = tree.Files().ForEach(func(f *object.File) error {
			manifest[f.Name] = f.Hash.String()
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("walk HEAD tree: %w", err)
		}
	}

	// Overlay uncommitted changes. Status excludes ignored files.
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("worktree status: %w", err)
	}
	for path, st := range status {
		if st.Worktree == git.Deleted || (st.Staging == git.Deleted && st.Worktree == git.Unmodified) {
			delete(manifest, path)
			continue
		}
		content, err := os.ReadFile(filepath.Join(wt.Filesystem.Root(), path))
		if err != nil {
			// Races with concurrent file removal are not fatal.
			delete(manifest, path)
			continue
		}
		manifest[path] = plumbing.ComputeHash(plumbing.BlobObject, content).String()
	}

	handle := manifestHandle(manifest)
	m.mu.Lock()
	m.manifests[handle] = manifest
	m.mu.Unlock()
	return handle, nil
}

// Diff returns the file-level changes between two snapshot handles,
// sorted by path.
func (m *Manager) Diff(ctx context.Context, from, to string) ([]Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	before, okFrom := m.manifests[from]
	after, okTo := m.manifests[to]
	m.mu.Unlock()
	if !okFrom {
		return nil, fmt.Errorf("unknown snapshot %q", from)
	}
	if !okTo {
		return nil, fmt.Errorf("unknown snapshot %q", to)
	}

	var changes []Change
	for path, hash := range after {
		prev, existed := before[path]
		switch {
		case !existed:
			changes = append(changes, Change{Path: path, Kind: Added})
		case prev != hash:
			changes = append(changes, Change{Path: path, Kind: Modified})
		}
	}
	for path := range before {
		if _, exists := after[path]; !exists {
			changes = append(changes, Change{Path: path, Kind: Deleted})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

func manifestHandle(manifest map[string]string) string {
	paths := make([]string, 0, len(manifest))
	for path := range manifest {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, path := range paths {
		b.WriteString(path)
		b.WriteByte(' ')
		b.WriteString(manifest[path])
		b.WriteByte('\n')
	}
	return plumbing.ComputeHash(plumbing.BlobObject, []byte(b.String())).String()
}
