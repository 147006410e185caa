package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/randalmurphal/threadrelay/fault"
	"github.com/randalmurphal/threadrelay/relaycontract"
	"github.com/randalmurphal/threadrelay/store"
)

// Store is the subset of storage the resolver reads.
type Store interface {
	GetWorkspace(ctx context.Context, id string) (*store.Workspace, error)
	UpsertWorkspace(ctx context.Context, name, rootPath string) (*store.Workspace, error)
}

// Location is a resolved workspace.
type Location struct {
	Workspace store.Workspace
	// Available is false when the root path no longer exists on disk.
	Available bool
}

// Resolver maps threads to workspaces.
type Resolver struct {
	store     Store
	globalDir string
	index     *SkillIndex
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHomeDir sets the home directory the global skill directory lives in.
func WithHomeDir(home string) Option {
	return func(r *Resolver) {
		if home != "" {
			r.globalDir = filepath.Join(home, relaycontract.DirGlobalSkills)
		}
	}
}

// WithSkillIndex sets the index used by Skills.
func WithSkillIndex(idx *SkillIndex) Option {
	return func(r *Resolver) { r.index = idx }
}

// NewResolver creates a resolver over st.
func NewResolver(st Store, opts ...Option) *Resolver {
	r := &Resolver{store: st}
	if home, err := os.UserHomeDir(); err == nil {
		r.globalDir = filepath.Join(home, relaycontract.DirGlobalSkills)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers folderPath as a workspace. The folder must exist.
func (r *Resolver) Add(ctx context.Context, folderPath string) (*store.Workspace, error) {
	abs, err := filepath.Abs(folderPath)
	if err != nil {
		return nil, fmt.Errorf("resolve folder: %w", err)
	}
	if !dirExists(abs) {
		return nil, fault.Validation("add workspace", fmt.Errorf("%w: folder does not exist: %s", fault.ErrWorkspaceUnavailable, abs))
	}
	return r.store.UpsertWorkspace(ctx, filepath.Base(abs), abs)
}

// Resolve returns the workspace of thread and whether its folder exists.
func (r *Resolver) Resolve(ctx context.Context, thread *store.Thread) (*Location, error) {
	ws, err := r.store.GetWorkspace(ctx, thread.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return &Location{Workspace: *ws, Available: dirExists(ws.RootPath)}, nil
}

// SkillDirectories returns the existing skill directories for a workspace
// rooted at root: the global one first, then the workspace-local one.
func (r *Resolver) SkillDirectories(root string) []string {
	candidates := []string{r.globalDir}
	if root != "" {
		candidates = append(candidates, filepath.Join(root, relaycontract.DirRepoSkills))
	}

	seen := make(map[string]bool, len(candidates))
	var dirs []string
	for _, dir := range candidates {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		if dirExists(dir) {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// Skills lists global skills plus, when the workspace is available, the
// workspace-local ones, sorted by name.
func (r *Resolver) Skills(ctx context.Context, workspaceID string) ([]Skill, error) {
	idx := r.index
	if idx == nil {
		idx = NewSkillIndex()
		defer idx.Close()
	}

	skills, err := idx.Skills(r.globalDir, ScopeGlobal)
	if err != nil {
		return nil, err
	}

	if workspaceID != "" {
		ws, err := r.store.GetWorkspace(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		if dirExists(ws.RootPath) {
			local, err := idx.Skills(filepath.Join(ws.RootPath, relaycontract.DirRepoSkills), ScopeWorkspace)
			if err != nil {
				return nil, err
			}
			skills = append(skills, local...)
		}
	}
	sortSkills(skills)
	return skills, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
