package runtime

import (
	"context"

	"github.com/randalmurphal/threadrelay/store"
	"github.com/randalmurphal/threadrelay/workspace"
)

// Store is the persistence the runtime needs. *store.Store implements it.
type Store interface {
	GetThread(ctx context.Context, id string) (*store.Thread, error)
	CreateThread(ctx context.Context, workspaceID, title, model string) (*store.Thread, error)
	UpdateThreadSession(ctx context.Context, threadID, sessionID, model string) error
	UpdateThreadModel(ctx context.Context, threadID, model string) error
	TouchThread(ctx context.Context, threadID string) error
	AppendMessage(ctx context.Context, m store.Message) (bool, error)
	ListMessages(ctx context.Context, threadID string) ([]store.Message, error)
	GetSetting(ctx context.Context, key string, dest any) (bool, error)
	SetSetting(ctx context.Context, key string, value any) error
}

// Workspaces resolves where a thread runs. *workspace.Resolver implements it.
type Workspaces interface {
	Resolve(ctx context.Context, thread *store.Thread) (*workspace.Location, error)
	SkillDirectories(root string) []string
}

var (
	_ Store      = (*store.Store)(nil)
	_ Workspaces = (*workspace.Resolver)(nil)
)
