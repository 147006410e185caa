package workspace

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// SkillIndex caches skill listings per directory. Entries are dropped when
// the directory or one of its skill folders changes. Without a working
// watcher every call rescans.
type SkillIndex struct {
	log *zap.Logger

	mu      sync.Mutex
	cache   map[string][]Skill
	gen     map[string]uint64 // bumped on every change under a root
	watched map[string]bool
	watcher *fsnotify.Watcher

	done chan struct{}
	once sync.Once
}

// IndexOption configures a SkillIndex.
type IndexOption func(*SkillIndex)

// WithIndexLogger sets the logger.
func WithIndexLogger(l *zap.Logger) IndexOption {
	return func(x *SkillIndex) {
		if l != nil {
			x.log = l
		}
	}
}

// NewSkillIndex creates an index. Call Close to stop watching.
func NewSkillIndex(opts ...IndexOption) *SkillIndex {
	x := &SkillIndex{
		log:     zap.NewNop(),
		cache:   make(map[string][]Skill),
		gen:     make(map[string]uint64),
		watched: make(map[string]bool),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(x)
	}
	x.log = x.log.With(zap.String("component", "skill_index"))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		x.log.Warn("skill watcher unavailable, caching disabled", zap.Error(err))
		close(x.done)
		return x
	}
	x.watcher = watcher
	go x.watch()
	return x
}

// Skills returns the skills under dir, from cache when unchanged.
func (x *SkillIndex) Skills(dir string, scope Scope) ([]Skill, error) {
	if dir == "" {
		return nil, nil
	}
	dir = filepath.Clean(dir)

	x.mu.Lock()
	if cached, ok := x.cache[dir]; ok {
		x.mu.Unlock()
		return withScope(cached, scope), nil
	}
	watching := x.watcher != nil && dirExists(dir) && x.addWatch(dir)
	if watching {
		if _, ok := x.gen[dir]; !ok {
			x.gen[dir] = 0
		}
	}
	gen := x.gen[dir]
	x.mu.Unlock()

	skills, err := ListSkills(dir, scope)
	if err != nil {
		return nil, err
	}
	if !watching {
		return skills, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, s := range skills {
		x.addWatch(s.Path)
	}
	if x.gen[dir] == gen {
		x.cache[dir] = skills
	}
	return withScope(skills, scope), nil
}

// addWatch must be called with mu held.
func (x *SkillIndex) addWatch(path string) bool {
	if x.watched[path] {
		return true
	}
	if err := x.watcher.Add(path); err != nil {
		x.log.Debug("watch failed", zap.String("path", path), zap.Error(err))
		return false
	}
	x.watched[path] = true
	return true
}

func (x *SkillIndex) watch() {
	defer close(x.done)
	for {
		select {
		case ev, ok := <-x.watcher.Events:
			if !ok {
				return
			}
			x.invalidate(ev)
		case err, ok := <-x.watcher.Errors:
			if !ok {
				return
			}
			x.log.Debug("skill watcher error", zap.Error(err))
		}
	}
}

// invalidate drops the cache entry of the root owning path: the root
// itself, its parent (a skill folder) or its grandparent (a file inside a
// skill folder).
func (x *SkillIndex) invalidate(ev fsnotify.Event) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		// The kernel drops watches on removed paths.
		delete(x.watched, filepath.Clean(ev.Name))
	}
	for p, i := filepath.Clean(ev.Name), 0; i < 3; p, i = filepath.Dir(p), i+1 {
		if _, ok := x.gen[p]; ok {
			x.gen[p]++
			delete(x.cache, p)
			x.log.Debug("skill cache invalidated", zap.String("dir", p))
			return
		}
	}
}

// Close stops the watcher.
func (x *SkillIndex) Close() error {
	var err error
	x.once.Do(func() {
		if x.watcher != nil {
			err = x.watcher.Close()
		}
		<-x.done
	})
	return err
}

func withScope(skills []Skill, scope Scope) []Skill {
	out := make([]Skill, len(skills))
	copy(out, skills)
	for i := range out {
		out[i].Scope = scope
	}
	return out
}
