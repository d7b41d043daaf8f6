package manager

import (
	"slices"
	"strings"

	"github.com/kasuboski/amnis/pkg/cache"
)

// Registry holds the sessions that currently own a filename. At most one
// session per filename is ever registered.
type Registry struct {
	sessions *cache.Cache[string, *Session]
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: cache.New[string, *Session](),
	}
}

// Claim registers s for its filename. It returns false, leaving the registry
// untouched, when another session already owns that filename.
func (r *Registry) Claim(s *Session) bool {
	_, stored := r.sessions.Add(s.Filename, s)
	return stored
}

// Release frees the filename if s still owns it.
func (r *Registry) Release(s *Session) {
	r.sessions.DeleteFunc(s.Filename, func(current *Session) bool {
		return current == s
	})
}

func (r *Registry) Active(filename string) bool {
	_, ok := r.sessions.Get(filename)
	return ok
}

// Filenames is a snapshot of every filename with a live session.
func (r *Registry) Filenames() map[string]struct{} {
	names := make(map[string]struct{})
	for _, f := range r.sessions.Keys() {
		names[f] = struct{}{}
	}
	return names
}

// Sessions returns a snapshot of the live sessions ordered by start time.
func (r *Registry) Sessions() []SessionView {
	sessions := r.sessions.Values()
	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View())
	}

	slices.SortFunc(views, func(a, b SessionView) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Filename, b.Filename)
	})

	return views
}

func (r *Registry) Len() int {
	return r.sessions.Size()
}
