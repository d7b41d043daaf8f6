package storage

import (
	"context"
	"errors"

	"github.com/kasuboski/amnis/pkg/storage/sqlite/schema/gen/model"
)

var ErrNotFound = errors.New("not found in storage")

// Storage is the persistent state of the fetcher.
type Storage interface {
	RunMigrations(ctx context.Context) error
	Close() error
	EpisodeStorage
}

// EpisodeStorage is the download ledger. Rows are only ever appended; the
// pair (show name, episode) being present is what marks an episode archived.
type EpisodeStorage interface {
	ContainsEpisode(ctx context.Context, showName string, episode int32) (bool, error)
	// AppendEpisode records an archived episode. Appending a pair that is
	// already recorded is not an error and leaves the existing row alone.
	AppendEpisode(ctx context.Context, episode model.Episode) error
	// ListEpisodes lists recorded episodes, optionally for one show only.
	ListEpisodes(ctx context.Context, showName string) ([]*model.Episode, error)
}
