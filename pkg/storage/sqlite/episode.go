package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-jet/jet/v2/sqlite"
	"github.com/kasuboski/amnis/pkg/storage/sqlite/schema/gen/model"
	"github.com/kasuboski/amnis/pkg/storage/sqlite/schema/gen/table"
)

// ContainsEpisode reports whether the show/episode pair has been archived
func (s *SQLite) ContainsEpisode(ctx context.Context, showName string, episode int32) (bool, error) {
	stmt := table.Episode.
		SELECT(table.Episode.AllColumns).
		FROM(table.Episode).
		WHERE(
			table.Episode.ShowName.EQ(sqlite.String(showName)).
				AND(table.Episode.Episode.EQ(sqlite.Int32(episode))),
		).
		LIMIT(1)

	var result []*model.Episode
	err := stmt.QueryContext(ctx, s.db, &result)
	if err != nil {
		return false, fmt.Errorf("failed to look up episode: %w", err)
	}

	return len(result) > 0, nil
}

// AppendEpisode records an archived episode, ignoring pairs already present
func (s *SQLite) AppendEpisode(ctx context.Context, episode model.Episode) error {
	if strings.TrimSpace(episode.ShowName) == "" {
		return fmt.Errorf("episode is missing a show name")
	}
	if episode.CompletedAt.IsZero() {
		episode.CompletedAt = time.Now()
	}

	stmt := table.Episode.
		INSERT(table.Episode.MutableColumns).
		MODEL(episode).
		ON_CONFLICT(table.Episode.ShowName, table.Episode.Episode).
		DO_NOTHING()

	_, err := s.handleInsert(ctx, stmt)
	if err != nil {
		return fmt.Errorf("failed to append episode: %w", err)
	}

	return nil
}

// ListEpisodes lists archived episodes ordered by show then episode. An empty
// showName lists every show.
func (s *SQLite) ListEpisodes(ctx context.Context, showName string) ([]*model.Episode, error) {
	stmt := table.Episode.
		SELECT(table.Episode.AllColumns).
		FROM(table.Episode).
		ORDER_BY(table.Episode.ShowName.ASC(), table.Episode.Episode.ASC())

	if showName != "" {
		stmt = stmt.WHERE(table.Episode.ShowName.EQ(sqlite.String(showName)))
	}

	episodes := make([]*model.Episode, 0)
	err := stmt.QueryContext(ctx, s.db, &episodes)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}

	return episodes, nil
}
