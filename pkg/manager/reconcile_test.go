package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/kasuboski/amnis/pkg/batch"
	"github.com/kasuboski/amnis/pkg/catalog"
	"github.com/kasuboski/amnis/pkg/metadata"
	"github.com/kasuboski/amnis/pkg/show"
	"github.com/kasuboski/amnis/pkg/storage/sqlite/schema/gen/model"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func offer(index int, filename string) catalog.Offer {
	meta, parsed := metadata.Parse(filename)
	return catalog.Offer{
		Index:    index,
		Filename: filename,
		Source:   testSource,
		Meta:     meta,
		Parsed:   parsed,
	}
}

func filenames(plan Plan) []string {
	names := make([]string, 0, len(plan.Queue))
	for _, e := range plan.Queue {
		names = append(names, e.Offer.Filename)
	}
	return names
}

func baseInput(t *testing.T, offers ...catalog.Offer) ReconcileInput {
	return ReconcileInput{
		Offers:        offers,
		Policies:      []show.Policy{literalPolicy(t, "Foo", 3)},
		Incomplete:    map[string]struct{}{},
		Active:        map[string]struct{}{},
		Archived:      func(string, int) bool { return false },
		ArchiveExists: func(string) bool { return false },
		CompleteDir:   testComplete,
		IncompleteDir: testIncomplete,
		AutoArchive:   true,
	}
}

func TestReconcile(t *testing.T) {
	foo5 := "[Sub] Foo - 05 [720p].mkv"
	foo2 := "[Sub] Foo - 02 [720p].mkv"
	foo6hd := "[Sub] Foo - 06 [1080p].mkv"
	bar1 := "[Sub] Bar - 01 [720p].mkv"

	t.Run("new episode is queued", func(t *testing.T) {
		plan := Reconcile(baseInput(t, offer(10, foo5)))
		require.Len(t, plan.Queue, 1)
		assert.Equal(t, "Foo", plan.Queue[0].Policy.DisplayName)

		requests := plan.Requests()
		require.Len(t, requests, 1)
		assert.Equal(t, testSource, requests[0].Source)
		assert.Equal(t, "xdcc batch 10", requests[0].Message())
	})

	t.Run("empty catalog requests nothing", func(t *testing.T) {
		plan := Reconcile(baseInput(t))
		assert.Empty(t, plan.Queue)
		assert.Empty(t, plan.Stale)
		assert.Empty(t, plan.Requests())
	})

	t.Run("unparseable names are skipped", func(t *testing.T) {
		plan := Reconcile(baseInput(t, offer(1, "Foo readme.txt"), offer(2, "[Sub] Foo - 05 [360p].mkv")))
		assert.Empty(t, plan.Queue)
	})

	t.Run("decisions use the metadata parsed from the listing", func(t *testing.T) {
		unparsed := offer(1, foo5)
		unparsed.Parsed = false
		assert.Empty(t, Reconcile(baseInput(t, unparsed)).Queue)

		early := offer(2, foo5)
		early.Meta.Episode = 2
		assert.Empty(t, Reconcile(baseInput(t, early)).Queue)
	})

	t.Run("names with path components are skipped", func(t *testing.T) {
		escaping := offer(1, foo5)
		escaping.Filename = "../../" + foo5
		in := baseInput(t, escaping)
		in.Incomplete[escaping.Filename] = struct{}{}

		plan := Reconcile(in)
		assert.Empty(t, plan.Queue)
		assert.Empty(t, plan.Stale)
	})

	t.Run("shows without a policy are skipped", func(t *testing.T) {
		plan := Reconcile(baseInput(t, offer(1, bar1)))
		assert.Empty(t, plan.Queue)
	})

	t.Run("episodes before the start are skipped", func(t *testing.T) {
		plan := Reconcile(baseInput(t, offer(1, foo2), offer(2, foo5)))
		assert.Equal(t, []string{foo5}, filenames(plan))
	})

	t.Run("archived episodes are skipped", func(t *testing.T) {
		in := baseInput(t, offer(1, foo5))
		in.Archived = func(showName string, episode int) bool {
			return showName == "Foo" && episode == 5
		}
		assert.Empty(t, Reconcile(in).Queue)
	})

	t.Run("active transfers are skipped", func(t *testing.T) {
		in := baseInput(t, offer(1, foo5))
		in.Active[foo5] = struct{}{}
		assert.Empty(t, Reconcile(in).Queue)
	})

	t.Run("duplicate filenames are queued once", func(t *testing.T) {
		plan := Reconcile(baseInput(t, offer(1, foo5), offer(7, foo5)))
		require.Len(t, plan.Queue, 1)
		assert.Equal(t, 1, plan.Queue[0].Offer.Index)
	})

	t.Run("resolution filter applies to new downloads", func(t *testing.T) {
		in := baseInput(t, offer(1, foo5), offer(2, foo6hd))
		in.Resolutions = []int{720}
		assert.Equal(t, []string{foo5}, filenames(Reconcile(in)))

		in.Resolutions = nil
		assert.Equal(t, []string{foo5, foo6hd}, filenames(Reconcile(in)))
	})

	t.Run("partial files resume regardless of policy", func(t *testing.T) {
		in := baseInput(t, offer(1, bar1), offer(2, foo2), offer(3, foo6hd))
		in.Incomplete[bar1] = struct{}{}
		in.Incomplete[foo2] = struct{}{}
		in.Incomplete[foo6hd] = struct{}{}
		in.Resolutions = []int{720}
		in.Archived = func(string, int) bool { return true }

		assert.Equal(t, []string{bar1, foo2, foo6hd}, filenames(Reconcile(in)))
	})

	t.Run("partial file with an active transfer is skipped", func(t *testing.T) {
		in := baseInput(t, offer(1, foo5))
		in.Incomplete[foo5] = struct{}{}
		in.Active[foo5] = struct{}{}
		assert.Empty(t, Reconcile(in).Queue)
	})

	t.Run("stale check wins over resume", func(t *testing.T) {
		in := baseInput(t, offer(1, foo5))
		in.Incomplete[foo5] = struct{}{}

		var checked string
		in.ArchiveExists = func(path string) bool {
			checked = path
			return true
		}

		plan := Reconcile(in)
		assert.Empty(t, plan.Queue)
		assert.Equal(t, []string{filepath.Join(testIncomplete, foo5)}, plan.Stale)
		assert.Equal(t, filepath.Join(testComplete, "Foo", foo5), checked)
	})

	t.Run("stale check uses the complete dir without archiving", func(t *testing.T) {
		in := baseInput(t, offer(1, bar1))
		in.Incomplete[bar1] = struct{}{}
		in.AutoArchive = false

		var checked string
		in.ArchiveExists = func(path string) bool {
			checked = path
			return false
		}

		assert.Equal(t, []string{bar1}, filenames(Reconcile(in)))
		assert.Equal(t, filepath.Join(testComplete, bar1), checked)
	})

	t.Run("queue keeps catalog order and groups by source", func(t *testing.T) {
		other := offer(4, "[Sub] Foo - 09 [720p].mkv")
		other.Source = "CR-ARCHIVE|1080p"
		in := baseInput(t, offer(3, "[Sub] Foo - 07 [720p].mkv"), other, offer(1, foo5), offer(2, "[Sub] Foo - 08 [720p].mkv"))

		plan := Reconcile(in)
		require.Len(t, plan.Queue, 4)

		assert.Equal(t, []batch.Request{
			{Source: testSource, Token: "1-3", Indices: []int{1, 2, 3}},
			{Source: "CR-ARCHIVE|1080p", Token: "4", Indices: []int{4}},
		}, plan.Requests())
	})
}

func TestManager_ReconcileOnce(t *testing.T) {
	foo5 := "[Sub] Foo - 05 [720p].mkv"
	foo4 := "[Sub] Foo - 04 [720p].mkv"

	t.Run("requests new episodes", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := newTestManager(t, ctrl, testConfig(), literalPolicy(t, "Foo", 0))
		ctx := testCtx()

		m.catalog.EXPECT().Query(gomock.Any(), "", testSource).Return([]catalog.Offer{offer(10, foo5)}, nil)
		m.transport.EXPECT().Send(gomock.Any(), testSource, "xdcc batch 10").Return(nil)

		plan, err := m.ReconcileOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{foo5}, filenames(plan))
		assert.Equal(t, []string{testSource}, m.requested)
	})

	t.Run("skips the ledger and cleans stale partials", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := newTestManager(t, ctrl, testConfig(), literalPolicy(t, "Foo", 0))
		ctx := testCtx()

		require.NoError(t, m.store.AppendEpisode(ctx, model.Episode{ShowName: "Foo", Episode: 4}))
		writeFile(t, m.fs, filepath.Join(testIncomplete, foo5), "partial")
		writeFile(t, m.fs, filepath.Join(testComplete, "Foo", foo5), "whole")

		m.catalog.EXPECT().Query(gomock.Any(), "", testSource).Return([]catalog.Offer{offer(1, foo4), offer(2, foo5)}, nil)

		plan, err := m.ReconcileOnce(ctx)
		require.NoError(t, err)
		assert.Empty(t, plan.Queue)
		assert.Equal(t, []string{filepath.Join(testIncomplete, foo5)}, plan.Stale)

		exists, err := afero.Exists(m.fs, filepath.Join(testIncomplete, foo5))
		require.NoError(t, err)
		assert.False(t, exists)
		assert.Equal(t, "whole", readFile(t, m.fs, filepath.Join(testComplete, "Foo", foo5)))
	})

	t.Run("resumes partial files", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := newTestManager(t, ctrl, testConfig())
		ctx := testCtx()

		writeFile(t, m.fs, filepath.Join(testIncomplete, foo5), "partial")

		m.catalog.EXPECT().Query(gomock.Any(), "", testSource).Return([]catalog.Offer{offer(12, foo5)}, nil)
		m.transport.EXPECT().Send(gomock.Any(), testSource, "xdcc batch 12").Return(nil)

		_, err := m.ReconcileOnce(ctx)
		require.NoError(t, err)
	})

	t.Run("catalog failure abandons the cycle", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		cfg := testConfig()
		cfg.Catalog.Sources = []string{testSource, "CR-ARCHIVE|1080p"}
		m := newTestManager(t, ctrl, cfg, literalPolicy(t, "Foo", 0))
		ctx := testCtx()

		writeFile(t, m.fs, filepath.Join(testIncomplete, foo5), "partial")
		writeFile(t, m.fs, filepath.Join(testComplete, "Foo", foo5), "whole")

		m.catalog.EXPECT().Query(gomock.Any(), "", testSource).Return([]catalog.Offer{offer(10, foo5)}, nil).AnyTimes()
		m.catalog.EXPECT().Query(gomock.Any(), "", "CR-ARCHIVE|1080p").Return(nil, fmt.Errorf("%w: status code not ok", catalog.ErrTransient))

		_, err := m.ReconcileOnce(ctx)
		assert.ErrorIs(t, err, catalog.ErrTransient)

		exists, err := afero.Exists(m.fs, filepath.Join(testIncomplete, foo5))
		require.NoError(t, err)
		assert.True(t, exists, "nothing is cleaned up when the catalog fails")
	})

	t.Run("nothing selected sends nothing", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := newTestManager(t, ctrl, testConfig(), literalPolicy(t, "Foo", 0))

		m.catalog.EXPECT().Query(gomock.Any(), "", testSource).Return(nil, nil)

		plan, err := m.ReconcileOnce(testCtx())
		require.NoError(t, err)
		assert.Empty(t, plan.Queue)
	})

	t.Run("fills in a missing source", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := newTestManager(t, ctrl, testConfig(), literalPolicy(t, "Foo", 0))

		o := offer(3, foo5)
		o.Source = ""
		m.catalog.EXPECT().Query(gomock.Any(), "", testSource).Return([]catalog.Offer{o}, nil)
		m.transport.EXPECT().Send(gomock.Any(), testSource, "xdcc batch 3").Return(nil)

		_, err := m.ReconcileOnce(testCtx())
		require.NoError(t, err)
	})
}

func TestManager_Plan(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := newTestManager(t, ctrl, testConfig(), literalPolicy(t, "Foo", 0))
	ctx := context.Background()

	foo5 := "[Sub] Foo - 05 [720p].mkv"
	writeFile(t, m.fs, filepath.Join(testIncomplete, foo5), "partial")
	writeFile(t, m.fs, filepath.Join(testComplete, "Foo", foo5), "whole")

	m.catalog.EXPECT().Query(gomock.Any(), "", testSource).Return([]catalog.Offer{offer(10, foo5)}, nil)

	plan, err := m.Plan(ctx)
	require.NoError(t, err)
	assert.Len(t, plan.Stale, 1)

	exists, err := afero.Exists(m.fs, filepath.Join(testIncomplete, foo5))
	require.NoError(t, err)
	assert.True(t, exists, "planning does not remove anything")
}
