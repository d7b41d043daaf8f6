package manager

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/kasuboski/amnis/config"
	"github.com/kasuboski/amnis/pkg/catalog"
	catalogMocks "github.com/kasuboski/amnis/pkg/catalog/mocks"
	mio "github.com/kasuboski/amnis/pkg/io"
	"github.com/kasuboski/amnis/pkg/logger"
	"github.com/kasuboski/amnis/pkg/show"
	"github.com/kasuboski/amnis/pkg/storage"
	"github.com/kasuboski/amnis/pkg/storage/sqlite"
	"github.com/kasuboski/amnis/pkg/transport"
	transportMocks "github.com/kasuboski/amnis/pkg/transport/mocks"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	testSource     = "CR-ARCHIVE|720p"
	testComplete   = "/media/complete"
	testIncomplete = "/media/incomplete"
)

type testManager struct {
	*Manager
	catalog   *catalogMocks.MockClient
	transport *transportMocks.MockTransport
	fs        afero.Fs
	store     storage.Storage
}

func testConfig() config.Config {
	return config.Config{
		Catalog: config.Catalog{
			Sources: []string{testSource},
		},
		Library: config.Library{
			CompleteDir:   testComplete,
			IncompleteDir: testIncomplete,
			AutoArchive:   true,
		},
		Transfer: config.Transfer{
			MaxResumeAttempts: 3,
			ResumeBackoffMin:  time.Millisecond,
			ResumeBackoffMax:  time.Millisecond,
		},
	}
}

func literalPolicy(t *testing.T, name string, start int) show.Policy {
	t.Helper()
	p, err := show.NewLiteral(name)
	require.NoError(t, err)
	return show.Policy{DisplayName: name, Pattern: p, StartEpisode: start}
}

func newTestManager(t *testing.T, ctrl *gomock.Controller, cfg config.Config, policies ...show.Policy) testManager {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.RunMigrations(ctx))

	fs := afero.NewMemMapFs()
	catalogClient := catalogMocks.NewMockClient(ctrl)
	tr := transportMocks.NewMockTransport(ctrl)

	return testManager{
		Manager:   New(catalogClient, tr, store, mio.New(fs), cfg, policies),
		catalog:   catalogClient,
		transport: tr,
		fs:        fs,
		store:     store,
	}
}

func testCtx() context.Context {
	return logger.Nop(context.Background())
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	b, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(b)
}

func length(n int) *int64 {
	l := int64(n)
	return &l
}

// resetReader yields data and then fails the way a dropped connection does.
func resetReader(data string) io.ReadCloser {
	return io.NopCloser(io.MultiReader(strings.NewReader(data), errReader{err: transport.ErrPeerReset}))
}

type errReader struct {
	err error
}

func (e errReader) Read([]byte) (int, error) {
	return 0, e.err
}

func TestManager_SetPolicies(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := newTestManager(t, ctrl, testConfig(), literalPolicy(t, "Foo", 0))

	before := m.Policies()
	require.Len(t, before, 1)

	m.SetPolicies([]show.Policy{literalPolicy(t, "Bar", 0), literalPolicy(t, "Baz", 0)})

	after := m.Policies()
	require.Len(t, after, 2)
	assert.Equal(t, "Bar", after[0].DisplayName)
	assert.Equal(t, "Foo", before[0].DisplayName, "earlier snapshots are not changed")
}

func TestManager_HandleNotice(t *testing.T) {
	ctx := testCtx()

	t.Run("pending transfer from source is cancelled", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := newTestManager(t, ctrl, testConfig())

		m.transport.EXPECT().Send(gomock.Any(), testSource, "xdcc cancel").Return(nil)

		err := m.HandleNotice(ctx, transport.Notice{From: testSource, Text: "** You have a DCC pending, Set your client to receive the transfer."})
		assert.NoError(t, err)
	})

	t.Run("other notices are ignored", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := newTestManager(t, ctrl, testConfig())

		assert.NoError(t, m.HandleNotice(ctx, transport.Notice{From: testSource, Text: "welcome"}))
		assert.NoError(t, m.HandleNotice(ctx, transport.Notice{From: "stranger", Text: "You have a DCC pending"}))
	})
}

func TestManager_Shutdown(t *testing.T) {
	ctx := testCtx()

	t.Run("cancels at requested sources", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := newTestManager(t, ctrl, testConfig())
		m.markRequested(testSource)
		m.markRequested(testSource)

		gomock.InOrder(
			m.transport.EXPECT().Send(gomock.Any(), testSource, "xdcc cancel").Return(nil),
			m.transport.EXPECT().Close().Return(nil),
		)

		assert.NoError(t, m.Shutdown(ctx))
	})

	t.Run("combines failures", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := newTestManager(t, ctrl, testConfig())
		m.markRequested(testSource)

		m.transport.EXPECT().Send(gomock.Any(), testSource, "xdcc cancel").Return(errors.New("not connected"))
		m.transport.EXPECT().Close().Return(errors.New("already closed"))

		err := m.Shutdown(ctx)
		assert.ErrorContains(t, err, "not connected")
		assert.ErrorContains(t, err, "already closed")
	})
}

func TestManager_Run(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := newTestManager(t, ctrl, testConfig(), literalPolicy(t, "Foo", 0))

	offers := make(chan transport.Offer)
	notices := make(chan transport.Notice)
	m.transport.EXPECT().Offers().Return((<-chan transport.Offer)(offers))
	m.transport.EXPECT().Notices().Return((<-chan transport.Notice)(notices))

	ctx, cancel := context.WithCancel(testCtx())
	defer cancel()

	polled := make(chan struct{})
	m.catalog.EXPECT().Query(gomock.Any(), "", testSource).DoAndReturn(func(context.Context, string, string) ([]catalog.Offer, error) {
		close(polled)
		return []catalog.Offer{offer(10, "[Sub] Foo - 05 [720p].mkv")}, nil
	})
	m.transport.EXPECT().Send(gomock.Any(), testSource, "xdcc batch 10").Return(nil)

	// shutdown
	m.transport.EXPECT().Send(gomock.Any(), testSource, "xdcc cancel").Return(nil)
	m.transport.EXPECT().Close().Return(nil)

	done := make(chan error)
	go func() {
		done <- m.Run(ctx)
	}()

	select {
	case <-polled:
	case <-time.After(time.Second * 5):
		t.Fatal("first poll did not run")
	}

	require.Eventually(t, func() bool {
		m.requestedMu.Lock()
		defer m.requestedMu.Unlock()
		return len(m.requested) == 1
	}, time.Second*5, time.Millisecond*10)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second * 5):
		t.Fatal("manager did not stop")
	}
}
