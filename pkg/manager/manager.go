package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kasuboski/amnis/config"
	"github.com/kasuboski/amnis/pkg/catalog"
	mio "github.com/kasuboski/amnis/pkg/io"
	"github.com/kasuboski/amnis/pkg/logger"
	"github.com/kasuboski/amnis/pkg/show"
	"github.com/kasuboski/amnis/pkg/storage"
	"github.com/kasuboski/amnis/pkg/storage/sqlite/schema/gen/model"
	"github.com/kasuboski/amnis/pkg/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrDuplicateActiveTransfer = errors.New("transfer already active for file")
	ErrAlreadyArchived         = errors.New("file already archived")
	ErrUnknownSource           = errors.New("offer from unknown source")
	ErrResumeExhausted         = errors.New("resume attempts exhausted")
	ErrLedgerWrite             = errors.New("failed to record episode")
	ErrInvalidFilename         = errors.New("offered filename is not a plain file name")
	ErrAbandoned               = errors.New("transfer abandoned")
)

const (
	cancelMessage  = "xdcc cancel"
	pendingNotice  = "You have a DCC pending"
	copyBufferSize = 32 * 1024
)

// Manager decides what to fetch, asks the sources for it and receives what
// they send.
type Manager struct {
	catalog   catalog.Client
	transport transport.Transport
	storage   storage.EpisodeStorage
	fs        mio.FileIO
	registry  *Registry

	catalogConfig  config.Catalog
	libraryConfig  config.Library
	transferConfig config.Transfer
	managerConfig  config.Manager

	policies atomic.Pointer[[]show.Policy]

	// cycleMu keeps reconcile cycles from overlapping.
	cycleMu sync.Mutex

	requestedMu sync.Mutex
	requested   []string

	transfers sync.WaitGroup
}

// New creates a Manager. The transport may be nil for callers that only plan.
func New(catalogClient catalog.Client, t transport.Transport, store storage.EpisodeStorage, fs mio.FileIO, cfg config.Config, policies []show.Policy) *Manager {
	m := &Manager{
		catalog:        catalogClient,
		transport:      t,
		storage:        store,
		fs:             fs,
		registry:       NewRegistry(),
		catalogConfig:  cfg.Catalog,
		libraryConfig:  cfg.Library,
		transferConfig: cfg.Transfer,
		managerConfig:  cfg.Manager,
	}
	m.SetPolicies(policies)
	return m
}

// SetPolicies replaces the show policies as a whole. Cycles already running
// keep the snapshot they started with.
func (m *Manager) SetPolicies(policies []show.Policy) {
	snapshot := slices.Clone(policies)
	m.policies.Store(&snapshot)
}

func (m *Manager) Policies() []show.Policy {
	p := m.policies.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Transfers lists the sessions that currently own a filename.
func (m *Manager) Transfers() []SessionView {
	return m.registry.Sessions()
}

func (m *Manager) Episodes(ctx context.Context, showName string) ([]*model.Episode, error) {
	return m.storage.ListEpisodes(ctx, showName)
}

// isSource reports whether nick is one of the configured sources.
func (m *Manager) isSource(nick string) bool {
	return slices.ContainsFunc(m.catalogConfig.Sources, func(s string) bool {
		return strings.EqualFold(s, nick)
	})
}

// Run serves offers and notices from the transport and polls the catalog
// until ctx is done. The first poll happens right away.
func (m *Manager) Run(ctx context.Context) error {
	if m.transport == nil {
		return errors.New("transport is nil")
	}

	log := logger.FromCtx(ctx)

	episodes, err := m.storage.ListEpisodes(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	log.Infow("starting manager", "archived_episodes", len(episodes), "sources", m.catalogConfig.Sources)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.serveOffers(ctx)
	}()
	go func() {
		defer wg.Done()
		m.serveNotices(ctx)
	}()

	scheduler := NewScheduler(m.managerConfig.PollInterval, func(ctx context.Context) error {
		_, err := m.ReconcileOnce(ctx)
		return err
	})
	err = scheduler.Run(ctx)
	wg.Wait()

	shutdownErr := m.Shutdown(context.WithoutCancel(ctx))

	return multierr.Combine(err, shutdownErr)
}

func (m *Manager) serveOffers(ctx context.Context) {
	offers := m.transport.Offers()
	for {
		select {
		case <-ctx.Done():
			return
		case offer, ok := <-offers:
			if !ok {
				return
			}

			m.transfers.Add(1)
			go func() {
				defer m.transfers.Done()
				if err := m.HandleOffer(ctx, offer); err != nil {
					logger.FromCtx(ctx).Debugw("offer not completed", "filename", offer.Filename, zap.Error(err))
				}
			}()
		}
	}
}

func (m *Manager) serveNotices(ctx context.Context) {
	notices := m.transport.Notices()
	for {
		select {
		case <-ctx.Done():
			return
		case notice, ok := <-notices:
			if !ok {
				return
			}
			if err := m.HandleNotice(ctx, notice); err != nil {
				logger.FromCtx(ctx).Warnw("failed to answer notice", "from", notice.From, zap.Error(err))
			}
		}
	}
}

// HandleNotice answers a source that still holds a pending transfer for us by
// cancelling it, so the next batch request is not refused.
func (m *Manager) HandleNotice(ctx context.Context, notice transport.Notice) error {
	if !m.isSource(notice.From) || !strings.Contains(notice.Text, pendingNotice) {
		return nil
	}

	logger.FromCtx(ctx).Infow("cancelling pending transfer", "source", notice.From)
	return m.transport.Send(ctx, notice.From, cancelMessage)
}

func (m *Manager) markRequested(source string) {
	m.requestedMu.Lock()
	defer m.requestedMu.Unlock()

	if !slices.Contains(m.requested, source) {
		m.requested = append(m.requested, source)
	}
}

// Shutdown cancels outstanding requests at every source we asked for a batch,
// closes the transport and waits for running transfers to stop. Partial files
// stay where they are.
func (m *Manager) Shutdown(ctx context.Context) error {
	log := logger.FromCtx(ctx)

	m.requestedMu.Lock()
	sources := slices.Clone(m.requested)
	m.requested = nil
	m.requestedMu.Unlock()

	var err error
	for _, source := range sources {
		log.Debugw("cancelling requests", "source", source)
		if sendErr := m.transport.Send(ctx, source, cancelMessage); sendErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to cancel requests at %s: %w", source, sendErr))
		}
	}

	err = multierr.Append(err, m.transport.Close())
	m.transfers.Wait()

	log.Info("manager stopped")
	return err
}
