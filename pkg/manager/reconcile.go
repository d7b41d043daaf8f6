package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/kasuboski/amnis/pkg/batch"
	"github.com/kasuboski/amnis/pkg/catalog"
	"github.com/kasuboski/amnis/pkg/logger"
	"github.com/kasuboski/amnis/pkg/show"
	"github.com/kasuboski/amnis/pkg/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// QueueEntry is an offer selected for download in one cycle.
type QueueEntry struct {
	Offer  catalog.Offer `json:"offer"`
	Policy *show.Policy  `json:"policy,omitempty"`
}

// Plan is the outcome of one reconcile cycle.
type Plan struct {
	// Queue is the selected offers in catalog order.
	Queue []QueueEntry `json:"queue"`
	// Stale are partial files whose archived copy already exists.
	Stale []string `json:"stale"`
}

// Requests groups the queue into one batch request per source.
func (p Plan) Requests() []batch.Request {
	items := make([]batch.Item, 0, len(p.Queue))
	for _, e := range p.Queue {
		items = append(items, batch.Item{Source: e.Offer.Source, Index: e.Offer.Index})
	}
	return batch.Group(items)
}

// ReconcileInput is a consistent snapshot of everything a cycle decides on.
type ReconcileInput struct {
	Offers   []catalog.Offer
	Policies []show.Policy
	// Incomplete holds the file names present in the incomplete directory.
	Incomplete map[string]struct{}
	// Active holds the file names with a live transfer session.
	Active map[string]struct{}
	// Archived reports whether the ledger already has the episode.
	Archived func(showName string, episode int) bool
	// ArchiveExists reports whether a finished copy exists at path.
	ArchiveExists func(path string) bool

	// Resolutions limits fresh downloads. Empty allows every resolution.
	Resolutions   []int
	CompleteDir   string
	IncompleteDir string
	AutoArchive   bool
}

// Reconcile picks which offers to request. It has no side effects beyond the
// lookups the input provides.
//
// For each offer, in order: repeats of a filename are skipped; offers whose
// names did not parse or are not plain file names are skipped; a partial file
// whose archived copy exists is marked stale; a partial file with no live
// session is resumed regardless of policy; otherwise the offer needs a policy,
// an episode at or past the policy's start, an allowed resolution, no ledger
// record and no live session.
func Reconcile(in ReconcileInput) Plan {
	plan := Plan{
		Queue: []QueueEntry{},
		Stale: []string{},
	}
	seen := make(map[string]struct{})

	for _, offer := range in.Offers {
		if _, ok := seen[offer.Filename]; ok {
			continue
		}

		if !offer.Parsed || !transport.ValidFilename(offer.Filename) {
			continue
		}
		meta := offer.Meta

		policy, _ := show.Match(offer.Filename, in.Policies)
		_, incomplete := in.Incomplete[offer.Filename]
		_, active := in.Active[offer.Filename]

		if incomplete {
			target := filepath.Join(show.TargetDir(policy, in.CompleteDir, in.AutoArchive), offer.Filename)
			if in.ArchiveExists != nil && in.ArchiveExists(target) {
				seen[offer.Filename] = struct{}{}
				plan.Stale = append(plan.Stale, filepath.Join(in.IncompleteDir, offer.Filename))
				continue
			}

			if !active {
				seen[offer.Filename] = struct{}{}
				plan.Queue = append(plan.Queue, QueueEntry{Offer: offer, Policy: policy})
				continue
			}
		}

		if policy == nil || active {
			continue
		}
		if meta.Episode < policy.StartEpisode {
			continue
		}
		if len(in.Resolutions) > 0 && !slices.Contains(in.Resolutions, meta.Resolution) {
			continue
		}
		if in.Archived != nil && in.Archived(meta.Show, meta.Episode) {
			continue
		}

		seen[offer.Filename] = struct{}{}
		plan.Queue = append(plan.Queue, QueueEntry{Offer: offer, Policy: policy})
	}

	return plan
}

// Plan runs the decision half of a cycle without touching files or sources.
func (m *Manager) Plan(ctx context.Context) (Plan, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	return m.plan(ctx)
}

// ReconcileOnce runs one full cycle: decide, remove stale partial files and
// send one batch request per source. A catalog failure abandons the cycle
// before anything is changed.
func (m *Manager) ReconcileOnce(ctx context.Context) (Plan, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	log := logger.FromCtx(ctx)

	plan, err := m.plan(ctx)
	if err != nil {
		return plan, err
	}

	for _, path := range plan.Stale {
		if err := m.fs.Remove(path); err != nil {
			log.Warnw("failed to remove stale partial file", "path", path, zap.Error(err))
			continue
		}
		log.Infow("removed stale partial file", "path", path)
	}

	requests := plan.Requests()
	if len(requests) == 0 {
		log.Debug("nothing to request")
		return plan, nil
	}

	if m.transport == nil {
		return plan, fmt.Errorf("transport is nil")
	}

	var errs error
	for _, req := range requests {
		log.Infow("requesting batch", "source", req.Source, "packs", req.Token)
		if err := m.transport.Send(ctx, req.Source, req.Message()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to request batch from %s: %w", req.Source, err))
			continue
		}
		m.markRequested(req.Source)
	}

	return plan, errs
}

func (m *Manager) plan(ctx context.Context) (Plan, error) {
	log := logger.FromCtx(ctx)

	offers, err := m.queryCatalog(ctx)
	if err != nil {
		return Plan{}, err
	}

	incomplete, err := m.fs.ListDir(m.libraryConfig.IncompleteDir)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to list incomplete directory: %w", err)
	}

	archived, err := m.ledgerSnapshot(ctx)
	if err != nil {
		return Plan{}, err
	}

	plan := Reconcile(ReconcileInput{
		Offers:        offers,
		Policies:      m.Policies(),
		Incomplete:    incomplete,
		Active:        m.registry.Filenames(),
		Archived:      archived.contains,
		ArchiveExists: m.fs.Exists,
		Resolutions:   m.catalogConfig.Resolutions,
		CompleteDir:   m.libraryConfig.CompleteDir,
		IncompleteDir: m.libraryConfig.IncompleteDir,
		AutoArchive:   m.libraryConfig.AutoArchive,
	})

	for _, e := range plan.Queue {
		size := "unknown size"
		if e.Offer.Size != nil {
			size = humanize.IBytes(uint64(*e.Offer.Size))
		}
		log.Infow("found", "filename", e.Offer.Filename, "pack", e.Offer.Index, "size", size)
	}
	log.Debugw("reconcile plan", "offers", len(offers), "queued", len(plan.Queue), "stale", len(plan.Stale))

	return plan, nil
}

// queryCatalog asks every source at once and returns their offers in source
// order. One failing source fails the whole query.
func (m *Manager) queryCatalog(ctx context.Context) ([]catalog.Offer, error) {
	sources := m.catalogConfig.Sources
	results := make([][]catalog.Offer, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, source := range sources {
		g.Go(func() error {
			offers, err := m.catalog.Query(gctx, m.catalogConfig.Term, source)
			if err != nil {
				return fmt.Errorf("failed to query %s: %w", source, err)
			}

			for j := range offers {
				if offers[j].Source == "" {
					offers[j].Source = source
				}
			}
			results[i] = offers
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return slices.Concat(results...), nil
}

type episodeKey struct {
	show    string
	episode int
}

type ledgerSet map[episodeKey]struct{}

func (l ledgerSet) contains(showName string, episode int) bool {
	_, ok := l[episodeKey{show: showName, episode: episode}]
	return ok
}

func (m *Manager) ledgerSnapshot(ctx context.Context) (ledgerSet, error) {
	episodes, err := m.storage.ListEpisodes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	set := make(ledgerSet, len(episodes))
	for _, ep := range episodes {
		set[episodeKey{show: ep.ShowName, episode: int(ep.Episode)}] = struct{}{}
	}
	return set, nil
}
