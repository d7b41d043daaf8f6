package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jpillora/backoff"
	"github.com/kasuboski/amnis/pkg/logger"
	"github.com/kasuboski/amnis/pkg/metadata"
	"github.com/kasuboski/amnis/pkg/show"
	"github.com/kasuboski/amnis/pkg/storage/sqlite/schema/gen/model"
	"github.com/kasuboski/amnis/pkg/transport"
	"go.uber.org/zap"
)

// HandleOffer receives one offered file into the incomplete directory, then
// moves it to its archive directory and records the episode. It returns once
// the session reaches Completed or Failed. A failed session leaves its
// partial file in place for a later resume.
func (m *Manager) HandleOffer(ctx context.Context, offer transport.Offer) error {
	log := logger.FromCtx(ctx, "filename", offer.Filename, "from", offer.From)

	if !m.isSource(offer.From) {
		log.Warn("ignoring offer from unknown source")
		return fmt.Errorf("%w: %s", ErrUnknownSource, offer.From)
	}

	if !transport.ValidFilename(offer.Filename) {
		log.Warn("rejecting offer with unsafe filename")
		m.reject(ctx, offer, "invalid filename")
		return fmt.Errorf("%w: %q", ErrInvalidFilename, offer.Filename)
	}

	session := newSession(offer.Filename, offer.From, offer.Length)
	if !m.registry.Claim(session) {
		log.Info("transfer already active, rejecting offer")
		m.reject(ctx, offer, "already receiving "+offer.Filename)
		return fmt.Errorf("%w: %s", ErrDuplicateActiveTransfer, offer.Filename)
	}
	defer m.registry.Release(session)

	log = log.With("session_id", session.ID.String())
	ctx = logger.WithCtx(ctx, log)

	policy, _ := show.Match(offer.Filename, m.Policies())
	targetDir := show.TargetDir(policy, m.libraryConfig.CompleteDir, m.libraryConfig.AutoArchive)
	target := filepath.Join(targetDir, offer.Filename)
	partial := filepath.Join(m.libraryConfig.IncompleteDir, offer.Filename)

	if m.fs.Exists(target) {
		log.Infow("already archived, rejecting offer", "target", target)
		m.fail(ctx, session, offer, "already have "+offer.Filename)
		return fmt.Errorf("%w: %s", ErrAlreadyArchived, target)
	}

	if err := m.fs.MkdirAll(m.libraryConfig.IncompleteDir); err != nil {
		m.fail(ctx, session, offer, "cannot store "+offer.Filename)
		return fmt.Errorf("failed to create incomplete directory: %w", err)
	}

	offset, _, err := m.fs.FileSize(partial)
	if err != nil {
		m.fail(ctx, session, offer, "cannot store "+offer.Filename)
		return fmt.Errorf("failed to read partial file: %w", err)
	}
	session.bytesWritten.Store(offset)

	if session.complete() {
		log.Infow("partial file already holds the whole file", "size", humanize.IBytes(uint64(offset)))
		m.reject(ctx, offer, "already received "+offer.Filename)
	} else {
		log.Infow("queued", "offset", humanize.IBytes(uint64(offset)))
		if err := m.receive(ctx, session, offer, partial); err != nil {
			log.Errorw("transfer failed", zap.Error(err))
			m.fail(ctx, session, offer, "transfer failed: "+offer.Filename)
			return err
		}
	}

	if err := session.transition(SessionCompleted); err != nil {
		return err
	}

	return m.finalize(ctx, session, partial, targetDir)
}

// receive streams the file, resuming from the bytes on disk after each
// recoverable interruption until the file is whole or the attempts run out.
func (m *Manager) receive(ctx context.Context, session *Session, offer transport.Offer, partial string) error {
	log := logger.FromCtx(ctx)

	b := &backoff.Backoff{
		Min:    m.transferConfig.ResumeBackoffMin,
		Max:    m.transferConfig.ResumeBackoffMax,
		Factor: 2,
		Jitter: true,
	}
	buf := make([]byte, copyBufferSize)

	for {
		err := m.stream(ctx, session, offer, partial, buf)
		if err == nil {
			return nil
		}
		if !errors.Is(err, transport.ErrPeerReset) {
			return err
		}

		attempts := session.resumeAttempts.Add(1)
		if int(attempts) > m.transferConfig.MaxResumeAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrResumeExhausted, attempts-1, err)
		}

		wait := b.Duration()
		log.Infow("transfer interrupted, resuming",
			"attempt", attempts,
			"written", humanize.IBytes(uint64(session.BytesWritten())),
			"wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		size, _, err := m.fs.FileSize(partial)
		if err != nil {
			return fmt.Errorf("failed to read partial file: %w", err)
		}
		session.bytesWritten.Store(size)
	}
}

// stream runs one connection's worth of transfer, appending to partial from
// the session's current offset. It returns nil when the file is whole and an
// error wrapping transport.ErrPeerReset when the peer dropped early.
func (m *Manager) stream(ctx context.Context, session *Session, offer transport.Offer, partial string, buf []byte) error {
	log := logger.FromCtx(ctx)
	offset := session.BytesWritten()

	f, err := m.fs.OpenAppend(partial)
	if err != nil {
		return fmt.Errorf("failed to open partial file: %w", err)
	}

	var rc io.ReadCloser
	if offset > 0 {
		rc, err = m.transport.AcceptResume(ctx, offer, offset)
	} else {
		rc, err = m.transport.AcceptFresh(ctx, offer)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to accept transfer: %w", err)
	}

	// unblocks the copy when the fetcher shuts down
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer stop()

	if err := session.transition(SessionActive); err != nil {
		rc.Close()
		f.Close()
		return err
	}
	log.Infow("connected", "offset", offset)

	// hide any WriterTo so the copy goes through buf
	_, copyErr := io.CopyBuffer(countingWriter{w: f, session: session}, struct{ io.Reader }{rc}, buf)
	stop()

	if err := rc.Close(); err != nil {
		log.Debugw("failed to close transfer stream", zap.Error(err))
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close partial file: %w", err)
	}

	switch {
	case ctx.Err() != nil && !session.complete():
		return fmt.Errorf("%w at %d bytes: %w", ErrAbandoned, session.BytesWritten(), context.Cause(ctx))
	case copyErr == nil:
		if session.ExpectedLength != nil && !session.complete() {
			return fmt.Errorf("%w: stream ended at %d of %d bytes", transport.ErrPeerReset, session.BytesWritten(), *session.ExpectedLength)
		}
		return nil
	case errors.Is(copyErr, transport.ErrPeerReset):
		if session.complete() {
			return nil
		}
		return copyErr
	default:
		return fmt.Errorf("transfer interrupted: %w", copyErr)
	}
}

// finalize moves the finished file into place and records it. A repeated
// finalize after a crash is harmless: the ledger ignores duplicates.
func (m *Manager) finalize(ctx context.Context, session *Session, partial, targetDir string) error {
	log := logger.FromCtx(ctx)
	target := filepath.Join(targetDir, session.Filename)

	if err := m.fs.MkdirAll(targetDir); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	if err := m.fs.Rename(partial, target); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", partial, target, err)
	}
	log.Infow("completed", "target", target, "size", humanize.IBytes(uint64(session.BytesWritten())))

	meta, ok := metadata.Parse(session.Filename)
	if !ok {
		log.Warn("finished file has no episode metadata, not recording it")
		return nil
	}

	err := m.storage.AppendEpisode(ctx, model.Episode{
		ShowName:    meta.Show,
		Episode:     int32(meta.Episode),
		CompletedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("%w: %s episode %d: %w", ErrLedgerWrite, meta.Show, meta.Episode, err)
	}

	return nil
}

func (m *Manager) fail(ctx context.Context, session *Session, offer transport.Offer, reason string) {
	if err := session.transition(SessionFailed); err != nil {
		logger.FromCtx(ctx).Debugw("failed to mark session failed", zap.Error(err))
	}
	m.reject(ctx, offer, reason)
}

// reject tells the peer we are not taking the offer. Failing to do so is only
// logged; the peer gives up on its own eventually.
func (m *Manager) reject(ctx context.Context, offer transport.Offer, reason string) {
	if err := m.transport.Reject(ctx, offer.From, reason); err != nil {
		logger.FromCtx(ctx).Warnw("failed to reject offer", zap.Error(err))
	}
}
