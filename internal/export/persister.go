package export

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"edgecam/internal/logging"
)

// ErrNoFrame is returned when nothing has been rendered yet.
var ErrNoFrame = errors.New("export: no rendered frame available")

// Persister writes the latest snapshot to a JPEG file on a cron schedule,
// skipping ticks where nothing new was rendered. The file is replaced
// atomically so a polling viewer never reads a partial image.
type Persister struct {
	store  *Store
	path   string
	cfg    EncodeConfig
	logger *zap.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	lastSeq uint64
}

// NewPersister schedules saves of store's latest frame to path. schedule is
// any robfig/cron spec, e.g. "@every 2s".
func NewPersister(store *Store, path, schedule string, cfg EncodeConfig, logger *zap.Logger) (*Persister, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil, errors.New("export: empty output path")
	}
	cl := logging.CronLogger{Logger: logger}
	p := &Persister{
		store:  store,
		path:   path,
		cfg:    cfg,
		logger: logger,
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
	}
	if _, err := p.cron.AddFunc(schedule, p.tick); err != nil {
		return nil, errors.Wrapf(err, "export: schedule %q", schedule)
	}
	return p, nil
}

// Start begins the schedule.
func (p *Persister) Start() { p.cron.Start() }

// Stop ends the schedule and waits for a running save to finish.
func (p *Persister) Stop() { <-p.cron.Stop().Done() }

// Path is the output file.
func (p *Persister) Path() string { return p.path }

// SaveNow writes the latest frame even if it was already saved.
func (p *Persister) SaveNow() (Snapshot, error) {
	return p.save(true)
}

func (p *Persister) tick() {
	snap, err := p.save(false)
	switch {
	case errors.Is(err, ErrNoFrame):
		p.logger.Debug("nothing to export yet")
	case err != nil:
		p.logger.Warn("export failed", zap.String("path", p.path), zap.Error(err))
	case snap.Frame != nil:
		p.logger.Debug("frame exported", zap.Uint64("seq", snap.Seq), zap.String("path", p.path))
	}
}

// save returns a zero Snapshot when it skipped an unchanged frame.
func (p *Persister) save(force bool) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap, ok := p.store.Latest()
	if !ok {
		return Snapshot{}, ErrNoFrame
	}
	if !force && snap.Seq == p.lastSeq {
		return Snapshot{}, nil
	}
	data, err := EncodeJPEG(snap.Frame, p.cfg)
	if err != nil {
		return Snapshot{}, err
	}
	if err := writeAtomic(p.path, data); err != nil {
		return Snapshot{}, err
	}
	p.lastSeq = snap.Seq
	return snap, nil
}

func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "export: create dir")
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return errors.Wrap(err, "export: temp file")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, werr := tmp.Write(data); werr != nil {
		return multierr.Combine(errors.Wrap(werr, "export: write"), tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "export: close")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Wrap(err, "export: chmod")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "export: rename")
}
