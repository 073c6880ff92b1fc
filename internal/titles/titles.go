// Package titles resolves video titles in the background.
//
// WHY ASYNC?
// The title comes from scraping the video page: a slow, flaky, third-party
// HTTP call. Doing it inside POST /api/scenes would make every create as slow
// as YouTube on its worst day, and fail when YouTube does. Instead the scene
// service enqueues a job and returns; a small pool of workers fills the
// title in later. A scene without a title is perfectly valid.
//
// WORKER POOL SHAPE:
//
//	Enqueue ──► jobs (buffered chan) ──► worker 1 ─┐
//	                                 ──► worker 2 ─┼─► Fetcher ─► Store.SetVideoTitle
//	                                 ──► worker N ─┘
//
// Enqueue never blocks. When the buffer is full the job is dropped and
// logged: losing a title is better than stalling a request.
package titles

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Fetcher looks up the title of the video at videoURL.
type Fetcher interface {
	FetchTitle(ctx context.Context, videoURL string) (string, error)
}

// Store persists a resolved title. It must only apply the title while the
// scene still points at videoURL, and report whether it did.
type Store interface {
	SetVideoTitle(ctx context.Context, sceneID, videoURL, title string) (bool, error)
}

// Job is one pending lookup.
type Job struct {
	SceneID  string
	VideoURL string
}

// Config sizes the pool.
type Config struct {
	Workers   int
	QueueSize int
	// Timeout bounds one fetch + store.
	Timeout time.Duration
}

// Pool runs title lookups on a fixed number of goroutines.
type Pool struct {
	fetcher Fetcher
	store   Store
	config  Config
	logger  *slog.Logger

	jobs chan Job
	done chan struct{}

	// ctx is cancelled by Stop so in-flight fetches abort promptly.
	ctx    context.Context
	cancel context.CancelFunc

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPool creates a stopped pool. Call Start to launch the workers.
func NewPool(fetcher Fetcher, store Store, cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		fetcher: fetcher,
		store:   store,
		config:  cfg,
		logger:  logger.With("component", "titles"),
		jobs:    make(chan Job, cfg.QueueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it again is a no-op.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting title workers", slog.Int("workers", p.config.Workers))
		for i := 0; i < p.config.Workers; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Stop cancels in-flight lookups, waits for the workers to exit and drops
// whatever is still queued. Safe to call more than once, and before Start.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping title workers")
		close(p.done)
		p.cancel()
		p.wg.Wait()

		if n := len(p.jobs); n > 0 {
			p.logger.Warn("dropping queued title lookups", slog.Int("count", n))
		}
	})
}

// Enqueue schedules a lookup without blocking. It returns false when the job
// was dropped (queue full or pool stopped).
func (p *Pool) Enqueue(sceneID, videoURL string) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.jobs <- Job{SceneID: sceneID, VideoURL: videoURL}:
		return true
	default:
		p.logger.Warn("title queue full, dropping lookup", slog.String("scene_id", sceneID))
		return false
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case job := <-p.jobs:
			p.process(job)
		}
	}
}

// process runs one job. Every failure is logged and swallowed: the scene
// simply keeps an empty title.
func (p *Pool) process(job Job) {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.Timeout)
	defer cancel()

	log := p.logger.With(slog.String("scene_id", job.SceneID))

	title, err := p.fetcher.FetchTitle(ctx, job.VideoURL)
	if err != nil {
		log.Warn("title lookup failed", slog.String("video_url", job.VideoURL), slog.String("error", err.Error()))
		return
	}
	if title == "" {
		return
	}

	applied, err := p.store.SetVideoTitle(ctx, job.SceneID, job.VideoURL, title)
	if err != nil {
		log.Error("storing video title failed", slog.String("error", err.Error()))
		return
	}
	if !applied {
		// Deleted, or the video URL changed while we were fetching.
		log.Debug("video title discarded, scene changed")
		return
	}
	log.Debug("video title stored", slog.String("title", title))
}
