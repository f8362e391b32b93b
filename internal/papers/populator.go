package papers

import (
	"context"
	"errors"
	"slices"
	"time"

	"dermodel/internal/catalog"

	"go.uber.org/zap"
)

const (
	DefaultBatchSize     = 100
	DefaultPerIngredient = 4
	DefaultRequestDelay  = 3 * time.Second
	DefaultPageSize      = 1000

	flushTimeout = 2 * time.Minute
)

// Searcher finds papers for an ingredient.
type Searcher interface {
	Search(ctx context.Context, ingredient string, limit int) ([]Result, error)
}

// Store is the catalog surface the populator writes through.
type Store interface {
	IngredientNames(ctx context.Context, pageSize int) ([]string, error)
	PaperExists(ctx context.Context, ingredient, title string) (bool, error)
	InsertPaper(ctx context.Context, p *catalog.Paper) (bool, error)
}

// Options tunes a populator run.
type Options struct {
	CheckpointPath string
	BatchSize      int
	PerIngredient  int
	RequestDelay   time.Duration
}

// Summary describes what a run did.
type Summary struct {
	Processed      int // ingredients searched this run
	Remaining      int // ingredients still unsearched when the run stopped
	PapersFound    int
	PapersInserted int
	Interrupted    bool
}

// Populator searches papers for every catalog ingredient not yet in the
// checkpoint and stores them in batches.
type Populator struct {
	store    Store
	searcher Searcher
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPopulator creates a populator.
func NewPopulator(store Store, searcher Searcher, opts Options, logger *zap.Logger) *Populator {
	if opts.CheckpointPath == "" {
		opts.CheckpointPath = "checkpoint.json"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PerIngredient <= 0 {
		opts.PerIngredient = DefaultPerIngredient
	}
	if opts.RequestDelay < 0 {
		opts.RequestDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Populator{
		store:    store,
		searcher: searcher,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Run processes remaining ingredients until done or ctx is cancelled.
// Buffered papers are flushed and the checkpoint saved on every exit path.
func (p *Populator) Run(ctx context.Context) (summary *Summary, err error) {
	cp, err := LoadCheckpoint(p.opts.CheckpointPath)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(cp.Processed))
	for _, name := range cp.Processed {
		done[name] = true
	}

	names, err := p.store.IngredientNames(ctx, DefaultPageSize)
	if err != nil {
		return nil, err
	}

	var remaining []string
	for _, name := range names {
		if !done[name] {
			remaining = append(remaining, name)
		}
	}

	p.logger.Info("starting paper population",
		zap.Int("already_processed", len(done)),
		zap.Int("remaining", len(remaining)),
		zap.Int("per_ingredient", p.opts.PerIngredient),
		zap.Duration("request_delay", p.opts.RequestDelay),
	)

	summary = &Summary{Remaining: len(remaining)}
	if len(remaining) == 0 {
		return summary, nil
	}

	var buffer []*catalog.Paper

	// Flushing uses a context detached from cancellation so an interrupt
	// still persists what was fetched.
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
		defer cancel()

		summary.PapersInserted += p.insert(flushCtx, buffer)
		cp.Processed = mapKeys(done)
		if saveErr := cp.Save(p.opts.CheckpointPath, p.now()); saveErr != nil && err == nil {
			err = saveErr
		}
		p.logger.Info("checkpoint saved",
			zap.Int("processed", len(cp.Processed)),
			zap.Int("total_papers", cp.TotalPapers),
		)
	}()

	for i, name := range remaining {
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}

		log := p.logger.With(zap.String("ingredient", name), zap.Int("index", i+1), zap.Int("of", len(remaining)))

		results, searchErr := p.searcher.Search(ctx, name, p.opts.PerIngredient)
		if searchErr != nil {
			if ctx.Err() != nil {
				summary.Interrupted = true
				break
			}
			if errors.Is(searchErr, ErrRateLimited) {
				log.Warn("rate limited on every attempt, skipping ingredient")
			} else {
				log.Warn("failed to search papers, skipping ingredient", zap.Error(searchErr))
			}
		} else if len(results) == 0 {
			log.Debug("no relevant papers found")
		} else {
			log.Debug("found papers", zap.Int("count", len(results)))
			for _, r := range results {
				buffer = append(buffer, Transform(r, name))
			}
			summary.PapersFound += len(results)
			cp.TotalPapers += len(results)
		}

		done[name] = true
		summary.Processed++
		summary.Remaining--

		if (i+1)%p.opts.BatchSize == 0 {
			summary.PapersInserted += p.insert(ctx, buffer)
			buffer = nil

			cp.Processed = mapKeys(done)
			cp.LastIndex = i + 1
			if err := cp.Save(p.opts.CheckpointPath, p.now()); err != nil {
				return summary, err
			}
			log.Info("checkpoint saved",
				zap.Int("processed", len(cp.Processed)),
				zap.Int("total_papers", cp.TotalPapers),
			)
		}

		if i < len(remaining)-1 && p.opts.RequestDelay > 0 {
			if err := p.sleep(ctx, p.opts.RequestDelay); err != nil {
				summary.Interrupted = true
				break
			}
		}
	}

	if summary.Interrupted {
		p.logger.Info("interrupted, saving progress")
	}
	return summary, nil
}

// insert stores papers one at a time, skipping incomplete ones and titles
// already linked to the ingredient. Returns how many rows were written.
func (p *Populator) insert(ctx context.Context, papers []*catalog.Paper) int {
	inserted := 0
	for _, paper := range papers {
		if paper.Title == "" || paper.IngredientName == "" {
			continue
		}

		exists, err := p.store.PaperExists(ctx, paper.IngredientName, paper.Title)
		if err != nil {
			p.logger.Warn("failed to check paper", zap.String("title", paper.Title), zap.Error(err))
			continue
		}
		if exists {
			continue
		}

		ok, err := p.store.InsertPaper(ctx, paper)
		if err != nil {
			p.logger.Warn("failed to insert paper", zap.String("title", paper.Title), zap.Error(err))
			continue
		}
		if ok {
			inserted++
		}
	}

	if len(papers) > 0 {
		p.logger.Info("inserted papers", zap.Int("buffered", len(papers)), zap.Int("inserted", inserted))
	}
	return inserted
}

func mapKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
