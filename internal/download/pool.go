package download

import (
	"context"
	"log/slog"
	"sync"
)

// Job is one archive to fetch into the cache.
type Job struct {
	URL              string
	ExpectedChecksum string
}

// Result is the outcome of a Job. Results keep the order of their jobs.
type Result struct {
	Job   Job
	Fetch *FetchResult
	Error error
}

// Pool fetches several archives concurrently into one cache directory.
type Pool struct {
	client     *Client
	workers    int
	cacheDir   string
	retryCount int
	logger     *slog.Logger
}

// NewPool creates a pool with the given number of worker goroutines.
func NewPool(client *Client, workers int, cacheDir string, retryCount int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		client:     client,
		workers:    workers,
		cacheDir:   cacheDir,
		retryCount: retryCount,
		logger:     logger,
	}
}

// Execute runs every job and waits for all of them. Jobs not started before
// ctx is cancelled report ctx.Err().
func (p *Pool) Execute(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexes {
				results[idx] = p.run(ctx, jobs[idx])
			}
		}()
	}

	next := 0
feed:
	for ; next < len(jobs); next++ {
		select {
		case indexes <- next:
		case <-ctx.Done():
			break feed
		}
	}
	close(indexes)
	wg.Wait()

	for ; next < len(jobs); next++ {
		results[next] = Result{Job: jobs[next], Error: ctx.Err()}
	}
	return results
}

func (p *Pool) run(ctx context.Context, job Job) Result {
	res, err := p.client.Fetch(ctx, FetchOptions{
		URL:              job.URL,
		CacheDir:         p.cacheDir,
		ExpectedChecksum: job.ExpectedChecksum,
		RetryCount:       p.retryCount,
	})
	if err != nil {
		p.logger.Error("fetch job failed", "url", job.URL, "error", err)
		return Result{Job: job, Error: err}
	}
	p.logger.Info("fetch job completed", "url", job.URL, "path", res.Path, "size", res.Size, "cached", res.Cached)
	return Result{Job: job, Fetch: res}
}
