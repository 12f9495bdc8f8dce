package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/agentplane/agentplane/internal/config"
	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/repository"
)

// TaskRunner is the slice of the task lifecycle the pool drives: claiming,
// executing and lease reaping.
type TaskRunner interface {
	ClaimNext(ctx context.Context) (*domain.Task, error)
	Run(ctx context.Context, task *domain.Task)
	ReapExpired(ctx context.Context, limit int) (int, error)
}

const reapBatchSize = 50

// Pool runs a fixed set of claim-and-execute workers plus one lease reaper.
// Workers poll when the queue is empty and stop when the context is
// cancelled; in-flight tasks finish before Wait returns.
type Pool struct {
	runner TaskRunner
	cfg    config.WorkerConfig
	wg     sync.WaitGroup
}

func NewPool(runner TaskRunner, cfg config.WorkerConfig) *Pool {
	return &Pool{runner: runner, cfg: cfg}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Count; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.work(ctx, id)
		}(i)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reap(ctx)
	}()

	log.Printf("[WORKER] started %d workers, poll %s, reap %s",
		p.cfg.Count, p.cfg.PollInterval, p.cfg.ReapInterval)
}

// Wait blocks until every worker has observed cancellation and finished its
// current task.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		task, err := p.runner.ClaimNext(ctx)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) && ctx.Err() == nil {
				log.Printf("[WORKER] worker %d claim failed: %v", id, err)
			}
			if !sleep(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}

		p.runner.Run(ctx, task)
	}
}

func (p *Pool) reap(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.runner.ReapExpired(ctx, reapBatchSize)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("[WORKER] lease reap failed: %v", err)
				}
				continue
			}
			if n > 0 {
				log.Printf("[WORKER] reaped %d expired leases", n)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
