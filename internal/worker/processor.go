package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/qs3c/kanchana_server/internal/pkg/queue"
)

const (
	popTimeout = 5 * time.Second
	jobTimeout = 60 * time.Second
)

var ErrInvalidJob = errors.New("invalid memory index job")

// Indexer 长期记忆写入
type Indexer interface {
	IndexMessages(ctx context.Context, ownerKey, mode string, ids []string) (int, error)
}

// JobSource 任务来源
type JobSource interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.MemoryIndexJob, error)
}

// Processor 长期记忆索引任务处理器
type Processor struct {
	indexer Indexer
	now     func() time.Time
}

// NewProcessor 创建任务处理器
func NewProcessor(indexer Indexer) *Processor {
	return &Processor{
		indexer: indexer,
		now:     time.Now,
	}
}

// Process 处理一条索引任务
func (p *Processor) Process(ctx context.Context, job *queue.MemoryIndexJob) (int, error) {
	if job == nil || job.OwnerKey == "" || len(job.MessageIDs) == 0 {
		return 0, ErrInvalidJob
	}

	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	indexed, err := p.indexer.IndexMessages(ctx, job.OwnerKey, job.Mode, job.MessageIDs)
	if err != nil {
		return 0, fmt.Errorf("index messages for %s: %w", job.OwnerKey, err)
	}

	if job.EnqueuedAt > 0 {
		lag := p.now().Unix() - job.EnqueuedAt
		log.Printf("Indexed %d/%d messages for %s (queue lag %ds)", indexed, len(job.MessageIDs), job.OwnerKey, lag)
	}
	return indexed, nil
}

// Run 启动 workers 个消费协程，ctx 取消后等待全部退出
func (p *Processor) Run(ctx context.Context, source JobSource, workers int) {
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.loop(ctx, source, workerID)
		}(i)
	}
	wg.Wait()
}

func (p *Processor) loop(ctx context.Context, source JobSource, workerID int) {
	for {
		select {
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", workerID)
			return
		default:
		}

		job, err := source.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Worker %d: failed to pop job: %v", workerID, err)
			continue
		}
		if job == nil {
			continue // 超时，继续等待
		}

		if _, err := p.Process(ctx, job); err != nil {
			log.Printf("Worker %d: job for %s failed: %v", workerID, job.OwnerKey, err)
		}
	}
}
