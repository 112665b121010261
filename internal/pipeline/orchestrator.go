package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lexfield/timeliner/internal/config"
)

// Orchestrator owns the processing queue and worker pool. Submit enqueues a
// document id; workers drain the queue and run the pipeline off the
// request-serving path.
type Orchestrator struct {
	queue  chan string
	docs   DocumentStore
	texts  TextExtractor
	events EventExtractor
	log    *slog.Logger
	cfg    config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewOrchestrator creates the pipeline; call Start to launch workers.
func NewOrchestrator(cfg config.Config, docs DocumentStore, texts TextExtractor, events EventExtractor, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		queue:  make(chan string, cfg.MaxQueueSize),
		docs:   docs,
		texts:  texts,
		events: events,
		log:    log,
		cfg:    cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for i := 0; i < o.cfg.WorkerCount; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.docs, o.texts, o.events, o.log, o.cfg.ChunkSize, o.cfg.MaxConcurrentExtract)
			if o.cfg.ExtractMaxRetries > 0 {
				w.retry.maxAttempts = o.cfg.ExtractMaxRetries
			}
			for {
				select {
				case <-workerCtx.Done():
					return
				case docID, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, docID)
				}
			}
		}()
	}
}

// Stop gracefully shuts down the worker pool. Safe to call more than once;
// Submit after Stop returns an error instead of sending on the closed queue.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// Submit queues a document id for processing. The guard in Worker.Process
// keeps a duplicate submission for the same id harmless.
func (o *Orchestrator) Submit(docID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("processing queue is shut down")
	}
	select {
	case o.queue <- docID:
		return nil
	default:
		return fmt.Errorf("processing queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
