// Package ingest persists inbound messages of authorized connections.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/tgcapture/internal/domain"
	"github.com/ashureev/tgcapture/internal/telegram"
)

const (
	defaultQueueSize = 256
	stopTimeout      = 5 * time.Second
	slowWrite        = 100 * time.Millisecond
)

// Store is the persistence the pipeline writes through.
type Store interface {
	IdentityStore
	SaveMessage(ctx context.Context, sender *domain.User, chat *domain.Chat, text string, createdAt time.Time) (*domain.PersistedMessage, error)
}

// Pipeline runs one ordered queue and worker per attached connection.
type Pipeline struct {
	store     Store
	resolver  *Resolver
	queueSize int
	logger    *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
}

// NewPipeline creates a pipeline persisting into store. A non-positive
// queueSize uses the default.
func NewPipeline(store Store, queueSize int, logger *slog.Logger) *Pipeline {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     store,
		resolver:  NewResolver(store),
		queueSize: queueSize,
		logger:    logger,
		workers:   make(map[string]*worker),
	}
}

type worker struct {
	key         string
	queue       chan domain.InboundMessageEvent
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Attach subscribes to client's inbound messages and starts a worker for
// identityKey, replacing any worker already attached for it.
func (p *Pipeline) Attach(identityKey string, client telegram.Client) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		key:    identityKey,
		queue:  make(chan domain.InboundMessageEvent, p.queueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	w.wg.Add(1)
	go p.run(w)

	// Subscribing and publishing happen together so a concurrent Detach never
	// sees a worker without its unsubscribe.
	p.mu.Lock()
	w.unsubscribe = client.Subscribe(func(ev domain.InboundMessageEvent) {
		p.enqueue(w, ev)
	})
	previous := p.workers[identityKey]
	p.workers[identityKey] = w
	p.mu.Unlock()

	if previous != nil {
		p.stop(previous)
	}

	p.logger.Info("[INGEST] Attached", "identity", identityKey, "queue_capacity", p.queueSize)
}

// Detach stops ingestion for identityKey. Queued events not yet persisted are
// dropped. Detaching an unknown key is a no-op.
func (p *Pipeline) Detach(identityKey string) {
	p.mu.Lock()
	w := p.workers[identityKey]
	delete(p.workers, identityKey)
	p.mu.Unlock()

	if w != nil {
		p.stop(w)
	}
}

// Close detaches every connection.
func (p *Pipeline) Close() {
	p.mu.Lock()
	workers := p.workers
	p.workers = make(map[string]*worker)
	p.mu.Unlock()

	for _, w := range workers {
		p.stop(w)
	}
}

// enqueue runs on the client's update goroutine. A full queue blocks delivery
// until the worker catches up, so events are never reordered or skipped.
func (p *Pipeline) enqueue(w *worker, ev domain.InboundMessageEvent) {
	select {
	case w.queue <- ev:
		return
	case <-w.ctx.Done():
		w.dropped.Add(1)
		return
	default:
	}

	p.logger.Warn("[INGEST] Queue full, applying backpressure",
		"identity", w.key,
		"queue_len", len(w.queue),
	)
	select {
	case w.queue <- ev:
	case <-w.ctx.Done():
		w.dropped.Add(1)
	}
}

func (p *Pipeline) run(w *worker) {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev := <-w.queue:
			start := time.Now()
			if err := p.handle(w.ctx, w.key, ev); err != nil {
				w.failed.Add(1)
				p.logger.Error("[INGEST] Dropping message", "identity", w.key, "chat_id", ev.ChatID, "error", err)
				continue
			}
			w.processed.Add(1)

			if d := time.Since(start); d > slowWrite {
				p.logger.Warn("[INGEST] Slow message write", "identity", w.key, "duration_ms", d.Milliseconds())
			}
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, identityKey string, ev domain.InboundMessageEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &IngestionError{
				IdentityKey: identityKey,
				Stage:       StagePanic,
				ChatID:      ev.ChatID,
				SenderID:    ev.SenderID,
				Err:         fmt.Errorf("%v", r),
			}
		}
	}()

	sender, chat, err := p.resolver.Resolve(ctx, ev)
	if err != nil {
		return &IngestionError{IdentityKey: identityKey, Stage: StageResolve, ChatID: ev.ChatID, SenderID: ev.SenderID, Err: err}
	}

	msg, err := p.store.SaveMessage(ctx, sender, chat, ev.Text, ev.Timestamp)
	if err != nil {
		return &IngestionError{IdentityKey: identityKey, Stage: StagePersist, ChatID: ev.ChatID, SenderID: ev.SenderID, Err: err}
	}

	p.logger.Debug("[INGEST] Message stored",
		"identity", identityKey,
		"message_id", msg.ID,
		"chat_id", chat.ID,
		"sender_id", sender.ID,
	)
	return nil
}

func (p *Pipeline) stop(w *worker) {
	if w.unsubscribe != nil {
		w.unsubscribe()
	}
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		p.logger.Warn("[INGEST] Worker shutdown timeout", "identity", w.key)
	}

	dropped := w.dropped.Load() + int64(len(w.queue))
	if dropped > 0 {
		p.logger.Warn("[INGEST] Dropped queued messages", "identity", w.key, "count", dropped)
	}
	p.logger.Info("[INGEST] Detached",
		"identity", w.key,
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
}

// Stats returns per-identity queue statistics.
func (p *Pipeline) Stats() []map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.workers))
	for key := range p.workers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	stats := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		w := p.workers[key]
		stats = append(stats, map[string]interface{}{
			"identity":       key,
			"queue_len":      len(w.queue),
			"queue_capacity": cap(w.queue),
			"processed":      w.processed.Load(),
			"failed":         w.failed.Load(),
		})
	}
	return stats
}
