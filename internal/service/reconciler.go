package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kari-ai/kari-core/internal/buffer"
	"github.com/kari-ai/kari-core/internal/domain"
	"github.com/kari-ai/kari-core/internal/obs"
	"go.uber.org/zap"
)

const (
	defaultReconcilerInterval = 5 * time.Second
	// defaultDrainBudget caps entries replayed per tick so draining never
	// starves other work.
	defaultDrainBudget = 200
)

// Reconciler probes the authoritative store and replays buffered writes
// once it recovers. It owns its timer exclusively; Stop cancels it
// deterministically.
type Reconciler struct {
	authoritative domain.AuthoritativeStore
	writeBuffer   *buffer.WriteBuffer
	metrics       *obs.Metrics
	logger        *zap.Logger

	interval    time.Duration
	drainBudget int

	mu         sync.Mutex
	wasHealthy bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewReconciler(auth domain.AuthoritativeStore, wb *buffer.WriteBuffer, metrics *obs.Metrics, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		authoritative: auth,
		writeBuffer:   wb,
		metrics:       metrics,
		logger:        logger,
		interval:      defaultReconcilerInterval,
		drainBudget:   defaultDrainBudget,
		stopCh:        make(chan struct{}),
	}
}

func (r *Reconciler) SetInterval(d time.Duration) { r.interval = d }
func (r *Reconciler) SetDrainBudget(n int)        { r.drainBudget = n }

// Start runs the reconciler loop in a background goroutine.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.logger.Info("reconciler started", zap.Duration("interval", r.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				r.Tick(ctx)
				cancel()
			case <-r.stopCh:
				r.logger.Info("reconciler stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the reconciler. Safe to call more than once.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Tick runs one reconciliation round: probe health, and while the store
// is healthy replay any buffered writes in lexicographic key order up to
// the budget. Draining on every healthy tick, not just on recovery,
// covers writes parked when an upsert failed without the health probe
// ever flipping; the scan is cheap and the keyspace is TTL-bounded.
// Exposed so tests can advance the reconciler without the timer.
func (r *Reconciler) Tick(ctx context.Context) {
	healthy := r.authoritative.Health(ctx).OK

	r.mu.Lock()
	recovered := healthy && !r.wasHealthy
	r.wasHealthy = healthy
	r.mu.Unlock()

	if !healthy {
		return
	}
	if recovered {
		r.logger.Info("authoritative store healthy, checking buffer")
	}
	r.drain(ctx)
}

// drain replays up to drainBudget entries, deleting each key after a
// successful upsert. A replay failure stops the drain for this tick; the
// remaining keys are retried next tick. Returns true when the buffer is
// empty.
func (r *Reconciler) drain(ctx context.Context) bool {
	keys, err := r.writeBuffer.Keys(ctx)
	if err != nil {
		r.logger.Warn("buffer scan failed", zap.Error(err))
		return false
	}
	if len(keys) == 0 {
		return true
	}

	r.logger.Info("draining write buffer", zap.Int("pending", len(keys)))

	replayed := 0
	for _, key := range keys {
		if replayed >= r.drainBudget {
			// Budget spent; yield and continue next tick.
			return false
		}

		entry, err := r.writeBuffer.Load(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrKeyNotFound) {
				// Expired between scan and load; the write is lost.
				r.logger.Warn("buffered write expired before replay", zap.String("key", key))
				continue
			}
			r.logger.Warn("buffered write load failed", zap.String("key", key), zap.Error(err))
			return false
		}

		if err := r.authoritative.Upsert(ctx, entry); err != nil {
			r.logger.Warn("buffer replay failed, retrying next tick",
				zap.String("key", key), zap.Error(err))
			return false
		}

		if err := r.writeBuffer.Remove(ctx, key); err != nil {
			r.logger.Warn("drained key delete failed", zap.String("key", key), zap.Error(err))
			return false
		}

		replayed++
		r.metrics.BufferReplays.Inc()
	}

	r.logger.Info("buffer drain complete", zap.Int("replayed", replayed))
	return true
}
