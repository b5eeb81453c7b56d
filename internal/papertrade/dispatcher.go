package papertrade

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"papertrade-core/internal/safety"
	"papertrade-core/pkg/trading"
)

// ErrDispatcherClosed is returned for batches submitted after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// submitFunc is Service.Submit; tests swap it.
type submitFunc func(ctx context.Context, req safety.InboundRequest) (*trading.SimulatedOrder, error)

// Dispatcher runs multi-order submissions on a bounded worker pool.
type Dispatcher struct {
	submit     submitFunc
	workerPool chan struct{}
	wg         sync.WaitGroup
	closed     bool
	mu         sync.Mutex
	log        *zap.Logger
}

// Result is the outcome of one order in a batch.
type Result struct {
	Index     int                     `json:"index"`
	Order     *trading.SimulatedOrder `json:"order,omitempty"`
	Success   bool                    `json:"success"`
	Error     error                   `json:"-"`
	ErrorMsg  string                  `json:"error,omitempty"`
	Latency   time.Duration           `json:"latencyNs"`
	Timestamp time.Time               `json:"timestamp"`
}

// NewDispatcher creates a dispatcher with the given worker count.
func NewDispatcher(svc *Service, workers int, logger *zap.Logger) *Dispatcher {
	return newDispatcher(svc.Submit, workers, logger)
}

func newDispatcher(submit submitFunc, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		submit:     submit,
		workerPool: make(chan struct{}, workers),
		log:        logger,
	}
}

// SubmitBatch runs every request through the guard and the engine
// concurrently and returns results in request order. Each request is
// certified on its own; one blocked order does not stop the others.
func (d *Dispatcher) SubmitBatch(ctx context.Context, reqs []safety.InboundRequest) ([]Result, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDispatcherClosed
	}
	d.wg.Add(len(reqs))
	d.mu.Unlock()

	results := make([]Result, len(reqs))
	var batch sync.WaitGroup
	batch.Add(len(reqs))

	for i, req := range reqs {
		select {
		case d.workerPool <- struct{}{}:
		case <-ctx.Done():
			for j := i; j < len(reqs); j++ {
				results[j] = failed(j, ctx.Err())
				batch.Done()
				d.wg.Done()
			}
			batch.Wait()
			return results, ctx.Err()
		}

		go func(i int, req safety.InboundRequest) {
			defer d.wg.Done()
			defer batch.Done()
			defer func() { <-d.workerPool }()

			start := time.Now()
			order, err := d.submit(ctx, req)
			res := Result{
				Index:     i,
				Order:     order,
				Success:   err == nil,
				Error:     err,
				Latency:   time.Since(start),
				Timestamp: time.Now(),
			}
			if err != nil {
				res.ErrorMsg = err.Error()
				d.log.Debug("batch order failed", zap.Int("index", i), zap.Error(err))
			}
			results[i] = res
		}(i, req)
	}

	batch.Wait()
	return results, nil
}

func failed(i int, err error) Result {
	return Result{Index: i, Error: err, ErrorMsg: err.Error(), Timestamp: time.Now()}
}

// Pending returns the number of busy workers.
func (d *Dispatcher) Pending() int {
	return len(d.workerPool)
}

// Close stops accepting batches and waits for running ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
