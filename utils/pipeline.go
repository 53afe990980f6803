package utils

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// PipelineResult 执行结果统计
type PipelineResult struct {
	TotalItems     int
	ProcessedItems int64
	OutputRows     int64
	Errors         []error
	Duration       time.Duration
}

// Pipeline runs process over inputs with bounded concurrency and hands
// every result to a single consumer goroutine, so consume needs no locking.
type Pipeline[I, O any] struct {
	concurrency int
	bufferSize  int
	failFast    bool

	processedItems atomic.Int64
	outputRows     atomic.Int64

	errors []error
	errMu  sync.Mutex
}

type PipelineOption func(*pipelineConfig)

type pipelineConfig struct {
	concurrency int
	bufferSize  int
	failFast    bool
}

func WithConcurrency(n int) PipelineOption {
	return func(c *pipelineConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithBufferSize(n int) PipelineOption {
	return func(c *pipelineConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithFailFast stops starting new inputs once one input or consume call
// has failed. Inputs already running get a cancelled context.
func WithFailFast() PipelineOption {
	return func(c *pipelineConfig) { c.failFast = true }
}

// NewPipeline defaults to one worker; callers talking to a rate limited
// service raise it explicitly.
func NewPipeline[I, O any](opts ...PipelineOption) *Pipeline[I, O] {
	cfg := &pipelineConfig{concurrency: 1}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.bufferSize == 0 {
		cfg.bufferSize = cfg.concurrency * 4
	}
	return &Pipeline[I, O]{
		concurrency: cfg.concurrency,
		bufferSize:  cfg.bufferSize,
		failFast:    cfg.failFast,
	}
}

type batchResult[O any] struct {
	Rows []O
	Err  error
}

// Run processes every input unless ctx is done first; inputs not started
// by then are counted as errors. Without WithFailFast an error never stops
// the other inputs.
func (p *Pipeline[I, O]) Run(
	ctx context.Context,
	inputs []I,
	process func(ctx context.Context, input I) ([]O, error),
	consume func(rows []O) error,
) *PipelineResult {
	startTime := time.Now()

	p.processedItems.Store(0)
	p.outputRows.Store(0)
	p.errors = nil

	if len(inputs) == 0 {
		return &PipelineResult{Duration: time.Since(startTime)}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	failed := func() {
		if p.failFast {
			cancel()
		}
	}

	resultChan := make(chan batchResult[O], p.bufferSize)
	sem := make(chan struct{}, p.concurrency)

	var consumerWg sync.WaitGroup
	consumerWg.Add(1)
	go func() {
		defer consumerWg.Done()
		for batch := range resultChan {
			if batch.Err != nil {
				p.collectError(batch.Err)
				continue
			}
			if len(batch.Rows) > 0 {
				if err := consume(batch.Rows); err != nil {
					p.collectError(fmt.Errorf("consume error: %w", err))
					failed()
					continue
				}
				p.outputRows.Add(int64(len(batch.Rows)))
			}
		}
	}()

	var producerWg sync.WaitGroup
	for _, input := range inputs {
		producerWg.Add(1)
		go func() {
			defer producerWg.Done()

			if err := ctx.Err(); err != nil {
				resultChan <- batchResult[O]{Err: err}
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				resultChan <- batchResult[O]{Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			// sem 和 ctx.Done 同时就绪时 select 随机选一个
			if err := ctx.Err(); err != nil {
				resultChan <- batchResult[O]{Err: err}
				return
			}

			rows, err := p.safeProcess(ctx, process, input)
			resultChan <- batchResult[O]{Rows: rows, Err: err}
			if err != nil {
				failed()
				return
			}
			p.processedItems.Add(1)
		}()
	}

	producerWg.Wait()
	close(resultChan)
	consumerWg.Wait()

	return &PipelineResult{
		TotalItems:     len(inputs),
		ProcessedItems: p.processedItems.Load(),
		OutputRows:     p.outputRows.Load(),
		Errors:         p.getErrors(),
		Duration:       time.Since(startTime),
	}
}

func (p *Pipeline[I, O]) safeProcess(ctx context.Context, process func(context.Context, I) ([]O, error), input I) (rows []O, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing input: %v", r)
		}
	}()
	return process(ctx, input)
}

func (p *Pipeline[I, O]) collectError(err error) {
	p.errMu.Lock()
	p.errors = append(p.errors, err)
	p.errMu.Unlock()
}

func (p *Pipeline[I, O]) getErrors() []error {
	p.errMu.Lock()
	defer p.errMu.Unlock()

	if len(p.errors) == 0 {
		return nil
	}
	result := make([]error, len(p.errors))
	copy(result, p.errors)
	return result
}

func (r *PipelineResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// FirstError is the first error the consumer received. Inputs run in no
// particular order, so it need not belong to the earliest input. With
// WithFailFast it is the error that triggered the stop, not one of the
// cancellations that followed.
func (r *PipelineResult) FirstError() error {
	if len(r.Errors) > 0 {
		return r.Errors[0]
	}
	return nil
}

func (r *PipelineResult) ErrorSummary() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("%d errors, first: %v", len(r.Errors), r.Errors[0])
}
