// Package pipeline runs the single consumer that drains the ingest
// queue, classifies each batch, and fans results out to the daily
// log, the vault, and the to-do store (spec.md §4.5).
package pipeline

import (
	"context"
	"sync"
	"time"

	"soulagent/internal/classifier"
	"soulagent/internal/dailylog"
	"soulagent/internal/logging"
	"soulagent/internal/queue"
	"soulagent/internal/todostore"
	"soulagent/internal/types"
	"soulagent/internal/vault"
)

// batchTimeout bounds how long GetBatch waits per iteration (spec.md §4.5 step 1).
const batchTimeout = 2 * time.Second

// SinkCounters tracks per-sink failure counts so a broken side-effect
// never aborts the others (spec.md §4.5 step 4, §7).
type SinkCounters struct {
	mu           sync.Mutex
	DailyLog     int64
	Vault        int64
	TodoCreate   int64
	TodoActivity int64
}

func (c *SinkCounters) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// Pipeline wires the queue to its four downstream sinks.
type Pipeline struct {
	queue      *queue.Queue
	classifier *classifier.Classifier
	dailyLog   *dailylog.Log
	vault      *vault.Store
	todos      *todostore.Store
	logger     logging.Logger

	Counters SinkCounters

	wg sync.WaitGroup
}

// New constructs a Pipeline over its dependencies.
func New(q *queue.Queue, c *classifier.Classifier, log *dailylog.Log, v *vault.Store, t *todostore.Store, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Pipeline{queue: q, classifier: c, dailyLog: log, vault: v, todos: t, logger: logger}
}

// Run drains the queue until ctx is canceled, then drains one final
// batch before returning (spec.md §4.5: "on stop it drains one final
// batch then exits"). Callers should wg.Wait or otherwise join via the
// returned goroutine's completion before shutting down dependent state.
func (p *Pipeline) Run(ctx context.Context) {
	p.wg.Add(1)
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.runIteration(context.Background())
			return
		default:
			p.runIteration(ctx)
		}
	}
}

// Wait blocks until Run has returned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) runIteration(ctx context.Context) {
	batch := p.queue.GetBatch(batchTimeout)
	if len(batch) == 0 {
		return
	}

	activeTodos, err := p.todos.Summaries()
	if err != nil {
		p.logger.Warn("pipeline: failed to load active to-dos, classifying without context", logging.F("error", err))
	}

	classified := p.classifier.Classify(ctx, batch, activeTodos)
	for _, c := range classified {
		p.fanOut(c)
	}
}

func (p *Pipeline) fanOut(c types.ClassifiedItem) {
	if err := p.dailyLog.Append(c); err != nil {
		p.Counters.inc(&p.Counters.DailyLog)
		p.logger.Warn("pipeline: daily log append failed", logging.F("error", err))
	}

	if err := p.vault.IngestText(c.Text, c.Source); err != nil {
		p.Counters.inc(&p.Counters.Vault)
		p.logger.Warn("pipeline: vault ingest failed", logging.F("error", err))
	}

	today := types.FormatDate(c.Timestamp)

	switch c.ActionType {
	case types.ActionNewTask:
		if c.ActionDetail == "" {
			return
		}
		if _, err := p.todos.Create(c.ActionDetail, types.PriorityP2, true, c.Timestamp); err != nil {
			p.Counters.inc(&p.Counters.TodoCreate)
			p.logger.Warn("pipeline: to-do creation failed", logging.F("error", err))
		}
	case types.ActionTaskProgress, types.ActionTaskDone:
		if c.RelatedTodoID == "" {
			return
		}
		if err := p.todos.RecordActivity(c.RelatedTodoID, today, string(c.Source)); err != nil {
			p.Counters.inc(&p.Counters.TodoActivity)
			p.logger.Warn("pipeline: to-do activity update failed", logging.F("error", err))
			return
		}
		if c.ActionType == types.ActionTaskDone {
			if err := p.todos.Complete(c.RelatedTodoID); err != nil {
				p.Counters.inc(&p.Counters.TodoActivity)
				p.logger.Warn("pipeline: to-do completion failed", logging.F("error", err))
			}
		}
	}
}
