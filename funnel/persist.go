package funnel

import (
	"context"
	"sync"

	"advisor/schemas"
)

type persistJob struct {
	ctx  context.Context
	seq  uint64
	lead schemas.Lead
	done chan schemas.PersistResult
}

// persistQueue runs a session's checkpoints one at a time in dispatch
// order, so an older snapshot can never land after a newer one.
type persistQueue struct {
	mu     sync.Mutex
	jobs   []persistJob
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newPersistQueue() *persistQueue {
	return &persistQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (q *persistQueue) push(job persistJob) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *persistQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *persistQueue) run(handle func(persistJob)) {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			if len(q.jobs) == 0 {
				closed := q.closed
				q.mu.Unlock()
				if closed {
					return
				}
				break
			}
			job := q.jobs[0]
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			handle(job)
		}
	}
}

// close stops accepting jobs and waits for the queued ones to finish.
func (q *persistQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.signal()
	<-q.done
}

func (s *Session) enqueueLocked(ctx context.Context, wait bool) persistJob {
	s.seq++
	job := persistJob{
		ctx:  context.WithoutCancel(ctx),
		seq:  s.seq,
		lead: s.lead,
	}
	if wait {
		job.done = make(chan schemas.PersistResult, 1)
	}
	if !s.queue.push(job) && job.done != nil {
		job.done <- schemas.PersistResult{Status: schemas.PersistError, Seq: job.seq, Err: ErrSessionClosed}
	}
	return job
}

func (s *Session) runPersist(job persistJob) {
	res := schemas.PersistResult{Status: schemas.PersistSkipped}
	if s.persister != nil {
		ctx, cancel := context.WithTimeout(job.ctx, s.persistTimeout)
		res = s.persister.Persist(ctx, s.cfg.Target(), job.lead)
		cancel()
	}
	res.Seq = job.seq

	if res.Failed() {
		s.logger.Error("checkpoint not saved", "seq", res.Seq, "error", res.Err)
	} else {
		s.logger.Debug("checkpoint saved", "seq", res.Seq, "status", res.Status, "row_id", res.RowID)
	}

	s.mu.Lock()
	s.outbox = append(s.outbox, schemas.StepEvent{
		SessionID: s.id,
		Action:    schemas.EventPersisted,
		Step:      s.step,
		Lead:      job.lead,
		Persist:   &res,
		CreatedAt: s.clock.Now(),
	})
	s.mu.Unlock()
	s.flush()

	if job.done != nil {
		job.done <- res
	}
}
