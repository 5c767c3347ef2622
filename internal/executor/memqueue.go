package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// MemQueue is an in-process queue used when no external scheduler is
// configured. It schedules jobs dependency-first across a bounded group of
// goroutines, each job running through the supplied runner.
type MemQueue struct {
	workers int
	runner  func(ctx context.Context, jobID string) error

	mu   sync.Mutex
	runs map[string]*memRun
}

type memRun struct {
	states map[string]JobState
	done   bool
}

// NewMemQueue creates an in-process queue with the given concurrency bound.
func NewMemQueue(workers int, runner func(ctx context.Context, jobID string) error) *MemQueue {
	if workers < 1 {
		workers = 1
	}
	return &MemQueue{
		workers: workers,
		runner:  runner,
		runs:    make(map[string]*memRun),
	}
}

// Submit implements Queue. The job graph starts executing immediately in the
// background; progress is observed through Poll.
func (q *MemQueue) Submit(ctx context.Context, runID string, jobs []Job) error {
	run := &memRun{states: make(map[string]JobState, len(jobs))}
	for _, j := range jobs {
		run.states[j.ID] = JobPending
	}

	q.mu.Lock()
	if _, exists := q.runs[runID]; exists {
		q.mu.Unlock()
		return fmt.Errorf("run %s already submitted", runID)
	}
	q.runs[runID] = run
	q.mu.Unlock()

	go q.execute(ctx, run, jobs)
	return nil
}

// Poll implements Queue.
func (q *MemQueue) Poll(ctx context.Context, runID string) (map[string]JobState, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	run, ok := q.runs[runID]
	if !ok {
		return nil, false, fmt.Errorf("unknown run %s", runID)
	}
	states := make(map[string]JobState, len(run.states))
	for id, s := range run.states {
		states[id] = s
	}
	return states, run.done, nil
}

type memJob struct {
	job        Job
	depCount   atomic.Int32
	dependents []*memJob
	skipOnce   sync.Once
}

// execute drains the job graph: ready jobs enter a bounded errgroup, a
// failure skips its transitive dependents, everything else proceeds.
func (q *MemQueue) execute(ctx context.Context, run *memRun, jobs []Job) {
	index := make(map[string]*memJob, len(jobs))
	for _, j := range jobs {
		index[j.ID] = &memJob{job: j}
	}
	for _, j := range jobs {
		mj := index[j.ID]
		mj.depCount.Store(int32(len(j.DependsOn)))
		for _, dep := range j.DependsOn {
			index[dep].dependents = append(index[dep].dependents, mj)
		}
	}

	ready := make(chan *memJob, len(jobs))
	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for _, j := range jobs {
		if mj := index[j.ID]; mj.depCount.Load() == 0 {
			ready <- mj
		}
	}
	go func() {
		wg.Wait()
		close(ready)
	}()

	g := new(errgroup.Group)
	g.SetLimit(q.workers)

	var skip func(*memJob)
	skip = func(mj *memJob) {
		for _, d := range mj.dependents {
			d.skipOnce.Do(func() {
				q.setState(run, d.job.ID, JobSkipped)
				wg.Done()
				skip(d)
			})
		}
	}

	for mj := range ready {
		mj := mj
		g.Go(func() error {
			if q.state(run, mj.job.ID) != JobPending {
				return nil
			}
			q.setState(run, mj.job.ID, JobRunning)

			if err := q.runner(ctx, mj.job.ID); err != nil {
				q.setState(run, mj.job.ID, JobFailed)
				wg.Done()
				skip(mj)
				return nil
			}

			q.setState(run, mj.job.ID, JobDone)
			wg.Done()
			for _, d := range mj.dependents {
				if d.depCount.Add(-1) == 0 {
					ready <- d
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	q.mu.Lock()
	run.done = true
	q.mu.Unlock()
}

func (q *MemQueue) state(run *memRun, id string) JobState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return run.states[id]
}

func (q *MemQueue) setState(run *memRun, id string, s JobState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	run.states[id] = s
}
