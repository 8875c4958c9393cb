package importer

import (
	"context"

	"assetstore/internal/livehandle"
	"assetstore/internal/model"
)

type importJob struct {
	ctx      context.Context
	archive  ArchiveReader
	resultCh chan<- importResult
}

type importResult struct {
	handle *livehandle.Handle[model.BeatmapSet]
	err    error
}

// queue is a buffered-channel-backed single-worker loop: the minimal
// idiomatic realization of "serial task queue, concurrency one" — a
// sized worker pool would be the wrong tool here, since this spec's
// concurrency need is strictly one in flight, never more.
type queue struct {
	jobs chan importJob
}

func newQueue(importer *Importer) *queue {
	q := &queue{jobs: make(chan importJob, 64)}
	go q.run(importer)
	return q
}

func (q *queue) run(importer *Importer) {
	for job := range q.jobs {
		handle, err := importer.Import(job.ctx, job.archive)
		job.resultCh <- importResult{handle: handle, err: err}
	}
}

func (q *queue) submit(ctx context.Context, archive ArchiveReader) (*livehandle.Handle[model.BeatmapSet], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resultCh := make(chan importResult, 1)
	q.jobs <- importJob{ctx: ctx, archive: archive, resultCh: resultCh}
	res := <-resultCh
	return res.handle, res.err
}

// Scheduler holds the two serial queues ("normal" and "low-priority")
// imports are submitted to.
type Scheduler struct {
	normal      *queue
	lowPriority *queue
}

// NewScheduler builds a Scheduler that runs every job through importer.
func NewScheduler(importer *Importer) *Scheduler {
	return &Scheduler{
		normal:      newQueue(importer),
		lowPriority: newQueue(importer),
	}
}

// Submit enqueues archive on the normal or low-priority queue and
// blocks until that job runs. ctx.Err() is checked before enqueueing
// (so a cancelled caller never even joins the queue) and is re-checked
// by the importer at the start of its transaction and before each
// expensive sub-step.
func (s *Scheduler) Submit(ctx context.Context, archive ArchiveReader, lowPriority bool) (*livehandle.Handle[model.BeatmapSet], error) {
	if lowPriority {
		return s.lowPriority.submit(ctx, archive)
	}
	return s.normal.submit(ctx, archive)
}
