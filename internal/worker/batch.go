// Package worker drives video processing: a single-shot batch run intended
// for periodic invocation, and an asynq handler for on-demand jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"vodworks/internal/model"
	"vodworks/internal/repository"
)

// ErrToolsUnavailable aborts a batch run before any per-video work when the
// external probing or transcoding binaries cannot be invoked.
var ErrToolsUnavailable = errors.New("required external tools unavailable")

// VideoSource supplies videos awaiting processing.
type VideoSource interface {
	FindReadyForProcessing(ctx context.Context, limit int) ([]model.Video, error)
}

// Pipeline processes one video end to end.
type Pipeline interface {
	Process(ctx context.Context, videoID string) error
}

// Tool is anything whose availability must be verified up front.
type Tool interface {
	Available() error
}

// Report summarizes one batch run.
type Report struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
}

// Batch polls the repository for uploaded videos and drives the pipeline
// over them in bounded concurrent groups.
type Batch struct {
	source    VideoSource
	pipeline  Pipeline
	tools     []Tool
	limit     int
	groupSize int
}

// NewBatch constructs a batch worker. groupSize bounds how many pipelines
// run at once; groups run sequentially relative to each other.
func NewBatch(source VideoSource, pipeline Pipeline, tools []Tool, limit, groupSize int) *Batch {
	if limit <= 0 {
		limit = 10
	}
	if groupSize <= 0 {
		groupSize = 3
	}
	return &Batch{source: source, pipeline: pipeline, tools: tools, limit: limit, groupSize: groupSize}
}

// Run executes one batch. Videos within a group settle independently: a
// failing pipeline is logged and counted but never blocks or cancels its
// siblings, and the next group proceeds regardless. Missing tools are fatal
// to the whole run.
func (b *Batch) Run(ctx context.Context) (*Report, error) {
	for _, tool := range b.tools {
		if err := tool.Available(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrToolsUnavailable, err)
		}
	}

	videos, err := b.source.FindReadyForProcessing(ctx, b.limit)
	if err != nil {
		return nil, fmt.Errorf("query uploaded videos: %w", err)
	}
	report := &Report{Total: len(videos)}
	if len(videos) == 0 {
		log.Printf("batch: nothing to do")
		return report, nil
	}
	log.Printf("batch: processing %d video(s) in groups of %d", len(videos), b.groupSize)

	for start := 0; start < len(videos); start += b.groupSize {
		group := videos[start:min(start+b.groupSize, len(videos))]
		results := make([]error, len(group))
		var g errgroup.Group
		for i := range group {
			i := i
			videoID := group[i].VideoID
			g.Go(func() error {
				// Failures are recorded, not returned: one video must never
				// cancel its group.
				results[i] = b.pipeline.Process(ctx, videoID)
				return nil
			})
		}
		_ = g.Wait()
		for i, err := range results {
			switch {
			case err == nil:
				report.Succeeded++
			case errors.Is(err, repository.ErrAlreadyClaimed):
				report.Skipped++
				log.Printf("batch: %s already claimed, skipping", group[i].VideoID)
			default:
				report.Failed++
				log.Printf("batch: %s failed: %v", group[i].VideoID, err)
			}
		}
	}
	log.Printf("batch: done, %d ok / %d failed / %d skipped", report.Succeeded, report.Failed, report.Skipped)
	return report, nil
}
