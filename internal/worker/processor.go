package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"vodworks/internal/queue"
	"vodworks/internal/repository"
)

// Processor plugs the pipeline into the asynq worker loop for on-demand
// processing requests.
type Processor struct {
	pipeline Pipeline
}

// NewProcessor constructs an asynq task processor.
func NewProcessor(pipeline Pipeline) *Processor {
	return &Processor{pipeline: pipeline}
}

// Handler registers the process-video task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ProcessVideoTask, p.handleProcess)
	return mux
}

func (p *Processor) handleProcess(ctx context.Context, task *asynq.Task) error {
	var payload queue.ProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	err := p.pipeline.Process(ctx, payload.VideoID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrAlreadyClaimed):
		// The batch worker or another task beat us to it.
		log.Printf("task: %s already claimed, dropping", payload.VideoID)
		return nil
	case errors.Is(err, repository.ErrNotFound):
		// Deleted between enqueue and execution; retrying cannot help.
		log.Printf("task: %s no longer exists, dropping", payload.VideoID)
		return nil
	default:
		return err
	}
}
