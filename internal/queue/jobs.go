package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ProcessVideoTask is scheduled when a video should be processed without
	// waiting for the next batch worker run.
	ProcessVideoTask = "video:process"
)

// ProcessPayload identifies the video a task should process.
type ProcessPayload struct {
	VideoID string `json:"video_id"`
}

// EnqueueProcess enqueues an on-demand processing job for one video.
func EnqueueProcess(ctx context.Context, client *asynq.Client, payload ProcessPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ProcessVideoTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue process task: %w", err)
	}
	return nil
}
