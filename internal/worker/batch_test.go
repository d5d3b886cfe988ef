package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"vodworks/internal/model"
	"vodworks/internal/repository"
)

type stubSource struct {
	videos []model.Video
	err    error
	calls  int
}

func (s *stubSource) FindReadyForProcessing(_ context.Context, limit int) ([]model.Video, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.videos) > limit {
		return s.videos[:limit], nil
	}
	return s.videos, nil
}

type stubPipeline struct {
	mu        sync.Mutex
	processed []string
	inFlight  int
	peak      int
	failIDs   map[string]error
	delay     time.Duration
}

func (p *stubPipeline) Process(_ context.Context, videoID string) error {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.peak {
		p.peak = p.inFlight
	}
	p.mu.Unlock()
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	p.inFlight--
	p.processed = append(p.processed, videoID)
	p.mu.Unlock()
	if err, ok := p.failIDs[videoID]; ok {
		return err
	}
	return nil
}

type stubTool struct{ err error }

func (t *stubTool) Available() error { return t.err }

func uploaded(ids ...string) []model.Video {
	out := make([]model.Video, len(ids))
	for i, id := range ids {
		out[i] = model.Video{VideoID: id, Status: model.StatusUploaded}
	}
	return out
}

func TestRunProcessesAllVideos(t *testing.T) {
	source := &stubSource{videos: uploaded("a", "b", "c", "d", "e")}
	pipeline := &stubPipeline{}
	batch := NewBatch(source, pipeline, []Tool{&stubTool{}}, 10, 3)

	report, err := batch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Total != 5 || report.Succeeded != 5 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
	if len(pipeline.processed) != 5 {
		t.Errorf("processed %d videos, want 5", len(pipeline.processed))
	}
}

// One throwing pipeline must not keep siblings from settling.
func TestRunFaultIsolation(t *testing.T) {
	source := &stubSource{videos: uploaded("a", "b", "c", "d")}
	pipeline := &stubPipeline{failIDs: map[string]error{"b": errors.New("transcode blew up")}}
	batch := NewBatch(source, pipeline, []Tool{&stubTool{}}, 10, 3)

	report, err := batch.Run(context.Background())
	if err != nil {
		t.Fatalf("run should not fail for a per-video error: %v", err)
	}
	if report.Succeeded != 3 || report.Failed != 1 {
		t.Errorf("report = %+v, want 3 ok / 1 failed", report)
	}
	if len(pipeline.processed) != 4 {
		t.Errorf("processed %d videos, want all 4", len(pipeline.processed))
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	source := &stubSource{videos: uploaded("a", "b", "c", "d", "e", "f", "g")}
	pipeline := &stubPipeline{delay: 20 * time.Millisecond}
	batch := NewBatch(source, pipeline, []Tool{&stubTool{}}, 10, 3)

	if _, err := batch.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if pipeline.peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", pipeline.peak)
	}
}

func TestRunSkipsClaimedVideos(t *testing.T) {
	source := &stubSource{videos: uploaded("a", "b")}
	pipeline := &stubPipeline{failIDs: map[string]error{
		"a": fmt.Errorf("video a: %w", repository.ErrAlreadyClaimed),
	}}
	batch := NewBatch(source, pipeline, []Tool{&stubTool{}}, 10, 3)

	report, err := batch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Skipped != 1 || report.Succeeded != 1 || report.Failed != 0 {
		t.Errorf("report = %+v, want 1 skipped / 1 ok", report)
	}
}

// A missing tool aborts the whole run before any video is touched.
func TestRunMissingToolIsFatal(t *testing.T) {
	source := &stubSource{videos: uploaded("a")}
	pipeline := &stubPipeline{}
	tools := []Tool{&stubTool{}, &stubTool{err: errors.New("exec: \"ffprobe\": executable file not found in $PATH")}}
	batch := NewBatch(source, pipeline, tools, 10, 3)

	_, err := batch.Run(context.Background())
	if !errors.Is(err, ErrToolsUnavailable) {
		t.Fatalf("err = %v, want ErrToolsUnavailable", err)
	}
	if source.calls != 0 {
		t.Error("repository must not be queried when tools are missing")
	}
	if len(pipeline.processed) != 0 {
		t.Error("no video may be processed when tools are missing")
	}
}

func TestRunRespectsLimit(t *testing.T) {
	source := &stubSource{videos: uploaded("a", "b", "c", "d")}
	pipeline := &stubPipeline{}
	batch := NewBatch(source, pipeline, []Tool{&stubTool{}}, 2, 3)

	report, err := batch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Total != 2 {
		t.Errorf("total = %d, want limit 2", report.Total)
	}
}
