package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"vodworks/internal/media"
	"vodworks/internal/model"
	"vodworks/internal/repository"
)

type fakeRepo struct {
	mu         sync.Mutex
	videos     map[string]*model.Video
	hlsCalls   [][2]string
	thumbCalls []string
}

func newFakeRepo(ids ...string) *fakeRepo {
	r := &fakeRepo{videos: make(map[string]*model.Video)}
	for _, id := range ids {
		r.videos[id] = &model.Video{
			VideoID:      id,
			OriginalPath: "videos/" + id + "/" + id + "_1700000000000.mp4",
			Status:       model.StatusUploaded,
		}
	}
	return r
}

func (r *fakeRepo) FindByVideoID(_ context.Context, id string) (*model.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *v
	return &copied, nil
}

func (r *fakeRepo) ClaimForProcessing(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return repository.ErrNotFound
	}
	if v.Status != model.StatusUploaded {
		return repository.ErrAlreadyClaimed
	}
	v.Status = model.StatusProcessing
	return nil
}

func (r *fakeRepo) Update(_ context.Context, id string, upd repository.MetadataUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return repository.ErrNotFound
	}
	if upd.Duration != nil {
		v.Duration = *upd.Duration
	}
	return nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, id string, status model.ProcessingStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !v.Status.CanTransition(status) {
		return model.ErrIllegalTransition
	}
	v.Status = status
	v.ProcessingError = errMsg
	return nil
}

func (r *fakeRepo) UpdateHLS(_ context.Context, id, playlist, segments string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return repository.ErrNotFound
	}
	v.HLSPlaylistPath = &playlist
	v.HLSSegmentsPath = &segments
	v.Status = model.StatusReady
	r.hlsCalls = append(r.hlsCalls, [2]string{playlist, segments})
	return nil
}

func (r *fakeRepo) UpdateThumbnail(_ context.Context, id, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.videos[id]; !ok {
		return repository.ErrNotFound
	}
	r.videos[id].ThumbnailPath = &path
	r.thumbCalls = append(r.thumbCalls, path)
	return nil
}

func (r *fakeRepo) status(id string) model.ProcessingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.videos[id].Status
}

type fakeStore struct {
	mu      sync.Mutex
	uploads map[string]string // key -> content type
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: make(map[string]string)}
}

func (s *fakeStore) DownloadTo(_ context.Context, key, localPath string) error {
	return os.WriteFile(localPath, []byte("source-bytes:"+key), 0o644)
}

func (s *fakeStore) UploadFile(_ context.Context, key, localPath, contentType string) error {
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[key] = contentType
	return nil
}

type fakeProber struct {
	err     error
	noAudio bool
}

func (p *fakeProber) Probe(_ context.Context, _ string) (*model.Metadata, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &model.Metadata{Duration: "00:01:30", Width: 1920, Height: 1080, Codec: "h264", FrameRate: 29.97, HasAudio: !p.noAudio}, nil
}

type fakeTranscoder struct {
	transcodeErr error
	thumbErr     error
	lastOpts     media.Options
}

func (t *fakeTranscoder) Transcode(_ context.Context, _, outputDir string, opts media.Options) (*media.Result, error) {
	t.lastOpts = opts
	if t.transcodeErr != nil {
		return nil, t.transcodeErr
	}
	if err := os.MkdirAll(filepath.Join(outputDir, "360p"), 0o755); err != nil {
		return nil, err
	}
	files := map[string]string{
		"index.m3u8":          "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000\n360p/playlist.m3u8\n",
		"360p/playlist.m3u8":  "#EXTM3U\n#EXTINF:6.0,\nsegment_000.ts\n#EXT-X-ENDLIST\n",
		"360p/segment_000.ts": "ts-bytes",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(outputDir, name), []byte(body), 0o644); err != nil {
			return nil, err
		}
	}
	return &media.Result{
		OutputDir:      outputDir,
		MasterPlaylist: filepath.Join(outputDir, "index.m3u8"),
		Variants:       []string{"360p"},
	}, nil
}

func (t *fakeTranscoder) ExtractThumbnail(_ context.Context, _, outputPath string) error {
	if t.thumbErr != nil {
		return t.thumbErr
	}
	return os.WriteFile(outputPath, []byte("jpeg-bytes"), 0o644)
}

func (t *fakeTranscoder) Available() error { return nil }

func newTestOrchestrator(t *testing.T, repo *fakeRepo, store *fakeStore, prober *fakeProber, trans *fakeTranscoder) (*Orchestrator, string) {
	t.Helper()
	root := t.TempDir()
	opts := media.DefaultOptions()
	return NewOrchestrator(repo, store, prober, trans, NewScratchSpace(root), opts), root
}

func scratchDir(root, videoID string) string {
	return filepath.Join(root, "vodworks", videoID)
}

func TestProcessSuccess(t *testing.T) {
	repo := newFakeRepo("vid1")
	store := newFakeStore()
	orc, root := newTestOrchestrator(t, repo, store, &fakeProber{}, &fakeTranscoder{})

	if err := orc.Process(context.Background(), "vid1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := repo.status("vid1"); got != model.StatusReady {
		t.Errorf("status = %s, want READY", got)
	}
	v := repo.videos["vid1"]
	if v.HLSPlaylistPath == nil || v.HLSSegmentsPath == nil {
		t.Fatal("READY video must carry both HLS paths")
	}
	if *v.HLSPlaylistPath != "hls/vid1/index.m3u8" || *v.HLSSegmentsPath != "hls/vid1/" {
		t.Errorf("hls paths = %q, %q", *v.HLSPlaylistPath, *v.HLSSegmentsPath)
	}
	if ct := store.uploads["hls/vid1/index.m3u8"]; ct != "application/vnd.apple.mpegurl" {
		t.Errorf("manifest content type = %q", ct)
	}
	if ct := store.uploads["hls/vid1/360p/segment_000.ts"]; ct != "video/mp2t" {
		t.Errorf("segment content type = %q", ct)
	}
	if len(repo.thumbCalls) != 1 || !strings.HasPrefix(repo.thumbCalls[0], "thumbnails/vid1/thumbnail_") {
		t.Errorf("thumbnail path writes = %v", repo.thumbCalls)
	}
	if _, err := os.Stat(scratchDir(root, "vid1")); !os.IsNotExist(err) {
		t.Errorf("scratch dir should be removed after success, stat err = %v", err)
	}
}

func TestProcessTranscodeFailure(t *testing.T) {
	repo := newFakeRepo("vid1")
	store := newFakeStore()
	trans := &fakeTranscoder{transcodeErr: errors.New("encoder exploded")}
	orc, root := newTestOrchestrator(t, repo, store, &fakeProber{}, trans)

	err := orc.Process(context.Background(), "vid1")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := repo.status("vid1"); got != model.StatusFailed {
		t.Errorf("status = %s, want FAILED", got)
	}
	if msg := repo.videos["vid1"].ProcessingError; msg == nil || !strings.Contains(*msg, "encoder exploded") {
		t.Errorf("processing error = %v, want diagnostic text", msg)
	}
	if _, err := os.Stat(scratchDir(root, "vid1")); !os.IsNotExist(err) {
		t.Errorf("scratch dir should be removed after failure, stat err = %v", err)
	}
}

func TestProcessProbeFailureDistinct(t *testing.T) {
	repo := newFakeRepo("vid1")
	orc, _ := newTestOrchestrator(t, repo, newFakeStore(), &fakeProber{err: errors.New("no video stream found")}, &fakeTranscoder{})
	if err := orc.Process(context.Background(), "vid1"); err == nil {
		t.Fatal("expected error")
	}
	if got := repo.status("vid1"); got != model.StatusFailed {
		t.Errorf("status = %s, want FAILED", got)
	}
}

func TestProcessAlreadyClaimed(t *testing.T) {
	repo := newFakeRepo("vid1")
	repo.videos["vid1"].Status = model.StatusProcessing
	orc, root := newTestOrchestrator(t, repo, newFakeStore(), &fakeProber{}, &fakeTranscoder{})

	err := orc.Process(context.Background(), "vid1")
	if !errors.Is(err, repository.ErrAlreadyClaimed) {
		t.Fatalf("err = %v, want ErrAlreadyClaimed", err)
	}
	if _, statErr := os.Stat(scratchDir(root, "vid1")); !os.IsNotExist(statErr) {
		t.Error("no scratch should be created for a lost claim")
	}
}

// Re-processing the same video must target identical storage paths.
func TestProcessPathDeterminism(t *testing.T) {
	repo := newFakeRepo("vid1")
	orc, _ := newTestOrchestrator(t, repo, newFakeStore(), &fakeProber{}, &fakeTranscoder{})
	if err := orc.Process(context.Background(), "vid1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	// Simulate an external re-enqueue decision.
	repo.videos["vid1"].Status = model.StatusUploaded
	if err := orc.Process(context.Background(), "vid1"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(repo.hlsCalls) != 2 {
		t.Fatalf("hls writes = %d, want 2", len(repo.hlsCalls))
	}
	if repo.hlsCalls[0] != repo.hlsCalls[1] {
		t.Errorf("re-processing targeted different paths: %v vs %v", repo.hlsCalls[0], repo.hlsCalls[1])
	}
}

// An audio-less source is still processed to READY, with the transcode told
// to skip audio mapping.
func TestProcessAudiolessSource(t *testing.T) {
	repo := newFakeRepo("vid1")
	trans := &fakeTranscoder{}
	orc, _ := newTestOrchestrator(t, repo, newFakeStore(), &fakeProber{noAudio: true}, trans)

	if err := orc.Process(context.Background(), "vid1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !trans.lastOpts.NoAudio {
		t.Error("transcode should run video-only when the probe finds no audio")
	}
	if got := repo.status("vid1"); got != model.StatusReady {
		t.Errorf("status = %s, want READY", got)
	}
}

func TestProcessThumbnailDisabled(t *testing.T) {
	repo := newFakeRepo("vid1")
	store := newFakeStore()
	root := t.TempDir()
	opts := media.DefaultOptions()
	opts.GenerateThumbnail = false
	orc := NewOrchestrator(repo, store, &fakeProber{}, &fakeTranscoder{}, NewScratchSpace(root), opts)

	if err := orc.Process(context.Background(), "vid1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(repo.thumbCalls) != 0 {
		t.Errorf("thumbnail writes = %v, want none", repo.thumbCalls)
	}
	for key := range store.uploads {
		if strings.HasPrefix(key, "thumbnails/") {
			t.Errorf("unexpected thumbnail upload %q", key)
		}
	}
}
