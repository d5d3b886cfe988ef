// Package api exposes the HTTP surface of the pipeline: video registration,
// token issuance and token-gated playback.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"vodworks/internal/config"
	"vodworks/internal/model"
	"vodworks/internal/queue"
	"vodworks/internal/repository"
	"vodworks/internal/signing"
	"vodworks/internal/storagepath"
)

// VideoStore is the slice of the repository the API needs.
type VideoStore interface {
	Create(ctx context.Context, v *model.Video) error
	FindByVideoID(ctx context.Context, videoID string) (*model.Video, error)
	FindByLessonID(ctx context.Context, lessonID string) (*model.Video, error)
	AttachToLesson(ctx context.Context, videoID, lessonID string) error
	Delete(ctx context.Context, videoID string) (*model.Video, error)
	VideoStats(ctx context.Context) (*repository.Stats, error)
}

// ObjectStore is the slice of object storage the API needs.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	PresignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignedUploadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Enqueuer schedules on-demand processing for a freshly registered video.
type Enqueuer interface {
	EnqueueProcess(ctx context.Context, videoID string) error
}

// AsynqEnqueuer adapts an asynq client to the Enqueuer interface.
type AsynqEnqueuer struct {
	Client *asynq.Client
}

func (e *AsynqEnqueuer) EnqueueProcess(ctx context.Context, videoID string) error {
	return queue.EnqueueProcess(ctx, e.Client, queue.ProcessPayload{VideoID: videoID})
}

// Server exposes HTTP endpoints for the video pipeline.
type Server struct {
	cfg    *config.Config
	repo   VideoStore
	store  ObjectStore
	signer *signing.Signer
	queue  Enqueuer
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, repo VideoStore, store ObjectStore, signer *signing.Signer, enqueuer Enqueuer) *Server {
	return &Server{cfg: cfg, repo: repo, store: store, signer: signer, queue: enqueuer}
}

// Handler builds the route table. Split out from Run so tests can drive the
// mux directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/videos", s.handleVideos)
	mux.HandleFunc("/videos/", s.handleVideoRoute)
	mux.HandleFunc("/lessons/", s.handleLessonRoute)
	mux.HandleFunc("/watch/", s.handleWatch)
	return corsMiddleware(loggingMiddleware(mux))
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Handler(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	log.Printf("api listening on %s", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVideos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleRegister(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleVideoRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/videos/")
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	switch parts[0] {
	case "stats":
		s.handleStats(w, r)
		return
	case "upload-url":
		s.handleUploadURL(w, r)
		return
	}
	videoID := parts[0]
	if len(parts) == 1 {
		s.handleVideo(w, r, videoID)
		return
	}
	switch parts[1] {
	case "lesson":
		s.handleAttachLesson(w, r, videoID)
	case "token":
		s.handleToken(w, r, videoID)
	case "manifest":
		s.handleManifest(w, r, videoID)
	case "hls":
		if len(parts) < 3 || parts[2] == "" {
			http.NotFound(w, r)
			return
		}
		s.handleHLSObject(w, r, videoID, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleLessonRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/lessons/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "video" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	video, err := s.repo.FindByLessonID(r.Context(), parts[0])
	if err != nil {
		respondNotFoundOr500(w, err, "lesson has no video")
		return
	}
	respondJSON(w, http.StatusOK, video)
}

type registerRequest struct {
	OriginalPath string `json:"originalPath"`
	VideoID      string `json:"videoId"`
	FileSize     int64  `json:"fileSize"`
	FileFormat   string `json:"fileFormat"`
}

// handleRegister records an uploaded video as UPLOADED and schedules
// on-demand processing. The upload itself happened against the presigned URL
// issued by handleUploadURL.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.VideoID == "" || req.OriginalPath == "" {
		http.Error(w, "videoId and originalPath are required", http.StatusBadRequest)
		return
	}
	exists, err := s.store.Exists(ctx, req.OriginalPath)
	if err != nil {
		http.Error(w, "storage check failed", http.StatusBadGateway)
		return
	}
	if !exists {
		http.Error(w, "original object not found in storage", http.StatusConflict)
		return
	}
	video := &model.Video{
		VideoID:      req.VideoID,
		OriginalPath: req.OriginalPath,
		FileSize:     req.FileSize,
		FileFormat:   req.FileFormat,
		Status:       model.StatusUploaded,
	}
	if err := s.repo.Create(ctx, video); err != nil {
		http.Error(w, "failed to store metadata", http.StatusInternalServerError)
		return
	}
	if err := s.queue.EnqueueProcess(ctx, video.VideoID); err != nil {
		// The batch worker will pick the video up on its next run.
		log.Printf("register %s: enqueue processing: %v", video.VideoID, err)
	}
	respondJSON(w, http.StatusCreated, video)
}

type uploadURLRequest struct {
	FileFormat string `json:"fileFormat"`
}

// handleUploadURL mints a videoId and a long-lived presigned PUT URL for the
// raw object. The caller uploads, then registers via POST /videos.
func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req uploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	ext := strings.TrimPrefix(req.FileFormat, ".")
	if ext == "" {
		ext = "mp4"
	}
	videoID := uuid.NewString()
	key := storagepath.RawVideo(videoID, ext, time.Now())
	url, err := s.store.PresignedUploadURL(r.Context(), key, s.cfg.UploadTTL)
	if err != nil {
		http.Error(w, "failed to presign upload", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"videoId":      videoID,
		"originalPath": key,
		"uploadUrl":    url,
	})
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request, videoID string) {
	switch r.Method {
	case http.MethodGet:
		video, err := s.repo.FindByVideoID(r.Context(), videoID)
		if err != nil {
			respondNotFoundOr500(w, err, "video not found")
			return
		}
		respondJSON(w, http.StatusOK, video)
	case http.MethodDelete:
		s.handleDelete(w, r, videoID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// CleanupResult reports one attempted storage deletion after a video record
// was removed. Failures are advisory and never fail the request.
type CleanupResult struct {
	Path  string `json:"path"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, videoID string) {
	ctx := r.Context()
	video, err := s.repo.Delete(ctx, videoID)
	if err != nil {
		respondNotFoundOr500(w, err, "video not found")
		return
	}
	cleanup := s.cleanupStorage(ctx, video)
	respondJSON(w, http.StatusOK, map[string]any{
		"deleted": videoID,
		"cleanup": cleanup,
	})
}

// cleanupStorage removes the deleted video's objects best-effort. The row is
// already gone; nothing here may fail the deletion.
func (s *Server) cleanupStorage(ctx context.Context, video *model.Video) []CleanupResult {
	var results []CleanupResult
	attempt := func(p string, remove func() error) {
		res := CleanupResult{Path: p, OK: true}
		if err := remove(); err != nil {
			log.Printf("delete %s: cleanup %s: %v", video.VideoID, p, err)
			res.OK = false
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	attempt(video.OriginalPath, func() error { return s.store.Delete(ctx, video.OriginalPath) })
	if video.HLSSegmentsPath != nil {
		prefix := *video.HLSSegmentsPath
		attempt(prefix, func() error { return s.store.DeletePrefix(ctx, prefix) })
	}
	if video.ThumbnailPath != nil {
		p := *video.ThumbnailPath
		attempt(p, func() error { return s.store.Delete(ctx, p) })
	}
	return results
}

type attachRequest struct {
	LessonID string `json:"lessonId"`
}

func (s *Server) handleAttachLesson(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req attachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LessonID == "" {
		http.Error(w, "lessonId is required", http.StatusBadRequest)
		return
	}
	if err := s.repo.AttachToLesson(r.Context(), videoID, req.LessonID); err != nil {
		respondNotFoundOr500(w, err, "video not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"videoId": videoID, "lessonId": req.LessonID})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.repo.VideoStats(r.Context())
	if err != nil {
		http.Error(w, "failed to aggregate stats", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleToken issues a short-lived playback token for a READY video.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	video, err := s.repo.FindByVideoID(r.Context(), videoID)
	if err != nil {
		respondNotFoundOr500(w, err, "video not found")
		return
	}
	if video.Status != model.StatusReady {
		http.Error(w, "video is not ready for playback", http.StatusConflict)
		return
	}
	tok := s.signer.IssueToken(videoID, s.cfg.PlaybackTTL)
	respondJSON(w, http.StatusOK, map[string]any{
		"videoId":     videoID,
		"expires":     tok.Expires,
		"token":       tok.Signature,
		"manifestUrl": fmt.Sprintf("/videos/%s/manifest?expires=%d&token=%s", videoID, tok.Expires, tok.Signature),
	})
}

// authorizePlayback validates the token before anything else. Requests with
// a missing, malformed or expired token are rejected without touching
// storage or the repository.
func (s *Server) authorizePlayback(w http.ResponseWriter, r *http.Request, videoID string) bool {
	expires := r.URL.Query().Get("expires")
	token := r.URL.Query().Get("token")
	if expires == "" || token == "" || !s.signer.Validate(videoID, expires, token) {
		http.Error(w, "missing or invalid token", http.StatusForbidden)
		return false
	}
	return true
}

// handleManifest streams the master playlist with every URI rewritten to a
// token-gated API route, so each segment fetch is re-authorized.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizePlayback(w, r, videoID) {
		return
	}
	video, err := s.repo.FindByVideoID(r.Context(), videoID)
	if err != nil {
		respondNotFoundOr500(w, err, "video not found")
		return
	}
	if video.Status != model.StatusReady || video.HLSPlaylistPath == nil {
		http.Error(w, "video is not ready for playback", http.StatusConflict)
		return
	}
	manifest, err := s.store.Download(r.Context(), *video.HLSPlaylistPath)
	if err != nil {
		log.Printf("manifest %s: %v", videoID, err)
		http.Error(w, "manifest unavailable", http.StatusBadGateway)
		return
	}
	rewritten := rewriteManifest(manifest, videoID, "", r.URL.Query().Get("expires"), r.URL.Query().Get("token"))
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rewritten)
}

// handleHLSObject serves one object from the HLS package: variant playlists
// are rewritten like the master, segments redirect to a short-lived
// presigned URL.
func (s *Server) handleHLSObject(w http.ResponseWriter, r *http.Request, videoID, rel string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizePlayback(w, r, videoID) {
		return
	}
	rel = path.Clean(rel)
	if rel == "." || strings.HasPrefix(rel, "..") {
		http.Error(w, "invalid object path", http.StatusBadRequest)
		return
	}
	key := storagepath.HLSObject(videoID, rel)
	if strings.HasSuffix(rel, ".m3u8") {
		playlist, err := s.store.Download(r.Context(), key)
		if err != nil {
			http.Error(w, "playlist unavailable", http.StatusBadGateway)
			return
		}
		rewritten := rewriteManifest(playlist, videoID, path.Dir(rel), r.URL.Query().Get("expires"), r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(rewritten)
		return
	}
	url, err := s.store.PresignedDownloadURL(r.Context(), key, s.cfg.PlaybackTTL)
	if err != nil {
		http.Error(w, "failed to presign segment", http.StatusBadGateway)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// rewriteManifest replaces every URI line of an HLS playlist with the
// token-gated API route for that object. dir is the playlist's directory
// relative to the HLS root ("" for the master).
func rewriteManifest(manifest []byte, videoID, dir, expires, token string) []byte {
	lines := strings.Split(string(manifest), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		rel := trimmed
		if dir != "" && dir != "." {
			rel = path.Join(dir, rel)
		}
		lines[i] = fmt.Sprintf("/videos/%s/hls/%s?expires=%s&token=%s", videoID, rel, expires, token)
	}
	return []byte(strings.Join(lines, "\n"))
}

func respondNotFoundOr500(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, msg, http.StatusNotFound)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
