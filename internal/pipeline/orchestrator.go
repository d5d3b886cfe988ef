package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vodworks/internal/media"
	"vodworks/internal/model"
	"vodworks/internal/repository"
	"vodworks/internal/storagepath"
)

// Repository is the slice of the video repository the orchestrator needs.
type Repository interface {
	FindByVideoID(ctx context.Context, videoID string) (*model.Video, error)
	ClaimForProcessing(ctx context.Context, videoID string) error
	Update(ctx context.Context, videoID string, upd repository.MetadataUpdate) error
	UpdateStatus(ctx context.Context, videoID string, status model.ProcessingStatus, errMsg *string) error
	UpdateHLS(ctx context.Context, videoID, playlistPath, segmentsPath string) error
	UpdateThumbnail(ctx context.Context, videoID, thumbnailPath string) error
}

// ObjectStore is the slice of object storage the orchestrator needs.
type ObjectStore interface {
	DownloadTo(ctx context.Context, key, localPath string) error
	UploadFile(ctx context.Context, key, localPath, contentType string) error
}

// Prober extracts technical metadata from a local file.
type Prober interface {
	Probe(ctx context.Context, path string) (*model.Metadata, error)
}

// Orchestrator pulls one video through the whole pipeline and owns every
// status transition and failure for it.
type Orchestrator struct {
	repo       Repository
	store      ObjectStore
	prober     Prober
	transcoder media.Transcoder
	scratch    *ScratchSpace
	opts       media.Options
	now        func() time.Time
}

// NewOrchestrator wires the pipeline dependencies.
func NewOrchestrator(repo Repository, store ObjectStore, prober Prober, transcoder media.Transcoder, scratch *ScratchSpace, opts media.Options) *Orchestrator {
	return &Orchestrator{
		repo:       repo,
		store:      store,
		prober:     prober,
		transcoder: transcoder,
		scratch:    scratch,
		opts:       opts,
		now:        time.Now,
	}
}

// Process runs the per-video pipeline. A failed claim (another worker holds
// the video) surfaces as repository.ErrAlreadyClaimed; any other error has
// already been recorded on the video as status FAILED before it is returned
// for batch-level accounting.
func (o *Orchestrator) Process(ctx context.Context, videoID string) error {
	video, err := o.repo.FindByVideoID(ctx, videoID)
	if err != nil {
		return err
	}
	if err := o.repo.ClaimForProcessing(ctx, videoID); err != nil {
		return err
	}

	fail := func(err error) error {
		log.Printf("process %s: %v", videoID, err)
		msg := err.Error()
		if updErr := o.repo.UpdateStatus(ctx, videoID, model.StatusFailed, &msg); updErr != nil {
			log.Printf("process %s: record failure: %v", videoID, updErr)
		}
		return err
	}

	scratch, err := o.scratch.Acquire(videoID)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := scratch.Release(); err != nil {
			log.Printf("process %s: release scratch: %v", videoID, err)
		}
	}()

	sourcePath := scratch.Path("source" + sourceExt(video))
	if err := o.store.DownloadTo(ctx, video.OriginalPath, sourcePath); err != nil {
		return fail(fmt.Errorf("download source: %w", err))
	}

	meta, err := o.prober.Probe(ctx, sourcePath)
	if err != nil {
		return fail(fmt.Errorf("probe source: %w", err))
	}
	if err := o.repo.Update(ctx, videoID, repository.MetadataUpdate{
		Duration:  &meta.Duration,
		Width:     &meta.Width,
		Height:    &meta.Height,
		Bitrate:   &meta.Bitrate,
		Codec:     &meta.Codec,
		FrameRate: &meta.FrameRate,
	}); err != nil {
		return fail(fmt.Errorf("record metadata: %w", err))
	}

	hlsDir := scratch.Path("hls")
	if err := os.MkdirAll(hlsDir, 0o755); err != nil {
		return fail(fmt.Errorf("create hls output dir: %w", err))
	}
	opts := o.opts
	opts.NoAudio = !meta.HasAudio
	result, err := o.transcoder.Transcode(ctx, sourcePath, hlsDir, opts)
	if err != nil {
		return fail(fmt.Errorf("transcode: %w", err))
	}

	var thumbnailKey string
	if o.opts.GenerateThumbnail {
		thumbPath := scratch.Path("thumbnail.jpg")
		if err := o.transcoder.ExtractThumbnail(ctx, sourcePath, thumbPath); err != nil {
			return fail(fmt.Errorf("thumbnail: %w", err))
		}
		thumbnailKey = storagepath.Thumbnail(videoID, o.now())
		if err := o.store.UploadFile(ctx, thumbnailKey, thumbPath, storagepath.ContentTypeFor(thumbPath)); err != nil {
			return fail(fmt.Errorf("upload thumbnail: %w", err))
		}
	}

	if err := o.uploadHLS(ctx, videoID, result.OutputDir); err != nil {
		return fail(err)
	}

	if err := o.repo.UpdateHLS(ctx, videoID, storagepath.HLSPlaylist(videoID), storagepath.HLSRoot(videoID)); err != nil {
		return fail(fmt.Errorf("record hls outputs: %w", err))
	}

	// Best effort: the video is already READY, a lost thumbnail path only
	// degrades the catalog listing.
	if thumbnailKey != "" {
		if err := o.repo.UpdateThumbnail(ctx, videoID, thumbnailKey); err != nil {
			log.Printf("process %s: record thumbnail path: %v", videoID, err)
		}
	}

	log.Printf("process %s: ready (%d variants)", videoID, len(result.Variants))
	return nil
}

// uploadHLS mirrors every produced file into the video's HLS storage root,
// inferring the content type per extension.
func (o *Orchestrator) uploadHLS(ctx context.Context, videoID, localDir string) error {
	uploaded := 0
	err := filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		key := storagepath.HLSObject(videoID, filepath.ToSlash(rel))
		if err := o.store.UploadFile(ctx, key, path, storagepath.ContentTypeFor(path)); err != nil {
			return err
		}
		uploaded++
		return nil
	})
	if err != nil {
		return fmt.Errorf("upload hls package: %w", err)
	}
	if uploaded == 0 {
		return errors.New("upload hls package: transcode produced no files")
	}
	return nil
}

func sourceExt(v *model.Video) string {
	if ext := filepath.Ext(v.OriginalPath); ext != "" {
		return ext
	}
	if v.FileFormat != "" {
		return "." + strings.TrimPrefix(v.FileFormat, ".")
	}
	return ".mp4"
}
