package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// QualityPreset is one rung of the encoding ladder.
type QualityPreset struct {
	Name         string
	Width        int
	Height       int
	VideoBitrate string
	MaxRate      string
	BufSize      string
	AudioBitrate string
}

// presets are the named quality tiers the pipeline knows how to encode.
var presets = map[string]QualityPreset{
	"360p":  {Name: "360p", Width: 640, Height: 360, VideoBitrate: "800k", MaxRate: "900k", BufSize: "1200k", AudioBitrate: "96k"},
	"480p":  {Name: "480p", Width: 854, Height: 480, VideoBitrate: "1400k", MaxRate: "1500k", BufSize: "2100k", AudioBitrate: "128k"},
	"720p":  {Name: "720p", Width: 1280, Height: 720, VideoBitrate: "2800k", MaxRate: "3000k", BufSize: "4200k", AudioBitrate: "128k"},
	"1080p": {Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: "5000k", MaxRate: "5500k", BufSize: "7500k", AudioBitrate: "192k"},
}

// Options controls one transcode run. NoAudio encodes video-only variants
// for sources that carry no audio stream; mapping a missing stream would
// fail the whole run.
type Options struct {
	Qualities         []string
	SegmentDuration   int
	GenerateThumbnail bool
	NoAudio           bool
}

// DefaultOptions returns the standard two-rung ladder with six-second
// segments and thumbnail generation enabled.
func DefaultOptions() Options {
	return Options{
		Qualities:         []string{"360p", "720p"},
		SegmentDuration:   6,
		GenerateThumbnail: true,
	}
}

func (o Options) withDefaults() Options {
	if len(o.Qualities) == 0 {
		o.Qualities = []string{"360p", "720p"}
	}
	if o.SegmentDuration <= 0 {
		o.SegmentDuration = 6
	}
	return o
}

// Result describes the artifacts a transcode produced on local disk.
type Result struct {
	OutputDir      string
	MasterPlaylist string
	Variants       []string
}

// Transcoder produces a segmented adaptive-streaming package and still
// frames from a local source file. Implementations are swappable so the
// orchestrator never touches the external tool directly.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputDir string, opts Options) (*Result, error)
	ExtractThumbnail(ctx context.Context, inputPath, outputPath string) error
	Available() error
}

// FFmpegTranscoder shells out to ffmpeg.
type FFmpegTranscoder struct {
	binary string
}

// NewFFmpegTranscoder constructs a transcoder around the given binary.
func NewFFmpegTranscoder(binary string) *FFmpegTranscoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegTranscoder{binary: binary}
}

// Available reports whether the transcoding binary can be invoked.
func (t *FFmpegTranscoder) Available() error {
	if _, err := exec.LookPath(t.binary); err != nil {
		return fmt.Errorf("transcode tool %s: %w", t.binary, err)
	}
	return nil
}

// Transcode encodes every requested quality tier in one ffmpeg run, emitting
// a VOD master playlist named index.m3u8 plus per-variant playlists and
// sequentially numbered transport-stream segments.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, inputPath, outputDir string, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	args, variants, err := buildTranscodeArgs(inputPath, outputDir, opts)
	if err != nil {
		return nil, err
	}
	for _, name := range variants {
		if err := os.MkdirAll(filepath.Join(outputDir, name), 0o755); err != nil {
			return nil, fmt.Errorf("prepare variant dir %s: %w", name, err)
		}
	}
	if err := t.run(ctx, filepath.Base(inputPath), args); err != nil {
		return nil, err
	}
	master := filepath.Join(outputDir, "index.m3u8")
	if _, err := os.Stat(master); err != nil {
		return nil, fmt.Errorf("transcode produced no master playlist: %w", err)
	}
	return &Result{OutputDir: outputDir, MasterPlaylist: master, Variants: variants}, nil
}

// ExtractThumbnail grabs one frame at the one-second mark, scaled to a fixed
// width with proportional height.
func (t *FFmpegTranscoder) ExtractThumbnail(ctx context.Context, inputPath, outputPath string) error {
	args := []string{
		"-y",
		"-ss", "00:00:01",
		"-i", inputPath,
		"-vframes", "1",
		"-vf", "scale=640:-1",
		outputPath,
	}
	return t.run(ctx, "thumbnail "+filepath.Base(inputPath), args)
}

// run executes ffmpeg, streaming diagnostics line by line for observability
// while also accumulating them so a non-zero exit can surface the full text.
func (t *FFmpegTranscoder) run(ctx context.Context, label string, args []string) error {
	cmd := exec.CommandContext(ctx, t.binary, args...)
	var diag bytes.Buffer
	sink := io.MultiWriter(newLogWriter(label), &diag)
	cmd.Stdout = sink
	cmd.Stderr = sink
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w: %s", t.binary, label, err, tail(diag.String(), 2048))
	}
	return nil
}

func buildTranscodeArgs(inputPath, outputDir string, opts Options) ([]string, []string, error) {
	ladder := make([]QualityPreset, 0, len(opts.Qualities))
	for _, name := range opts.Qualities {
		preset, ok := presets[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, nil, fmt.Errorf("unknown quality preset %q", name)
		}
		ladder = append(ladder, preset)
	}

	var filter strings.Builder
	fmt.Fprintf(&filter, "[0:v]split=%d", len(ladder))
	for i := range ladder {
		fmt.Fprintf(&filter, "[vin%d]", i)
	}
	for i, p := range ladder {
		fmt.Fprintf(&filter, ";[vin%d]scale=w=%d:h=%d[v%dout]", i, p.Width, p.Height, i)
	}

	args := []string{"-y", "-i", inputPath, "-filter_complex", filter.String()}
	for i, p := range ladder {
		args = append(args,
			"-map", fmt.Sprintf("[v%dout]", i),
			fmt.Sprintf("-c:v:%d", i), "libx264",
			fmt.Sprintf("-b:v:%d", i), p.VideoBitrate,
			fmt.Sprintf("-maxrate:v:%d", i), p.MaxRate,
			fmt.Sprintf("-bufsize:v:%d", i), p.BufSize,
		)
	}
	if !opts.NoAudio {
		for i, p := range ladder {
			args = append(args,
				"-map", "a:0",
				fmt.Sprintf("-c:a:%d", i), "aac",
				fmt.Sprintf("-b:a:%d", i), p.AudioBitrate,
				"-ac", "2",
			)
		}
	}

	streamMap := make([]string, len(ladder))
	variants := make([]string, len(ladder))
	for i, p := range ladder {
		if opts.NoAudio {
			streamMap[i] = fmt.Sprintf("v:%d,name:%s", i, p.Name)
		} else {
			streamMap[i] = fmt.Sprintf("v:%d,a:%d,name:%s", i, i, p.Name)
		}
		variants[i] = p.Name
	}
	args = append(args,
		"-f", "hls",
		"-var_stream_map", strings.Join(streamMap, " "),
		"-master_pl_name", "index.m3u8",
		"-hls_time", strconv.Itoa(opts.SegmentDuration),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, "%v", "segment_%03d.ts"),
		filepath.Join(outputDir, "%v", "playlist.m3u8"),
	)
	return args, variants, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// logWriter forwards subprocess output to the log a line at a time so
// interleaved ffmpeg progress stays readable.
type logWriter struct {
	prefix string
}

func newLogWriter(label string) *logWriter {
	return &logWriter{prefix: "[" + label + "] "}
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexAny(p, "\r\n")
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		log.Printf("%s%s", w.prefix, string(line))
	}
	return total, nil
}
