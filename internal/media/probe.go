// Package media drives the external probing and transcoding tools.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"vodworks/internal/model"
)

// ErrNoVideoStream is returned when the probed file carries no video stream.
var ErrNoVideoStream = errors.New("no video stream found")

// Prober extracts technical metadata from a local media file by invoking
// ffprobe with JSON output.
type Prober struct {
	binary string
}

// NewProber constructs a Prober around the given ffprobe binary.
func NewProber(binary string) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary}
}

// Available reports whether the probing binary can be invoked.
func (p *Prober) Available() error {
	if _, err := exec.LookPath(p.binary); err != nil {
		return fmt.Errorf("probe tool %s: %w", p.binary, err)
	}
	return nil
}

// Probe runs ffprobe against a local file and returns its metadata.
func (p *Prober) Probe(ctx context.Context, path string) (*model.Metadata, error) {
	// Loglevel "error" keeps stdout as clean JSON while failures still land
	// on stderr; "quiet" would swallow the diagnostic we attach below.
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return parseProbeOutput(stdout.Bytes())
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	BitRate    string `json:"bit_rate"`
	RFrameRate string `json:"r_frame_rate"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

func parseProbeOutput(data []byte) (*model.Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	var video *probeStream
	hasAudio := false
	for i := range out.Streams {
		switch out.Streams[i].CodecType {
		case "video":
			if video == nil {
				video = &out.Streams[i]
			}
		case "audio":
			hasAudio = true
		}
	}
	if video == nil {
		return nil, ErrNoVideoStream
	}
	// Duration comes from the container, not the stream; stream-level
	// duration is absent for several formats.
	seconds, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return nil, fmt.Errorf("parse container duration %q: %w", out.Format.Duration, err)
	}
	bitrate := parseBitrate(video.BitRate)
	if bitrate == 0 {
		bitrate = parseBitrate(out.Format.BitRate)
	}
	frameRate, err := parseFrameRate(video.RFrameRate)
	if err != nil {
		return nil, err
	}
	return &model.Metadata{
		Duration:  formatDuration(seconds),
		Width:     video.Width,
		Height:    video.Height,
		Bitrate:   bitrate,
		Codec:     video.CodecName,
		FrameRate: frameRate,
		HasAudio:  hasAudio,
	}, nil
}

func parseBitrate(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// parseFrameRate divides a rational "num/den" string such as "30000/1001".
func parseFrameRate(s string) (float64, error) {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("parse frame rate %q: %w", s, err)
		}
		return n, nil
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("parse frame rate %q: %w", s, err)
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("parse frame rate %q: bad denominator", s)
	}
	return n / d, nil
}

// formatDuration renders total seconds as HH:MM:SS.
func formatDuration(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
