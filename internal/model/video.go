// Package model contains the video entity and its processing lifecycle.
package model

import (
	"errors"
	"time"
)

// ProcessingStatus is the persisted lifecycle stage of a video. The string
// values are part of the external contract and are stored verbatim.
type ProcessingStatus string

const (
	StatusUploading  ProcessingStatus = "UPLOADING"
	StatusUploaded   ProcessingStatus = "UPLOADED"
	StatusProcessing ProcessingStatus = "PROCESSING"
	StatusReady      ProcessingStatus = "READY"
	StatusFailed     ProcessingStatus = "FAILED"
)

// transitions is the only legal state machine:
// UPLOADING -> UPLOADED -> PROCESSING -> READY | FAILED.
var transitions = map[ProcessingStatus][]ProcessingStatus{
	StatusUploading:  {StatusUploaded},
	StatusUploaded:   {StatusProcessing},
	StatusProcessing: {StatusReady, StatusFailed},
}

// ErrIllegalTransition is returned when a status write would violate the
// state machine.
var ErrIllegalTransition = errors.New("illegal status transition")

// Valid reports whether s is one of the known status values.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusUploading, StatusUploaded, StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s ProcessingStatus) Terminal() bool {
	return len(transitions[s]) == 0 && s.Valid()
}

// CanTransition reports whether moving from s to next is legal.
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Video is the central entity of the pipeline. ID is owned by the
// repository; VideoID is the externally exposed opaque identifier and the
// sole key used to derive storage paths.
type Video struct {
	ID              int64            `json:"id"`
	VideoID         string           `json:"videoId"`
	OriginalPath    string           `json:"originalPath"`
	FileSize        int64            `json:"fileSize"`
	FileFormat      string           `json:"fileFormat"`
	Duration        string           `json:"duration,omitempty"`
	Width           int              `json:"width,omitempty"`
	Height          int              `json:"height,omitempty"`
	Bitrate         int64            `json:"bitrate,omitempty"`
	Codec           string           `json:"codec,omitempty"`
	FrameRate       float64          `json:"frameRate,omitempty"`
	ThumbnailPath   *string          `json:"thumbnailPath,omitempty"`
	HLSPlaylistPath *string          `json:"hlsPlaylistPath,omitempty"`
	HLSSegmentsPath *string          `json:"hlsSegmentsPath,omitempty"`
	Status          ProcessingStatus `json:"processingStatus"`
	ProcessingError *string          `json:"processingError,omitempty"`
	LessonID        *string          `json:"lessonId,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// Metadata carries the technical properties extracted from a source file.
// HasAudio steers the transcode: sources without an audio stream are encoded
// video-only.
type Metadata struct {
	Duration  string  `json:"duration"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Bitrate   int64   `json:"bitrate"`
	Codec     string  `json:"codec"`
	FrameRate float64 `json:"frameRate"`
	HasAudio  bool    `json:"hasAudio"`
}
