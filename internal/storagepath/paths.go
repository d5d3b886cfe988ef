// Package storagepath centralizes the object-storage key conventions. The
// layouts are a stable external contract: re-processing a video always
// targets the same keys, so outputs are overwritten, never appended.
package storagepath

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// RawVideo returns the key for an uploaded source file:
// videos/{videoId}/{videoId}_{unixMillis}.{ext}
func RawVideo(videoID, ext string, t time.Time) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("videos/%s/%s_%d.%s", videoID, videoID, t.UnixMilli(), ext)
}

// HLSRoot returns the key prefix holding a video's HLS package:
// hls/{videoId}/
func HLSRoot(videoID string) string {
	return fmt.Sprintf("hls/%s/", videoID)
}

// HLSPlaylist returns the key of the master playlist:
// hls/{videoId}/index.m3u8
func HLSPlaylist(videoID string) string {
	return fmt.Sprintf("hls/%s/index.m3u8", videoID)
}

// HLSObject returns the key of one file inside a video's HLS package, given
// its path relative to the local output directory.
func HLSObject(videoID, rel string) string {
	return HLSRoot(videoID) + strings.TrimPrefix(path.Clean(rel), "/")
}

// Thumbnail returns the key for a generated still frame:
// thumbnails/{videoId}/thumbnail_{unixMillis}.jpg
func Thumbnail(videoID string, t time.Time) string {
	return fmt.Sprintf("thumbnails/%s/thumbnail_%d.jpg", videoID, t.UnixMilli())
}

// ContentTypeFor infers an object content type from a file name. Playlists
// and transport-stream segments get their registered media types; anything
// unknown falls back to octet-stream.
func ContentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
