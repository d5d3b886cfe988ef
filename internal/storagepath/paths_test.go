package storagepath

import (
	"testing"
	"time"
)

func TestKeyLayouts(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	if got, want := RawVideo("abc123", "mp4", at), "videos/abc123/abc123_1700000000000.mp4"; got != want {
		t.Errorf("RawVideo = %q, want %q", got, want)
	}
	if got, want := RawVideo("abc123", ".mov", at), "videos/abc123/abc123_1700000000000.mov"; got != want {
		t.Errorf("RawVideo with dotted ext = %q, want %q", got, want)
	}
	if got, want := HLSRoot("abc123"), "hls/abc123/"; got != want {
		t.Errorf("HLSRoot = %q, want %q", got, want)
	}
	if got, want := HLSPlaylist("abc123"), "hls/abc123/index.m3u8"; got != want {
		t.Errorf("HLSPlaylist = %q, want %q", got, want)
	}
	if got, want := HLSObject("abc123", "720p/segment_003.ts"), "hls/abc123/720p/segment_003.ts"; got != want {
		t.Errorf("HLSObject = %q, want %q", got, want)
	}
	if got, want := Thumbnail("abc123", at), "thumbnails/abc123/thumbnail_1700000000000.jpg"; got != want {
		t.Errorf("Thumbnail = %q, want %q", got, want)
	}
}

// Re-processing must target identical keys for everything that does not embed
// a timestamp, and the timestamped keys must be derived only from videoId+time.
func TestKeyDeterminism(t *testing.T) {
	if HLSPlaylist("v1") != HLSPlaylist("v1") {
		t.Fatal("HLS playlist key not deterministic")
	}
	at := time.UnixMilli(42)
	if RawVideo("v1", "mp4", at) != RawVideo("v1", "mp4", at) {
		t.Fatal("raw key not deterministic for a fixed timestamp")
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"index.m3u8":     "application/vnd.apple.mpegurl",
		"segment_001.ts": "video/mp2t",
		"thumb.JPG":      "image/jpeg",
		"source.mp4":     "video/mp4",
		"mystery.bin":    "application/octet-stream",
	}
	for name, want := range cases {
		if got := ContentTypeFor(name); got != want {
			t.Errorf("ContentTypeFor(%q) = %q, want %q", name, got, want)
		}
	}
}
