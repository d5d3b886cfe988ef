package model

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to ProcessingStatus
		want     bool
	}{
		{StatusUploading, StatusUploaded, true},
		{StatusUploaded, StatusProcessing, true},
		{StatusProcessing, StatusReady, true},
		{StatusProcessing, StatusFailed, true},
		{StatusUploaded, StatusReady, false},
		{StatusFailed, StatusUploaded, false},
		{StatusReady, StatusProcessing, false},
		{StatusFailed, StatusProcessing, false},
		{StatusProcessing, StatusUploaded, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	if !StatusReady.Terminal() {
		t.Errorf("READY should be terminal")
	}
	if !StatusFailed.Terminal() {
		t.Errorf("FAILED should be terminal")
	}
	if StatusProcessing.Terminal() {
		t.Errorf("PROCESSING should not be terminal")
	}
	if ProcessingStatus("bogus").Terminal() {
		t.Errorf("unknown status should not be terminal")
	}
}
