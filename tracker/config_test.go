package tracker_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/vsariola/soundmachine/tracker"
)

func TestLoadConfig(t *testing.T) {
	c, err := tracker.LoadConfig(strings.NewReader("maxUndo: 10\nflushFast: 50ms\ndbPath: /tmp/sm.db\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := tracker.DefaultConfig()
	want.MaxUndo = 10
	want.FlushFast = 50 * time.Millisecond
	want.DBPath = "/tmp/sm.db"
	if diff := cmp.Diff(want, c, cmpopts.IgnoreFields(tracker.Config{}, "Logger")); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestLoadEmptyConfig(t *testing.T) {
	c, err := tracker.LoadConfig(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if diff := cmp.Diff(tracker.DefaultConfig(), c, cmpopts.IgnoreFields(tracker.Config{}, "Logger")); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	cases := map[string]string{
		"unknown field":    "maxUndos: 10\n",
		"bad sample rate":  "sampleRate: -1\n",
		"bad block size":   "blockSize: 0\n",
		"slow before fast": "flushFast: 1s\nflushSlow: 100ms\n",
		"not a duration":   "flushFast: soon\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := tracker.LoadConfig(strings.NewReader(input)); err == nil {
				t.Errorf("expected an error for %q", input)
			}
		})
	}
}
