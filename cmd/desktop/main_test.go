package main

import (
	"strings"
	"testing"

	"ledvm/pkg/runner"
	"ledvm/pkg/store"
)

func TestNextProgram(t *testing.T) {
	names := []string{"blink", "idle", "rainbow"}
	tests := []struct {
		current string
		want    string
	}{
		{"blink", "idle"},
		{"idle", "rainbow"},
		{"rainbow", "blink"},
		{"deleted", "blink"},
	}
	for _, tc := range tests {
		if got := nextProgram(names, tc.current); got != tc.want {
			t.Errorf("nextProgram(%q) = %q; want %q", tc.current, got, tc.want)
		}
	}
	if got := nextProgram(nil, "idle"); got != "" {
		t.Errorf("nextProgram(nil) = %q; want empty", got)
	}
}

func TestProgramNames(t *testing.T) {
	got := programNames([]store.Info{{Name: "a"}, {Name: "b"}})
	if strings.Join(got, ",") != "a,b" {
		t.Errorf("programNames() = %v", got)
	}
}

func TestStatusLine(t *testing.T) {
	st := runner.Status{Program: "rainbow", State: "running", PC: 0x1A, Steps: 42}
	if got, want := statusLine(st), "rainbow [running] pc=0x001A steps=42"; got != want {
		t.Errorf("statusLine() = %q; want %q", got, want)
	}
	st.LastFault = "ledvm: stack underflow"
	if got := statusLine(st); !strings.HasSuffix(got, "last: ledvm: stack underflow") {
		t.Errorf("statusLine() = %q", got)
	}
}

func TestGameLayout(t *testing.T) {
	g := &Game{w: 15, h: 10, scale: 24}
	w, h := g.Layout(0, 0)
	if w != 360 || h != 240+overlayHeight {
		t.Errorf("Layout() = %d, %d", w, h)
	}
}
