package engine

import "testing"

func TestClassifyLine(t *testing.T) {
	cases := []struct {
		name   string
		line   string
		want   EventKind
		wantOK bool
	}{
		{name: "error prefix", line: "ERROR: from element /GstPipeline:pipeline0/GstRtmp2Src:rtmp2src0: Could not connect", want: EventError, wantOK: true},
		{name: "execution ended", line: "Execution ended after 0:00:12.3", want: EventError, wantOK: true},
		{name: "eos", line: "Got EOS from element \"pipeline0\".", want: EventEOS, wantOK: true},
		{name: "eos on shutdown", line: "EOS on shutdown enabled -- waiting for EOS after Error", want: EventEOS, wantOK: true},
		{name: "frame drop", line: "WARNING: from element ndisink0: Dropping 3 buffers", want: EventFrameDrop, wantOK: true},
		{name: "warning", line: "WARNING: from element queue0: Internal data flow problem", want: EventWarning, wantOK: true},
		{name: "state change", line: "Setting pipeline to PLAYING ...", want: EventStateChange, wantOK: true},
		{name: "pipeline live", line: "Pipeline is live and does not need PREROLL ...", want: EventStateChange, wantOK: true},
		{name: "prerolled", line: "Pipeline is PREROLLED ...", want: EventStateChange, wantOK: true},
		{name: "progress clock", line: "New clock: GstSystemClock", want: EventProgress, wantOK: true},
		{name: "progress latency", line: "Redistribute latency...", want: EventProgress, wantOK: true},
		{name: "noise", line: "0:00:01.2 some unrelated output", wantOK: false},
		{name: "blank", line: "   ", wantOK: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := classifyLine(tc.line)
			if ok != tc.wantOK {
				t.Fatalf("classifyLine(%q) ok = %v, want %v", tc.line, ok, tc.wantOK)
			}
			if ok && got != tc.want {
				t.Fatalf("classifyLine(%q) = %v, want %v", tc.line, got, tc.want)
			}
		})
	}
}

func TestEventKindLabels(t *testing.T) {
	kinds := map[EventKind]string{
		EventError:       "error",
		EventEOS:         "eos",
		EventWarning:     "warning",
		EventFrameDrop:   "frame_drop",
		EventStateChange: "state_change",
		EventProgress:    "progress",
	}
	for kind, want := range kinds {
		if got := kind.String(); got != want {
			t.Fatalf("EventKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestStateFromLine(t *testing.T) {
	cases := []struct {
		line string
		want string
	}{
		{line: "Setting pipeline to PLAYING ...", want: "PLAYING"},
		{line: "Setting pipeline to PAUSED.", want: "PAUSED"},
		{line: "Setting pipeline to NULL ...", want: "NULL"},
		{line: "unrelated", want: ""},
	}
	for _, tc := range cases {
		if got := stateFromLine(tc.line); got != tc.want {
			t.Fatalf("stateFromLine(%q) = %q, want %q", tc.line, got, tc.want)
		}
	}
}
