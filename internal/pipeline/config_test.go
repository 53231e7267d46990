package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"vanb/internal/discovery"
	"vanb/internal/observability/metrics"
)

func newTestBuilder(scanner discovery.Scanner) *Builder {
	manager := discovery.NewManager(scanner, nil, metrics.New())
	return NewBuilder(manager, nil)
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{input: "receive", want: ModeReceive},
		{input: "rx", want: ModeReceive},
		{input: "transmit", want: ModeTransmit},
		{input: "tx", want: ModeTransmit},
		{input: "TX", want: ModeTransmit},
		{input: "broadcast", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseMode(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseMode(%q) expected error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseMode(%q) returned error: %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("ParseMode(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestBuildReceiveRequiresURL(t *testing.T) {
	builder := newTestBuilder(&testScanner{})
	_, err := builder.Build(context.Background(), ModeReceive, Params{})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestBuildReceiveAllocatesName(t *testing.T) {
	builder := newTestBuilder(&testScanner{names: []string{"VANB-Rx-1"}})
	cfg, err := builder.Build(context.Background(), ModeReceive, Params{RTMPURL: "rtmp://in/live/key"})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	_, peer := cfg.Summary()
	if peer != "VANB-Rx-2" {
		t.Fatalf("allocated name = %q, want VANB-Rx-2", peer)
	}
}

func TestBuildReceiveKeepsExplicitName(t *testing.T) {
	builder := newTestBuilder(&testScanner{names: []string{"VANB-Rx-1"}})
	cfg, err := builder.Build(context.Background(), ModeReceive, Params{RTMPURL: "rtmp://in/live/key", NDIName: "Studio Out"})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	_, peer := cfg.Summary()
	if peer != "Studio Out" {
		t.Fatalf("name = %q, want the explicit name untouched", peer)
	}
}

func TestBuildTransmitDefaults(t *testing.T) {
	builder := newTestBuilder(&testScanner{})
	cfg, err := builder.Build(context.Background(), ModeTransmit, Params{
		RTMPURL:   "rtmp://out/live/key",
		NDISource: "Stage A",
	})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	tx, ok := cfg.(TransmitConfig)
	if !ok {
		t.Fatalf("config type = %T, want TransmitConfig", cfg)
	}
	if tx.VideoBitrate != DefaultVideoBitrate {
		t.Fatalf("video bitrate = %d, want %d", tx.VideoBitrate, DefaultVideoBitrate)
	}
	if tx.AudioBitrate != DefaultAudioBitrate {
		t.Fatalf("audio bitrate = %d, want %d", tx.AudioBitrate, DefaultAudioBitrate)
	}
	if tx.VideoFormat != DefaultVideoFormat {
		t.Fatalf("video format = %q, want %q", tx.VideoFormat, DefaultVideoFormat)
	}
	if tx.AudioRate != DefaultAudioRate || tx.AudioChannels != DefaultAudioChannels {
		t.Fatalf("audio rate/channels = %d/%d", tx.AudioRate, tx.AudioChannels)
	}
}

func TestBuildTransmitNoActiveSource(t *testing.T) {
	t.Run("empty scan", func(t *testing.T) {
		builder := newTestBuilder(&testScanner{})
		_, err := builder.Build(context.Background(), ModeTransmit, Params{RTMPURL: "rtmp://out/live/key"})
		if !errors.Is(err, ErrNoActiveSource) {
			t.Fatalf("expected ErrNoActiveSource, got %v", err)
		}
	})

	t.Run("scan failure", func(t *testing.T) {
		builder := newTestBuilder(&testScanner{err: errors.New("no multicast route")})
		_, err := builder.Build(context.Background(), ModeTransmit, Params{RTMPURL: "rtmp://out/live/key"})
		if !errors.Is(err, ErrNoActiveSource) {
			t.Fatalf("expected ErrNoActiveSource, got %v", err)
		}
	})
}

func TestBuildTransmitSelectsFirstActiveSource(t *testing.T) {
	builder := newTestBuilder(&testScanner{names: []string{"Stage B", "Stage A"}})
	cfg, err := builder.Build(context.Background(), ModeTransmit, Params{RTMPURL: "rtmp://out/live/key"})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	_, peer := cfg.Summary()
	if peer != "Stage A" {
		t.Fatalf("selected source = %q, want first in sorted scan order", peer)
	}
}

func TestDescriptionsEmbedParameters(t *testing.T) {
	rx := ReceiveConfig{RTMPURL: "rtmp://in/live/key", NDIName: "VANB-Rx-1"}
	desc := rx.Description()
	for _, fragment := range []string{"rtmp2src", "rtmp://in/live/key", "ndisink", "ndi-name=VANB-Rx-1"} {
		if !strings.Contains(desc, fragment) {
			t.Fatalf("receive description missing %q: %s", fragment, desc)
		}
	}

	tx := TransmitConfig{
		NDISource:     "Stage A",
		RTMPURL:       "rtmp://out/live/key",
		VideoBitrate:  2000,
		AudioBitrate:  128000,
		VideoFormat:   "I420",
		AudioRate:     44100,
		AudioChannels: 2,
	}
	desc = tx.Description()
	for _, fragment := range []string{"ndisrc", `ndi-name="Stage A"`, "rtmp2sink", "rtmp://out/live/key", "bitrate=2000"} {
		if !strings.Contains(desc, fragment) {
			t.Fatalf("transmit description missing %q: %s", fragment, desc)
		}
	}
}
