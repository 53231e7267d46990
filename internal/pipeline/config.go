package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"vanb/internal/discovery"
)

var (
	// ErrConfig covers any missing or invalid start parameter. No partial
	// config is ever returned alongside it.
	ErrConfig = errors.New("invalid pipeline configuration")
	// ErrNoActiveSource is returned when Transmit has no explicit source
	// and discovery produced no active peer to select.
	ErrNoActiveSource = fmt.Errorf("%w: no active NDI source found", ErrConfig)
)

// Transmit defaults applied when the caller omits the corresponding
// parameter.
const (
	DefaultVideoBitrate  = 2000   // Kbps
	DefaultAudioBitrate  = 128000 // bps
	DefaultVideoFormat   = "I420"
	DefaultAudioRate     = 44100
	DefaultAudioChannels = 2
)

// Params carries caller-supplied start parameters before validation. Zero
// values mean "not supplied"; the builder applies defaults and resolves
// names, producing an immutable mode-tagged Config.
type Params struct {
	RTMPURL       string `json:"rtmpUrl"`
	NDIName       string `json:"ndiName,omitempty"`
	NamePrefix    string `json:"namePrefix,omitempty"`
	NDISource     string `json:"ndiSource,omitempty"`
	VideoBitrate  int    `json:"videoBitrate,omitempty"`
	AudioBitrate  int    `json:"audioBitrate,omitempty"`
	VideoFormat   string `json:"videoFormat,omitempty"`
	AudioRate     int    `json:"audioRate,omitempty"`
	AudioChannels int    `json:"audioChannels,omitempty"`
}

// Config is an immutable, validated pipeline configuration. Description
// renders the opaque graph handed to the media engine; its grammar is the
// engine's concern.
type Config interface {
	Mode() Mode
	Validate() error
	Description() string
	// Summary returns the fields worth logging: endpoint and peer name.
	Summary() (rtmpURL, peer string)
}

// ReceiveConfig drives an RTMP -> NDI pipeline.
type ReceiveConfig struct {
	RTMPURL string
	NDIName string
}

func (c ReceiveConfig) Mode() Mode { return ModeReceive }

func (c ReceiveConfig) Validate() error {
	if strings.TrimSpace(c.RTMPURL) == "" {
		return fmt.Errorf("%w: rtmp url is required", ErrConfig)
	}
	if strings.TrimSpace(c.NDIName) == "" {
		return fmt.Errorf("%w: ndi output name is required", ErrConfig)
	}
	return nil
}

func (c ReceiveConfig) Summary() (string, string) { return c.RTMPURL, c.NDIName }

// Description renders the low-latency RTMP demux -> NDI sink graph.
func (c ReceiveConfig) Description() string {
	return fmt.Sprintf(
		"rtmp2src location=%s async-connect=true idle-timeout=0 ! "+
			"flvdemux name=demux "+
			"demux.video ! "+
			"queue max-size-buffers=1 leaky=downstream name=videoqueue ! "+
			"h264parse ! vtdec_hw name=videodec ! "+
			"videoconvert ! video/x-raw,format=UYVY ! "+
			"queue max-size-buffers=1 leaky=downstream name=videoqueue2 ! "+
			"ndisinkcombiner name=combiner "+
			"demux.audio ! "+
			"queue max-size-buffers=1 leaky=downstream name=audioqueue ! "+
			"aacparse ! "+
			"atdec name=audiodec ! "+
			"audioconvert ! audioresample ! "+
			"audio/x-raw,format=F32LE,channels=2,rate=48000 ! "+
			"queue max-size-buffers=1 leaky=downstream name=audioqueue2 ! "+
			"combiner. "+
			"combiner. ! ndisink name=ndisink sync=false ndi-name=%s",
		c.RTMPURL, c.NDIName,
	)
}

// TransmitConfig drives an NDI -> RTMP pipeline.
type TransmitConfig struct {
	NDISource     string
	RTMPURL       string
	VideoBitrate  int
	AudioBitrate  int
	VideoFormat   string
	AudioRate     int
	AudioChannels int
}

func (c TransmitConfig) Mode() Mode { return ModeTransmit }

func (c TransmitConfig) Validate() error {
	if strings.TrimSpace(c.RTMPURL) == "" {
		return fmt.Errorf("%w: rtmp url is required", ErrConfig)
	}
	if strings.TrimSpace(c.NDISource) == "" {
		return fmt.Errorf("%w: ndi source is required", ErrConfig)
	}
	if c.VideoBitrate <= 0 || c.AudioBitrate <= 0 || c.AudioRate <= 0 || c.AudioChannels <= 0 {
		return fmt.Errorf("%w: audio/video parameters must be positive", ErrConfig)
	}
	if strings.TrimSpace(c.VideoFormat) == "" {
		return fmt.Errorf("%w: video format is required", ErrConfig)
	}
	return nil
}

func (c TransmitConfig) Summary() (string, string) { return c.RTMPURL, c.NDISource }

// Description renders the NDI source -> H.264/AAC -> FLV mux -> RTMP graph.
func (c TransmitConfig) Description() string {
	return fmt.Sprintf(
		`ndisrc ndi-name="%s" timestamp-mode=receive-time-vs-timestamp max-queue-length=5 bandwidth=100 ! `+
			"ndisrcdemux name=demux "+
			"demux.video ! "+
			"queue leaky=downstream max-size-time=1000000 ! "+
			"video/x-raw,format=UYVY ! "+
			"videoconvert n-threads=4 ! "+
			"video/x-raw,format=%s ! "+
			"vtenc_h264_hw allow-frame-reordering=false bitrate=%d "+
			"max-keyframe-interval=30 max-keyframe-interval-duration=1000000000 "+
			"quality=0.5 realtime=true ! "+
			"h264parse config-interval=1 ! "+
			"queue leaky=downstream max-size-time=1000000 ! "+
			"mux. "+
			"demux.audio ! "+
			"queue leaky=downstream max-size-time=1000000 ! "+
			"audioconvert ! audioresample ! "+
			"audio/x-raw,format=S16LE,channels=%d,rate=%d ! "+
			"fdkaacenc bitrate=%d rate-control=cbr ! "+
			"queue leaky=downstream max-size-buffers=5 max-size-time=1000000 ! "+
			"mux. "+
			"flvmux name=mux latency=10 streamable=true ! "+
			"rtmp2sink location=%s async-connect=true chunk-size=128 "+
			"stop-commands=fcunpublish stop-commands=deletestream sync=false",
		c.NDISource, c.VideoFormat, c.VideoBitrate,
		c.AudioChannels, c.AudioRate, c.AudioBitrate, c.RTMPURL,
	)
}

// Builder validates mode-specific parameters and produces an immutable
// Config, consulting discovery for name allocation and source selection.
type Builder struct {
	discovery *discovery.Manager
	logger    *slog.Logger

	// DefaultPrefix is used for name allocation when the caller supplies
	// no prefix of their own.
	DefaultPrefix string
}

// NewBuilder constructs a Builder over the provided discovery manager.
func NewBuilder(manager *discovery.Manager, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{discovery: manager, logger: logger}
}

// Build validates the parameters for the given mode. Validation is atomic:
// an error means no config at all.
func (b *Builder) Build(ctx context.Context, mode Mode, params Params) (Config, error) {
	switch mode {
	case ModeReceive:
		return b.buildReceive(ctx, params)
	case ModeTransmit:
		return b.buildTransmit(ctx, params)
	default:
		return nil, fmt.Errorf("%w: unsupported mode %d", ErrConfig, mode)
	}
}

func (b *Builder) buildReceive(ctx context.Context, params Params) (Config, error) {
	if strings.TrimSpace(params.RTMPURL) == "" {
		return nil, fmt.Errorf("%w: rtmp url is required", ErrConfig)
	}
	name := strings.TrimSpace(params.NDIName)
	if name == "" {
		prefix := strings.TrimSpace(params.NamePrefix)
		if prefix == "" {
			prefix = b.DefaultPrefix
		}
		allocated, err := b.discovery.AllocateName(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		name = allocated
	}
	cfg := ReceiveConfig{RTMPURL: strings.TrimSpace(params.RTMPURL), NDIName: name}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (b *Builder) buildTransmit(ctx context.Context, params Params) (Config, error) {
	if strings.TrimSpace(params.RTMPURL) == "" {
		return nil, fmt.Errorf("%w: rtmp url is required", ErrConfig)
	}
	source := strings.TrimSpace(params.NDISource)
	if source == "" {
		resolved, err := b.selectActiveSource(ctx)
		if err != nil {
			return nil, err
		}
		source = resolved
	}

	cfg := TransmitConfig{
		NDISource:     source,
		RTMPURL:       strings.TrimSpace(params.RTMPURL),
		VideoBitrate:  params.VideoBitrate,
		AudioBitrate:  params.AudioBitrate,
		VideoFormat:   strings.TrimSpace(params.VideoFormat),
		AudioRate:     params.AudioRate,
		AudioChannels: params.AudioChannels,
	}
	if cfg.VideoBitrate == 0 {
		cfg.VideoBitrate = DefaultVideoBitrate
	}
	if cfg.AudioBitrate == 0 {
		cfg.AudioBitrate = DefaultAudioBitrate
	}
	if cfg.VideoFormat == "" {
		cfg.VideoFormat = DefaultVideoFormat
	}
	if cfg.AudioRate == 0 {
		cfg.AudioRate = DefaultAudioRate
	}
	if cfg.AudioChannels == 0 {
		cfg.AudioChannels = DefaultAudioChannels
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// selectActiveSource picks the first active peer in scan order. A failed
// scan escalates here because Transmit cannot proceed without a resolved
// source.
func (b *Builder) selectActiveSource(ctx context.Context) (string, error) {
	sources, err := b.discovery.ScanSources(ctx, 0)
	if err != nil {
		return "", ErrNoActiveSource
	}
	for _, source := range sources {
		if source.Active {
			b.logger.Info("selected NDI source", "name", source.Name)
			return source.Name, nil
		}
	}
	return "", ErrNoActiveSource
}
