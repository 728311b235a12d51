package main

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	ptcsim "github.com/dbuentello/PTC-Sim"
	"github.com/dbuentello/PTC-Sim/track"
)

// config is the resolved configuration of all subcommands. The core packages
// never read files themselves; everything below is passed explicitly into
// their constructors.
type config struct {
	Broker struct {
		Host         string
		SendPort     uint16
		FetchPort    uint16
		MaxFrameSize uint64
		NetTimeout   time.Duration
	}
	Messaging struct {
		BOSAddr    string
		LocoPrefix string
		Interval   time.Duration
	}
	Track struct {
		ConnTimeout time.Duration
		Radios      int
		Bases       []*track.Base
		Locos       []*track.Loco
	}
}

type fileConfig struct {
	Broker struct {
		Host         string `toml:"host"`
		SendPort     uint16 `toml:"send_port"`
		FetchPort    uint16 `toml:"fetch_port"`
		MaxFrameSize uint64 `toml:"max_frame_size"`
		NetTimeout   string `toml:"network_timeout"`
	} `toml:"broker"`
	Messaging struct {
		BOSAddr    string `toml:"bos_addr"`
		LocoPrefix string `toml:"loco_prefix"`
		Interval   string `toml:"interval"`
	} `toml:"messaging"`
	Track struct {
		ConnTimeout string           `toml:"conn_timeout"`
		Radios      int              `toml:"radios"`
		Bases       []fileBaseConfig `toml:"bases"`
		Locos       []fileLocoConfig `toml:"locos"`
	} `toml:"track"`
}

type fileBaseConfig struct {
	ID       string    `toml:"id"`
	Coverage []float64 `toml:"coverage"`
	Lat      float64   `toml:"lat"`
	Long     float64   `toml:"long"`
}

type fileLocoConfig struct {
	ID        string  `toml:"id"`
	Milepost  float64 `toml:"milepost"`
	Lat       float64 `toml:"lat"`
	Long      float64 `toml:"long"`
	Speed     float64 `toml:"speed"`
	Heading   float64 `toml:"heading"`
	Direction string  `toml:"direction"`
	BPP       float64 `toml:"bpp"`
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, errors.Wrapf(err, "loading config %q", path)
	}

	if meta.IsDefined("broker", "host") {
		cfg.Broker.Host = raw.Broker.Host
	}
	if meta.IsDefined("broker", "send_port") {
		cfg.Broker.SendPort = raw.Broker.SendPort
	}
	if meta.IsDefined("broker", "fetch_port") {
		cfg.Broker.FetchPort = raw.Broker.FetchPort
	}
	if meta.IsDefined("broker", "max_frame_size") {
		cfg.Broker.MaxFrameSize = raw.Broker.MaxFrameSize
	}
	if meta.IsDefined("broker", "network_timeout") {
		if cfg.Broker.NetTimeout, err = parseDuration(raw.Broker.NetTimeout); err != nil {
			return config{}, errors.Wrap(err, "broker.network_timeout")
		}
	}

	if meta.IsDefined("messaging", "bos_addr") {
		cfg.Messaging.BOSAddr = raw.Messaging.BOSAddr
	}
	if meta.IsDefined("messaging", "loco_prefix") {
		cfg.Messaging.LocoPrefix = raw.Messaging.LocoPrefix
	}
	if meta.IsDefined("messaging", "interval") {
		if cfg.Messaging.Interval, err = parseDuration(raw.Messaging.Interval); err != nil {
			return config{}, errors.Wrap(err, "messaging.interval")
		}
	}

	if meta.IsDefined("track", "conn_timeout") {
		if cfg.Track.ConnTimeout, err = parseDuration(raw.Track.ConnTimeout); err != nil {
			return config{}, errors.Wrap(err, "track.conn_timeout")
		}
	}
	if meta.IsDefined("track", "radios") {
		if raw.Track.Radios < 1 {
			return config{}, errors.New("track.radios must be at least 1")
		}
		cfg.Track.Radios = raw.Track.Radios
	}

	for _, b := range raw.Track.Bases {
		if b.ID == "" {
			return config{}, errors.New("every base needs an id")
		}
		if len(b.Coverage) != 2 || b.Coverage[0] > b.Coverage[1] {
			return config{}, errors.Errorf("base %q: coverage must be [start, end]", b.ID)
		}
		cfg.Track.Bases = append(cfg.Track.Bases, &track.Base{
			ID:            b.ID,
			CoverageStart: b.Coverage[0],
			CoverageEnd:   b.Coverage[1],
			Location: track.Location{
				Milepost: (b.Coverage[0] + b.Coverage[1]) / 2,
				Lat:      b.Lat,
				Long:     b.Long,
			},
		})
	}

	for _, l := range raw.Track.Locos {
		if l.ID == "" {
			return config{}, errors.New("every loco needs an id")
		}
		direction := track.Direction(l.Direction)
		if direction == "" {
			direction = track.DirectionIncreasing
		}
		if direction != track.DirectionIncreasing && direction != track.DirectionDecreasing {
			return config{}, errors.Errorf("loco %q: unknown direction %q", l.ID, l.Direction)
		}
		cfg.Track.Locos = append(cfg.Track.Locos, &track.Loco{
			ID:        l.ID,
			Addr:      cfg.Messaging.LocoPrefix + l.ID,
			Speed:     l.Speed,
			Heading:   l.Heading,
			Direction: direction,
			Location: track.Location{
				Milepost: l.Milepost,
				Lat:      l.Lat,
				Long:     l.Long,
			},
			BPP: l.BPP,
		})
	}

	return cfg, nil
}

func defaultConfig() config {
	var cfg config
	cfg.Broker.Host = "localhost"
	cfg.Broker.SendPort = 18182
	cfg.Broker.FetchPort = 18183
	cfg.Broker.MaxFrameSize = 10240
	cfg.Broker.NetTimeout = 5 * time.Second
	cfg.Messaging.BOSAddr = "arr.bos"
	cfg.Messaging.LocoPrefix = "arr.l."
	cfg.Messaging.Interval = 5 * time.Second
	cfg.Track.ConnTimeout = 10 * time.Second
	cfg.Track.Radios = 2
	return cfg
}

func (c config) clientConfig() ptcsim.ClientConfig {
	return ptcsim.ClientConfig{
		Host:         c.Broker.Host,
		SendPort:     c.Broker.SendPort,
		FetchPort:    c.Broker.FetchPort,
		MaxFrameSize: c.Broker.MaxFrameSize,
		NetTimeout:   c.Broker.NetTimeout,
	}
}

func (c config) loco(id string) (*track.Loco, bool) {
	for _, loco := range c.Track.Locos {
		if loco.ID == id {
			return loco, true
		}
	}
	return nil, false
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if d <= 0 {
		return 0, errors.New("duration must be positive")
	}
	return d, nil
}
