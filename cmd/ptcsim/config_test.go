package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbuentello/PTC-Sim/track"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "ptcsim.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	requireT := require.New(t)

	cfg, err := loadConfig(writeConfig(t, ""))
	requireT.NoError(err)

	requireT.Equal("localhost", cfg.Broker.Host)
	requireT.EqualValues(18182, cfg.Broker.SendPort)
	requireT.EqualValues(18183, cfg.Broker.FetchPort)
	requireT.EqualValues(10240, cfg.Broker.MaxFrameSize)
	requireT.Equal(5*time.Second, cfg.Broker.NetTimeout)
	requireT.Equal("arr.bos", cfg.Messaging.BOSAddr)
	requireT.Equal("arr.l.", cfg.Messaging.LocoPrefix)
	requireT.Equal(10*time.Second, cfg.Track.ConnTimeout)
	requireT.Equal(2, cfg.Track.Radios)
	requireT.Empty(cfg.Track.Bases)
	requireT.Empty(cfg.Track.Locos)
}

func TestLoadConfigFull(t *testing.T) {
	requireT := require.New(t)

	cfg, err := loadConfig(writeConfig(t, `
[broker]
host = "broker.example"
send_port = 2000
fetch_port = 2001
max_frame_size = 4096
network_timeout = "2s"

[messaging]
bos_addr = "x.bos"
loco_prefix = "x.l."
interval = "1s"

[track]
conn_timeout = "3s"
radios = 1

[[track.bases]]
id = "base1"
coverage = [0.0, 15.0]
lat = 38.4
long = -90.3

[[track.locos]]
id = "7357"
milepost = 12.3
speed = 55.0
heading = 90.0
direction = "decreasing"
bpp = 90.0
`))
	requireT.NoError(err)

	requireT.Equal("broker.example", cfg.Broker.Host)
	requireT.EqualValues(2000, cfg.Broker.SendPort)
	requireT.EqualValues(2001, cfg.Broker.FetchPort)
	requireT.EqualValues(4096, cfg.Broker.MaxFrameSize)
	requireT.Equal(2*time.Second, cfg.Broker.NetTimeout)
	requireT.Equal("x.bos", cfg.Messaging.BOSAddr)
	requireT.Equal(time.Second, cfg.Messaging.Interval)
	requireT.Equal(3*time.Second, cfg.Track.ConnTimeout)
	requireT.Equal(1, cfg.Track.Radios)

	requireT.Len(cfg.Track.Bases, 1)
	requireT.Equal("base1", cfg.Track.Bases[0].ID)
	requireT.Equal(0.0, cfg.Track.Bases[0].CoverageStart)
	requireT.Equal(15.0, cfg.Track.Bases[0].CoverageEnd)
	requireT.Equal(7.5, cfg.Track.Bases[0].Location.Milepost)

	requireT.Len(cfg.Track.Locos, 1)
	loco, ok := cfg.loco("7357")
	requireT.True(ok)
	requireT.Equal("x.l.7357", loco.Addr)
	requireT.Equal(55.0, loco.Speed)
	requireT.Equal(track.DirectionDecreasing, loco.Direction)

	_, ok = cfg.loco("unknown")
	requireT.False(ok)

	clientConfig := cfg.clientConfig()
	requireT.Equal("broker.example", clientConfig.Host)
	requireT.EqualValues(2000, clientConfig.SendPort)
	requireT.EqualValues(4096, clientConfig.MaxFrameSize)
}

func TestLoadConfigRejections(t *testing.T) {
	requireT := require.New(t)

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	requireT.Error(err)

	for _, content := range []string{
		"[broker]\nnetwork_timeout = \"soon\"\n",
		"[broker]\nnetwork_timeout = \"-1s\"\n",
		"[messaging]\ninterval = \"0s\"\n",
		"[track]\nradios = 0\n",
		"[[track.bases]]\ncoverage = [0.0, 1.0]\n",
		"[[track.bases]]\nid = \"b\"\ncoverage = [1.0]\n",
		"[[track.bases]]\nid = \"b\"\ncoverage = [2.0, 1.0]\n",
		"[[track.locos]]\nmilepost = 1.0\n",
		"[[track.locos]]\nid = \"x\"\ndirection = \"sideways\"\n",
	} {
		_, err := loadConfig(writeConfig(t, content))
		requireT.Error(err, "content %q", content)
	}
}
