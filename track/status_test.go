package track_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	ptcsim "github.com/dbuentello/PTC-Sim"
	"github.com/dbuentello/PTC-Sim/track"
	"github.com/dbuentello/PTC-Sim/wire"
)

func newTestLoco() *track.Loco {
	radio1 := ptcsim.NewConnection(nil, ptcsim.ConnectionConfig{ID: "radio1"})
	radio1.Connect(&track.Base{ID: "base2"})
	radio2 := ptcsim.NewConnection(nil, ptcsim.ConnectionConfig{ID: "radio2"})
	radio2.Connect(&track.Base{ID: "base1"})
	radio3 := ptcsim.NewConnection(nil, ptcsim.ConnectionConfig{ID: "radio3"})

	return &track.Loco{
		ID:        "7357",
		Addr:      "arr.l.7357",
		Speed:     55,
		Heading:   90,
		Direction: track.DirectionIncreasing,
		Location:  track.Location{Milepost: 12.3, Lat: 38.5, Long: -90.3},
		BPP:       90,
		Connections: map[string]*ptcsim.Connection{
			"radio1": radio1,
			"radio2": radio2,
			"radio3": radio3,
		},
	}
}

func TestStatusMessage(t *testing.T) {
	requireT := require.New(t)

	msg, err := track.StatusMessage(newTestLoco(), "arr.bos")
	requireT.NoError(err)

	requireT.Equal(track.MsgLocoStatus, msg.Type)
	requireT.Equal("arr.l.7357", msg.Sender)
	requireT.Equal("arr.bos", msg.Dest)
	requireT.Equal(
		[]string{"loco", "speed", "heading", "direction", "milepost", "lat", "long", "bpp", "conns"},
		msg.Payload.Keys(),
	)

	// Sorted by label; the unconnected radio is absent.
	conns, err := msg.Payload.String("conns")
	requireT.NoError(err)
	requireT.Equal("radio1=base2,radio2=base1", conns)
}

func TestStatusRoundTrip(t *testing.T) {
	requireT := require.New(t)

	msg, err := track.StatusMessage(newTestLoco(), "arr.bos")
	requireT.NoError(err)

	decoded, err := wire.Decode(msg.Encoded())
	requireT.NoError(err)

	status, err := track.ParseStatus(decoded)
	requireT.NoError(err)
	requireT.Equal(track.Status{
		LocoID:    "7357",
		Speed:     55,
		Heading:   90,
		Direction: track.DirectionIncreasing,
		Milepost:  12.3,
		Lat:       38.5,
		Long:      -90.3,
		BPP:       90,
		Conns: map[string]string{
			"radio1": "base2",
			"radio2": "base1",
		},
	}, status)
}

func TestParseStatusRejections(t *testing.T) {
	requireT := require.New(t)

	// Wrong message type.
	msg, err := wire.NewMessage(1234, "arr.l.7357", "arr.bos", nil)
	requireT.NoError(err)
	_, err = track.ParseStatus(msg)
	requireT.ErrorIs(err, wire.ErrPayload)

	// Missing fields.
	payload := wire.NewPayload()
	requireT.NoError(payload.Set("loco", "7357"))
	msg, err = wire.NewMessage(track.MsgLocoStatus, "arr.l.7357", "arr.bos", payload)
	requireT.NoError(err)
	_, err = track.ParseStatus(msg)
	requireT.ErrorIs(err, wire.ErrPayload)

	// Mistyped field.
	loco := newTestLoco()
	good, err := track.StatusMessage(loco, "arr.bos")
	requireT.NoError(err)
	payload = wire.NewPayload()
	for _, key := range good.Payload.Keys() {
		v, _ := good.Payload.Get(key)
		requireT.NoError(payload.Set(key, v))
	}
	requireT.NoError(payload.Set("speed", "fast"))
	msg, err = wire.NewMessage(track.MsgLocoStatus, "arr.l.7357", "arr.bos", payload)
	requireT.NoError(err)
	_, err = track.ParseStatus(msg)
	requireT.ErrorIs(err, wire.ErrPayload)
}

func TestCADMessage(t *testing.T) {
	requireT := require.New(t)

	msg, err := track.CADMessage("arr.bos", "arr.l.7357", "7357", "reduce speed to 25")
	requireT.NoError(err)

	requireT.Equal(track.MsgCAD, msg.Type)
	requireT.Equal("arr.bos", msg.Sender)
	requireT.Equal("arr.l.7357", msg.Dest)

	decoded, err := wire.Decode(msg.Encoded())
	requireT.NoError(err)

	id, err := decoded.Payload.String("ID")
	requireT.NoError(err)
	requireT.Equal("7357", id)

	directive, err := decoded.Payload.String("directive")
	requireT.NoError(err)
	requireT.Equal("reduce speed to 25", directive)
}
