package track

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/dbuentello/PTC-Sim/wire"
)

// Well-known message types.
const (
	// MsgLocoStatus is the periodic loco telemetry message.
	MsgLocoStatus uint16 = 6000

	// MsgCAD is a computer-aided-dispatch directive addressed to one loco.
	MsgCAD uint16 = 6001
)

// Status is the decoded content of a loco status message.
type Status struct {
	LocoID    string
	Speed     float64
	Heading   float64
	Direction Direction
	Milepost  float64
	Lat       float64
	Long      float64
	BPP       float64

	// Conns maps radio label to the ID of the connected base.
	Conns map[string]string
}

// StatusMessage builds the loco's telemetry message addressed to the back
// office. The conns field is a flat "label=baseID" list sorted by label, so
// the payload stays primitive-only.
func StatusMessage(loco *Loco, bosAddr string) (*wire.Message, error) {
	conns := map[string]string{}
	for label, conn := range loco.Connections {
		if base, ok := conn.Partner().(*Base); ok {
			conns[label] = base.ID
		}
	}

	payload := wire.NewPayload()
	for _, field := range []struct {
		key   string
		value any
	}{
		{key: "loco", value: loco.ID},
		{key: "speed", value: loco.Speed},
		{key: "heading", value: loco.Heading},
		{key: "direction", value: string(loco.Direction)},
		{key: "milepost", value: loco.Location.Milepost},
		{key: "lat", value: loco.Location.Lat},
		{key: "long", value: loco.Location.Long},
		{key: "bpp", value: loco.BPP},
		{key: "conns", value: formatConns(conns)},
	} {
		if err := payload.Set(field.key, field.value); err != nil {
			return nil, err
		}
	}

	return wire.NewMessage(MsgLocoStatus, loco.Addr, bosAddr, payload)
}

// ParseStatus decodes the payload of a loco status message.
func ParseStatus(msg *wire.Message) (Status, error) {
	if msg.Type != MsgLocoStatus {
		return Status{}, errors.Wrapf(wire.ErrPayload, "message type %d is not a loco status", msg.Type)
	}

	var status Status
	var err error
	p := msg.Payload

	if status.LocoID, err = p.String("loco"); err != nil {
		return Status{}, err
	}
	if status.Speed, err = p.Float("speed"); err != nil {
		return Status{}, err
	}
	if status.Heading, err = p.Float("heading"); err != nil {
		return Status{}, err
	}

	direction, err := p.String("direction")
	if err != nil {
		return Status{}, err
	}
	status.Direction = Direction(direction)

	if status.Milepost, err = p.Float("milepost"); err != nil {
		return Status{}, err
	}
	if status.Lat, err = p.Float("lat"); err != nil {
		return Status{}, err
	}
	if status.Long, err = p.Float("long"); err != nil {
		return Status{}, err
	}
	if status.BPP, err = p.Float("bpp"); err != nil {
		return Status{}, err
	}

	conns, err := p.String("conns")
	if err != nil {
		return Status{}, err
	}
	if status.Conns, err = parseConns(conns); err != nil {
		return Status{}, err
	}

	return status, nil
}

// CADMessage builds a dispatch directive for the loco with the given ID,
// queued under locoAddr. The ID travels in the payload so a loco draining a
// shared address can skip directives meant for others.
func CADMessage(sender, locoAddr, locoID, directive string) (*wire.Message, error) {
	payload := wire.NewPayload()
	if err := payload.Set("ID", locoID); err != nil {
		return nil, err
	}
	if err := payload.Set("directive", directive); err != nil {
		return nil, err
	}

	return wire.NewMessage(MsgCAD, sender, locoAddr, payload)
}

func formatConns(conns map[string]string) string {
	labels := make([]string, 0, len(conns))
	for label := range conns {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	pairs := make([]string, 0, len(labels))
	for _, label := range labels {
		pairs = append(pairs, label+"="+conns[label])
	}
	return strings.Join(pairs, ",")
}

func parseConns(s string) (map[string]string, error) {
	conns := map[string]string{}
	if s == "" {
		return conns, nil
	}

	for _, pair := range strings.Split(s, ",") {
		label, baseID, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.Wrapf(wire.ErrPayload, "malformed conns entry %q", pair)
		}
		conns[label] = baseID
	}
	return conns, nil
}
