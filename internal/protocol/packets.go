package protocol

import (
	"sync"

	"github.com/blukai/fragrelay/internal/debug"
	"github.com/cespare/xxhash/v2"
)

// NOTE(blukai): the browser client carries a copy of this exact table. ids and
// layouts must only ever change on both sides at once; there is no version
// negotiation on the wire. TableFingerprint exists so that a mismatch can at
// least be spotted in logs and on /api/status.

// NOTE(blukai): "Send" schemas go from a client to the relay, "Recv" schemas go
// from the relay to clients with the sender's session id stamped in.

var (
	Disconnect = NewSchema(0, "Disconnect",
		U8("userId"),
	)

	MovementSend = NewSchema(1, "MovementSend",
		F32("x"), F32("y"), F32("z"), F32("angle"),
	)
	MovementRecv = NewSchema(2, "MovementRecv",
		U8("userId"),
		F32("x"), F32("y"), F32("z"), F32("angle"),
	)

	PlaySoundSend = NewSchema(3, "PlaySoundSend",
		U16("soundIndex"),
	)
	PlaySoundRecv = NewSchema(4, "PlaySoundRecv",
		U8("userId"),
		U16("soundIndex"),
	)

	UpdateHealthSend = NewSchema(5, "UpdateHealthSend",
		F32("health"),
	)
	UpdateHealthRecv = NewSchema(6, "UpdateHealthRecv",
		U8("userId"),
		F32("health"),
	)

	Shot = NewSchema(7, "Shot",
		F32("ox"), F32("oy"), F32("oz"),
		F32("px"), F32("py"), F32("pz"),
	)

	HitPlayerSend = NewSchema(8, "HitPlayerSend",
		U8("hitUserId"),
	)
	HitPlayerRecv = NewSchema(9, "HitPlayerRecv")

	TransferString = NewSchema(10, "TransferString",
		Str16("text"),
	)
)

var (
	schemas = []*Schema{
		Disconnect,
		MovementSend,
		MovementRecv,
		PlaySoundSend,
		PlaySoundRecv,
		UpdateHealthSend,
		UpdateHealthRecv,
		Shot,
		HitPlayerSend,
		HitPlayerRecv,
		TransferString,
	}

	byID [256]*Schema
)

func init() {
	for _, s := range schemas {
		debug.Assertf(byID[s.id] == nil, "duplicate schema id %d (%s and %s)", s.id, byID[s.id], s)
		byID[s.id] = s
	}
}

// Lookup returns the registered schema for a leading id byte.
func Lookup(id uint8) (*Schema, bool) {
	s := byID[id]
	return s, s != nil
}

// Schemas returns the registered schemas in id order.
func Schemas() []*Schema {
	return append([]*Schema(nil), schemas...)
}

var (
	fingerprintOnce sync.Once
	fingerprint     uint64
)

// TableFingerprint hashes ids, names and field kinds of the schema table.
func TableFingerprint() uint64 {
	fingerprintOnce.Do(func() {
		d := xxhash.New()
		for _, s := range schemas {
			d.Write([]byte{s.id, uint8(len(s.fields))})
			d.WriteString(s.name)
			for _, f := range s.fields {
				d.Write([]byte{uint8(f.Kind)})
			}
		}
		fingerprint = d.Sum64()
	})
	return fingerprint
}

func mustEncode(s *Schema, values ...any) []byte {
	data, err := s.Encode(values...)
	debug.Assertf(err == nil, "could not encode %s: %v", s, err)
	return data
}

func EncodeDisconnect(userID uint8) []byte {
	return mustEncode(Disconnect, userID)
}

func EncodeMovementSend(x, y, z, angle float32) []byte {
	return mustEncode(MovementSend, x, y, z, angle)
}

func EncodeMovementRecv(userID uint8, x, y, z, angle float32) []byte {
	return mustEncode(MovementRecv, userID, x, y, z, angle)
}

func EncodePlaySoundSend(soundIndex uint16) []byte {
	return mustEncode(PlaySoundSend, soundIndex)
}

func EncodePlaySoundRecv(userID uint8, soundIndex uint16) []byte {
	return mustEncode(PlaySoundRecv, userID, soundIndex)
}

func EncodeUpdateHealthSend(health float32) []byte {
	return mustEncode(UpdateHealthSend, health)
}

func EncodeUpdateHealthRecv(userID uint8, health float32) []byte {
	return mustEncode(UpdateHealthRecv, userID, health)
}

func EncodeShot(ox, oy, oz, px, py, pz float32) []byte {
	return mustEncode(Shot, ox, oy, oz, px, py, pz)
}

func EncodeHitPlayerSend(hitUserID uint8) []byte {
	return mustEncode(HitPlayerSend, hitUserID)
}

func EncodeHitPlayerRecv() []byte {
	return mustEncode(HitPlayerRecv)
}

// EncodeTransferString truncates text longer than ShortStringSize bytes.
func EncodeTransferString(text string) []byte {
	return mustEncode(TransferString, text)
}

// the decode helpers below are the inverse of the Encode* functions. they
// panic when pkt is not of the named schema.

func mustBe(pkt Packet, s *Schema) {
	debug.Assertf(pkt.ID == s.id, "packet %d is not %s", pkt.ID, s)
}

func DisconnectValues(pkt Packet) (userID uint8) {
	mustBe(pkt, Disconnect)
	return pkt.Uint8(0)
}

func MovementSendValues(pkt Packet) (x, y, z, angle float32) {
	mustBe(pkt, MovementSend)
	return pkt.Float32(0), pkt.Float32(1), pkt.Float32(2), pkt.Float32(3)
}

func MovementRecvValues(pkt Packet) (userID uint8, x, y, z, angle float32) {
	mustBe(pkt, MovementRecv)
	return pkt.Uint8(0), pkt.Float32(1), pkt.Float32(2), pkt.Float32(3), pkt.Float32(4)
}

func PlaySoundSendValues(pkt Packet) (soundIndex uint16) {
	mustBe(pkt, PlaySoundSend)
	return pkt.Uint16(0)
}

func PlaySoundRecvValues(pkt Packet) (userID uint8, soundIndex uint16) {
	mustBe(pkt, PlaySoundRecv)
	return pkt.Uint8(0), pkt.Uint16(1)
}

func UpdateHealthSendValues(pkt Packet) (health float32) {
	mustBe(pkt, UpdateHealthSend)
	return pkt.Float32(0)
}

func UpdateHealthRecvValues(pkt Packet) (userID uint8, health float32) {
	mustBe(pkt, UpdateHealthRecv)
	return pkt.Uint8(0), pkt.Float32(1)
}

func ShotValues(pkt Packet) (ox, oy, oz, px, py, pz float32) {
	mustBe(pkt, Shot)
	return pkt.Float32(0), pkt.Float32(1), pkt.Float32(2),
		pkt.Float32(3), pkt.Float32(4), pkt.Float32(5)
}

func HitPlayerSendValues(pkt Packet) (hitUserID uint8) {
	mustBe(pkt, HitPlayerSend)
	return pkt.Uint8(0)
}

func TransferStringValues(pkt Packet) (text string) {
	mustBe(pkt, TransferString)
	return pkt.String(0)
}
