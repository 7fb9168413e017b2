package roster

import (
	"math"

	"github.com/blukai/fragrelay/internal/protocol"
)

const (
	// positions closer than this are the same position.
	positionEpsilon = 1e-6
	// turning less than this (radians) is not worth a packet.
	angleEpsilon = 1e-2
)

// MovementThrottle remembers the last replicated transform of the local
// player and filters out updates that would not visibly move its puppet on
// other clients.
type MovementThrottle struct {
	sent           bool
	x, y, z, angle float32
}

// Next returns the MovementSend packet for the given transform, or nil if the
// transform is too close to the last one returned.
func (t *MovementThrottle) Next(x, y, z, angle float32) []byte {
	if t.sent && t.almostSame(x, y, z, angle) {
		return nil
	}

	t.sent = true
	t.x, t.y, t.z, t.angle = x, y, z, angle
	return protocol.EncodeMovementSend(x, y, z, angle)
}

func (t *MovementThrottle) almostSame(x, y, z, angle float32) bool {
	return almostZero(x-t.x) &&
		almostZero(y-t.y) &&
		almostZero(z-t.z) &&
		math.Abs(float64(angle-t.angle)) < angleEpsilon
}

func almostZero(d float32) bool {
	return math.Abs(float64(d)) <= positionEpsilon
}
