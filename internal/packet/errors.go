package packet

import "errors"

var (
	ErrShortPacket = errors.New("packet: short packet")
	ErrBadMagic    = errors.New("packet: invalid header magic")
	ErrBadType     = errors.New("packet: unsupported packet type")
	ErrChecksum    = errors.New("packet: checksum mismatch")
	ErrFieldRange  = errors.New("packet: value out of field range")
	ErrDesync      = errors.New("packet: stream desynchronised")
)

// Reason maps a decode error to a short label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrShortPacket):
		return "short"
	case errors.Is(err, ErrBadMagic):
		return "magic"
	case errors.Is(err, ErrBadType):
		return "type"
	case errors.Is(err, ErrChecksum):
		return "checksum"
	case errors.Is(err, ErrDesync):
		return "desync"
	default:
		return "other"
	}
}
