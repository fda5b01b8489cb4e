// Package packet implements the fixed-size sensor frame exchanged between the
// firmware emulator and the host receiver.
//
// Layout (little-endian, 65 bytes):
//
//	0  magic      AA BB CC DD
//	4  type       0x02 sensor data
//	5  device_id  20 bytes, space padded
//	25 timestamp  30 bytes, space padded
//	55 temp       uint16, centi-degrees C
//	57 humidity   uint16, centi-percent
//	59 pressure   uint16, hPa
//	61 voltage    uint16, millivolts
//	63 cpu        uint8, percent
//	64 crc8       poly 0x07 over bytes 0..63
package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	Size          = 65
	TypeSensor    = 0x02
	DeviceIDLen   = 20
	TimestampLen  = 30
	TimestampForm = "2006-01-02T15:04:05.000000"

	offType      = 4
	offDeviceID  = 5
	offTimestamp = offDeviceID + DeviceIDLen
	offTemp      = offTimestamp + TimestampLen
	offHumidity  = offTemp + 2
	offPressure  = offHumidity + 2
	offVoltage   = offPressure + 2
	offCPU       = offVoltage + 2
	offCRC       = offCPU + 1
)

var Magic = [4]byte{0xAA, 0xBB, 0xCC, 0xDD}

// Reading is one decoded sensor sample.
type Reading struct {
	DeviceID    string  `json:"device_id"`
	Timestamp   string  `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Pressure    float64 `json:"pressure"`
	Voltage     float64 `json:"voltage"`
	CPUUsage    int     `json:"cpu_usage"`
}

// StampNow formats t the way the firmware writes timestamps.
func StampNow(t time.Time) string {
	return t.Format(TimestampForm)
}

// Encode renders r into a fresh 65-byte frame.
func Encode(r Reading) ([]byte, error) {
	temp, err := scaled("temperature", r.Temperature, 100)
	if err != nil {
		return nil, err
	}
	hum, err := scaled("humidity", r.Humidity, 100)
	if err != nil {
		return nil, err
	}
	pres, err := scaled("pressure", r.Pressure, 1)
	if err != nil {
		return nil, err
	}
	volt, err := scaled("voltage", r.Voltage, 1000)
	if err != nil {
		return nil, err
	}
	if r.CPUUsage < 0 || r.CPUUsage > math.MaxUint8 {
		return nil, fmt.Errorf("%w: cpu_usage=%d", ErrFieldRange, r.CPUUsage)
	}

	buf := make([]byte, Size)
	copy(buf[0:4], Magic[:])
	buf[offType] = TypeSensor
	putPadded(buf[offDeviceID:offTimestamp], r.DeviceID)
	putPadded(buf[offTimestamp:offTemp], r.Timestamp)
	binary.LittleEndian.PutUint16(buf[offTemp:], temp)
	binary.LittleEndian.PutUint16(buf[offHumidity:], hum)
	binary.LittleEndian.PutUint16(buf[offPressure:], pres)
	binary.LittleEndian.PutUint16(buf[offVoltage:], volt)
	buf[offCPU] = byte(r.CPUUsage)
	buf[offCRC] = CRC8(buf[:offCRC])
	return buf, nil
}

// Decode validates and parses one complete frame.
func Decode(b []byte) (Reading, error) {
	if len(b) < Size {
		return Reading{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	if !bytes.Equal(b[0:4], Magic[:]) {
		return Reading{}, ErrBadMagic
	}
	if b[offType] != TypeSensor {
		return Reading{}, fmt.Errorf("%w: 0x%02x", ErrBadType, b[offType])
	}
	if want := CRC8(b[:offCRC]); b[offCRC] != want {
		return Reading{}, fmt.Errorf("%w: got=0x%02x want=0x%02x", ErrChecksum, b[offCRC], want)
	}
	return Reading{
		DeviceID:    trimPadded(b[offDeviceID:offTimestamp]),
		Timestamp:   trimPadded(b[offTimestamp:offTemp]),
		Temperature: float64(binary.LittleEndian.Uint16(b[offTemp:])) / 100,
		Humidity:    float64(binary.LittleEndian.Uint16(b[offHumidity:])) / 100,
		Pressure:    float64(binary.LittleEndian.Uint16(b[offPressure:])),
		Voltage:     float64(binary.LittleEndian.Uint16(b[offVoltage:])) / 1000,
		CPUUsage:    int(b[offCPU]),
	}, nil
}

// CRC8 is the MSB-first CRC-8 with polynomial 0x07 and zero init.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func scaled(name string, v, factor float64) (uint16, error) {
	n := math.Round(v * factor)
	if math.IsNaN(n) || n < 0 || n > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %s=%v", ErrFieldRange, name, v)
	}
	return uint16(n), nil
}

// putPadded writes s left-aligned and space padded; long values are cut at
// the field width.
func putPadded(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = ' '
	}
}

func trimPadded(b []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(b), ""))
}
