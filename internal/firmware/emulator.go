package firmware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/renodectl/internal/backoff"
	"github.com/danmuck/renodectl/internal/observability"
	"github.com/danmuck/renodectl/internal/packet"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnectExhausted = errors.New("firmware: connect attempts exhausted")
	ErrInvalidConfig    = errors.New("firmware: invalid config")
	ErrEncode           = errors.New("firmware: reading cannot be encoded")
)

// Config drives one emulated device.
type Config struct {
	DeviceID           string
	Target             string
	Interval           time.Duration
	ReplyTimeout       time.Duration
	MaxPackets         int
	MaxConnectAttempts int
	Backoff            backoff.Config
}

func DefaultConfig() Config {
	return Config{
		DeviceID:     "STM32_REAL_001",
		Target:       "localhost:8888",
		Interval:     10 * time.Second,
		ReplyTimeout: 5 * time.Second,
		Backoff:      backoff.DefaultConfig(),
	}
}

// Counters is a snapshot of emulator activity.
type Counters struct {
	Sent     uint64
	Acked    uint64
	Rejected uint64
	Failures uint64
}

// Emulator sends sensor frames to the receiver on a fixed cadence and
// reconnects with backoff when the link drops.
type Emulator struct {
	cfg    Config
	sensor Sensor
	dialer net.Dialer
	now    func() time.Time

	sent     atomic.Uint64
	acked    atomic.Uint64
	rejected atomic.Uint64
	failures atomic.Uint64
}

func New(cfg Config, sensor Sensor) (*Emulator, error) {
	if strings.TrimSpace(cfg.DeviceID) == "" || strings.TrimSpace(cfg.Target) == "" {
		return nil, fmt.Errorf("%w: device id and target are required", ErrInvalidConfig)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 5 * time.Second
	}
	if sensor == nil {
		sensor = NewRandomSensor(cfg.DeviceID, time.Now().UnixNano())
	}
	observability.RegisterMetrics()
	return &Emulator{
		cfg:    cfg,
		sensor: sensor,
		dialer: net.Dialer{Timeout: 5 * time.Second},
		now:    time.Now,
	}, nil
}

func (e *Emulator) Counters() Counters {
	return Counters{
		Sent:     e.sent.Load(),
		Acked:    e.acked.Load(),
		Rejected: e.rejected.Load(),
		Failures: e.failures.Load(),
	}
}

// Run blocks until ctx is done or MaxPackets frames were sent. A reading the
// sensor produces that cannot be encoded ends the run with ErrEncode.
func (e *Emulator) Run(ctx context.Context) error {
	log.Info().
		Str("device", e.cfg.DeviceID).
		Str("target", e.cfg.Target).
		Dur("interval", e.cfg.Interval).
		Msg("firmware.Emulator.Run starting")

	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := e.dialer.DialContext(ctx, "tcp", e.cfg.Target)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			if e.cfg.MaxConnectAttempts > 0 && attempt >= e.cfg.MaxConnectAttempts {
				return fmt.Errorf("%w: target=%s attempts=%d: %v", ErrConnectExhausted, e.cfg.Target, attempt, err)
			}
			log.Warn().Err(err).Int("attempt", attempt).Str("target", e.cfg.Target).
				Msg("firmware.Emulator.Run connect failed")
			if err := backoff.Wait(ctx, e.cfg.Backoff, attempt, nil); err != nil {
				return nil
			}
			continue
		}
		attempt = 0
		log.Info().Str("target", e.cfg.Target).Msg("firmware.Emulator.Run connected")

		finished, err := e.session(ctx, conn)
		_ = conn.Close()
		if finished {
			log.Info().Uint64("sent", e.sent.Load()).Msg("firmware.Emulator.Run stopped")
			return nil
		}
		if errors.Is(err, ErrEncode) {
			log.Error().Err(err).Msg("firmware.Emulator.Run cannot encode reading")
			return err
		}
		e.failures.Add(1)
		log.Warn().Err(err).Msg("firmware.Emulator.Run session lost")
		if err := backoff.Wait(ctx, e.cfg.Backoff, 1, nil); err != nil {
			return nil
		}
	}
}

// session sends frames over one connection. finished reports that the run is
// over (context done or packet budget spent) rather than the link failing.
func (e *Emulator) session(ctx context.Context, conn net.Conn) (finished bool, err error) {
	replies := bufio.NewReader(conn)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := e.sendOne(conn, replies); err != nil {
			observability.RecordFirmwareSend(false)
			return false, err
		}
		observability.RecordFirmwareSend(true)

		if e.cfg.MaxPackets > 0 && e.sent.Load() >= uint64(e.cfg.MaxPackets) {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return true, nil
		case <-ticker.C:
		}
	}
}

func (e *Emulator) sendOne(conn net.Conn, replies *bufio.Reader) error {
	reading := e.sensor.Read(e.now())
	buf, err := packet.Encode(reading)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(e.cfg.ReplyTimeout))
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("firmware: send: %w", err)
	}
	seq := e.sent.Add(1)
	log.Info().
		Uint64("seq", seq).
		Int("bytes", len(buf)).
		Float64("temperature", reading.Temperature).
		Float64("humidity", reading.Humidity).
		Msg("firmware.Emulator.sendOne sent")

	_ = conn.SetReadDeadline(time.Now().Add(e.cfg.ReplyTimeout))
	line, err := replies.ReadString('\n')
	if err != nil {
		return fmt.Errorf("firmware: reply: %w", err)
	}
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "ACK") {
		e.acked.Add(1)
		log.Info().Uint64("seq", seq).Str("reply", line).Msg("firmware.Emulator.sendOne acked")
	} else {
		e.rejected.Add(1)
		log.Warn().Uint64("seq", seq).Str("reply", line).Msg("firmware.Emulator.sendOne rejected")
	}
	return nil
}
