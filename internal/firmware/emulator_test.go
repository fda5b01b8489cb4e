package firmware

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/danmuck/renodectl/internal/backoff"
	"github.com/danmuck/renodectl/internal/packet"
	"github.com/danmuck/renodectl/internal/testutil/testlog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastConfig(target string) Config {
	cfg := DefaultConfig()
	cfg.Target = target
	cfg.Interval = 10 * time.Millisecond
	cfg.ReplyTimeout = 2 * time.Second
	cfg.Backoff = backoff.Config{InitialDelay: 5 * time.Millisecond, Multiplier: 2, MaxDelay: 20 * time.Millisecond}
	return cfg
}

// replyServer answers every frame with reply and reports decoded readings.
func replyServer(t *testing.T, reply string) (string, <-chan packet.Reading) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	readings := make(chan packet.Reading, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			func() {
				defer conn.Close()
				r := packet.NewReader(conn)
				for {
					raw, err := r.Next()
					if err != nil {
						return
					}
					if rd, err := packet.Decode(raw); err == nil {
						readings <- rd
					}
					if _, err := io.WriteString(conn, reply); err != nil {
						return
					}
				}
			}()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
	})
	return ln.Addr().String(), readings
}

func TestRandomSensorRanges(t *testing.T) {
	s := NewRandomSensor("STM32_REAL_001", 7)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 1000; i++ {
		r := s.Read(now)
		if r.Temperature < 20 || r.Temperature > 30 {
			t.Fatalf("temperature out of range: %v", r.Temperature)
		}
		if r.Humidity < 40 || r.Humidity > 80 {
			t.Fatalf("humidity out of range: %v", r.Humidity)
		}
		if r.Pressure < 980 || r.Pressure > 1020 {
			t.Fatalf("pressure out of range: %v", r.Pressure)
		}
		if r.Voltage < 3.2 || r.Voltage > 3.8 {
			t.Fatalf("voltage out of range: %v", r.Voltage)
		}
		if r.CPUUsage < 10 || r.CPUUsage > 50 {
			t.Fatalf("cpu out of range: %v", r.CPUUsage)
		}
		if r.Timestamp != "2025-03-01T12:00:00.000000" {
			t.Fatalf("unexpected timestamp: %q", r.Timestamp)
		}
		if _, err := packet.Encode(r); err != nil {
			t.Fatalf("reading must always encode: %v", err)
		}
	}
}

func TestEmulatorSendsBudgetAndStops(t *testing.T) {
	testlog.Start(t)
	addr, readings := replyServer(t, "ACK: Data received from STM32_REAL_001\n")

	cfg := fastConfig(addr)
	cfg.MaxPackets = 3
	emu, err := New(cfg, NewRandomSensor(cfg.DeviceID, 1))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := emu.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := emu.Counters()
	if got.Sent != 3 || got.Acked != 3 || got.Rejected != 0 || got.Failures != 0 {
		t.Fatalf("unexpected counters: %+v", got)
	}
	for i := 0; i < 3; i++ {
		rd := <-readings
		if rd.DeviceID != "STM32_REAL_001" {
			t.Fatalf("unexpected device: %q", rd.DeviceID)
		}
	}
	testlog.Logf(t, "firmware/emulator: sent=%d acked=%d", got.Sent, got.Acked)
}

func TestEmulatorCountsRejections(t *testing.T) {
	addr, _ := replyServer(t, "ERROR: Invalid packet format\n")
	cfg := fastConfig(addr)
	cfg.MaxPackets = 2
	emu, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := emu.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := emu.Counters(); got.Rejected != 2 || got.Acked != 0 {
		t.Fatalf("unexpected counters: %+v", got)
	}
}

func TestEmulatorConnectExhausted(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := fastConfig(addr)
	cfg.MaxConnectAttempts = 2
	emu, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := emu.Run(context.Background()); !errors.Is(err, ErrConnectExhausted) {
		t.Fatalf("expected ErrConnectExhausted, got %v", err)
	}
}

func TestEmulatorReconnectsAfterDrop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		first, err := ln.Accept()
		if err != nil {
			return
		}
		_ = first.Close()

		second, err := ln.Accept()
		if err != nil {
			return
		}
		defer second.Close()
		r := packet.NewReader(second)
		for {
			if _, err := r.Next(); err != nil {
				return
			}
			if _, err := io.WriteString(second, "ACK: Data received from STM32_REAL_001\n"); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
	})

	cfg := fastConfig(ln.Addr().String())
	cfg.MaxPackets = 2
	emu, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := emu.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := emu.Counters()
	if got.Failures != 1 || got.Acked < 1 {
		t.Fatalf("expected one dropped session then acks, got %+v", got)
	}
}

func TestEmulatorStopsOnCancel(t *testing.T) {
	addr, _ := replyServer(t, "ACK: Data received from STM32_REAL_001\n")
	cfg := fastConfig(addr)
	cfg.Interval = time.Hour
	emu, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- emu.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for emu.Counters().Acked == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("emulator ignored cancellation")
	}
}

type fixedSensor struct{ reading packet.Reading }

func (s fixedSensor) Read(now time.Time) packet.Reading {
	r := s.reading
	r.Timestamp = packet.StampNow(now)
	return r
}

func TestEmulatorEncodeErrorEndsRun(t *testing.T) {
	addr, _ := replyServer(t, "ACK: Data received from STM32_REAL_001\n")
	sensor := fixedSensor{reading: packet.Reading{DeviceID: "STM32_REAL_001", Temperature: 1000, Humidity: 50}}
	emu, err := New(fastConfig(addr), sensor)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- emu.Run(context.Background()) }()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrEncode) || !errors.Is(err, packet.ErrFieldRange) {
			t.Fatalf("expected ErrEncode wrapping ErrFieldRange, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("emulator kept reconnecting on an unencodable reading")
	}
	if c := emu.Counters(); c.Failures != 0 || c.Sent != 0 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = 0
	if _, err := New(cfg, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	cfg = DefaultConfig()
	cfg.DeviceID = " "
	if _, err := New(cfg, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
