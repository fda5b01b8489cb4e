package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/renodectl/internal/packet"
	"github.com/danmuck/renodectl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "renode.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func reading(device string, temp, hum float64) packet.Reading {
	return packet.Reading{
		DeviceID:    device,
		Timestamp:   "2025-03-01T12:00:00.000000",
		Temperature: temp,
		Humidity:    hum,
		Pressure:    1000,
		Voltage:     3.3,
		CPUUsage:    20,
	}
}

func TestInsertAndList(t *testing.T) {
	testlog.Start(t)
	s := openTemp(t)
	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 5, 0, time.UTC) }
	ctx := context.Background()

	id, err := s.Insert(ctx, Record{Reading: reading("dev-a", 21.5, 50), PacketSize: packet.Size, SessionID: "sess-1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	_, err = s.Insert(ctx, Record{Reading: reading("dev-b", 23.5, 60), PacketSize: packet.Size, Source: "bench"})
	require.NoError(t, err)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "dev-a", all[0].Reading.DeviceID)
	require.Equal(t, 21.5, all[0].Reading.Temperature)
	require.Equal(t, "2025-03-01 12:00:05", all[0].ReceivedAt)
	require.Equal(t, DefaultSource, all[0].Source)
	require.Equal(t, "sess-1", all[0].SessionID)
	require.Equal(t, "bench", all[1].Source)
	require.Empty(t, all[1].SessionID)
	testlog.Logf(t, "store/list: rows=%d first=%s", len(all), all[0].Reading.DeviceID)
}

func TestListLimitReturnsNewestOldestFirst(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	for _, dev := range []string{"d1", "d2", "d3", "d4"} {
		_, err := s.Insert(ctx, Record{Reading: reading(dev, 20, 40)})
		require.NoError(t, err)
	}
	got, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "d3", got[0].Reading.DeviceID)
	require.Equal(t, "d4", got[1].Reading.DeviceID)
}

func TestStatsEmptyAndPopulated(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{}, empty)

	s.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	_, err = s.Insert(ctx, Record{Reading: reading("dev-a", 20, 40)})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	_, err = s.Insert(ctx, Record{Reading: reading("dev-a", 30, 60)})
	require.NoError(t, err)
	_, err = s.Insert(ctx, Record{Reading: reading("dev-b", 25, 50)})
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), st.TotalRecords)
	require.Equal(t, int64(2), st.UniqueDevices)
	require.InDelta(t, 25.0, st.AvgTemperature, 1e-9)
	require.InDelta(t, 50.0, st.AvgHumidity, 1e-9)
	require.Equal(t, "2025-03-01 10:00:00", st.LastRecord)
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renode.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Insert(context.Background(), Record{Reading: reading("dev-a", 20, 40)})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	rows, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestClosedStore(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Close())
	_, err := s.Insert(context.Background(), Record{Reading: reading("dev-a", 20, 40)})
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.Stats(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
