// Package viewer prints stored sensor readings and summary statistics.
package viewer

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/danmuck/renodectl/internal/store"
)

// Source is the read side of the reading store.
type Source interface {
	List(ctx context.Context, limit int) ([]store.Record, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Viewer writes readings and statistics to an output stream.
type Viewer struct {
	src    Source
	styles Styles
}

func New(src Source) *Viewer {
	return &Viewer{src: src, styles: DefaultStyles()}
}

// ShowAll prints every stored reading followed by the record count. A limit
// above zero keeps only the newest rows; the count is then taken from Stats
// and the shown count printed beside it.
func (v *Viewer) ShowAll(ctx context.Context, w io.Writer, limit int) error {
	records, err := v.src.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("viewer: list readings: %w", err)
	}

	t := newTable("Renode STM32 readings",
		"id", "device_id", "temperature", "humidity", "pressure", "voltage", "cpu_usage", "received_at")
	for _, rec := range records {
		r := rec.Reading
		t.addRow(
			strconv.FormatInt(rec.ID, 10),
			r.DeviceID,
			fmt.Sprintf("%.2f", r.Temperature),
			fmt.Sprintf("%.2f", r.Humidity),
			fmt.Sprintf("%.0f", r.Pressure),
			fmt.Sprintf("%.3f", r.Voltage),
			strconv.Itoa(r.CPUUsage),
			rec.ReceivedAt,
		)
	}

	if len(records) == 0 {
		fmt.Fprintln(w, v.styles.Title.Render("Renode STM32 readings"))
		fmt.Fprintln(w, v.styles.Muted.Render("database is empty"))
	} else {
		fmt.Fprint(w, t.view(v.styles))
	}

	total := int64(len(records))
	if limit > 0 && len(records) >= limit {
		st, err := v.src.Stats(ctx)
		if err != nil {
			return fmt.Errorf("viewer: count readings: %w", err)
		}
		total = st.TotalRecords
	}
	if _, err := fmt.Fprintf(w, "\nTotal records: %d\n", total); err != nil {
		return err
	}
	if int64(len(records)) < total {
		_, err = fmt.Fprintf(w, "Shown records: %d\n", len(records))
	}
	return err
}

// ShowStats prints the aggregate statistics for the readings table.
func (v *Viewer) ShowStats(ctx context.Context, w io.Writer) error {
	st, err := v.src.Stats(ctx)
	if err != nil {
		return fmt.Errorf("viewer: stats: %w", err)
	}
	last := st.LastRecord
	if last == "" {
		last = "none"
	}

	t := newTable("Renode statistics", "metric", "value")
	t.addRow("total records", strconv.FormatInt(st.TotalRecords, 10))
	t.addRow("unique devices", strconv.FormatInt(st.UniqueDevices, 10))
	t.addRow("avg temperature", fmt.Sprintf("%.2f°C", st.AvgTemperature))
	t.addRow("avg humidity", fmt.Sprintf("%.2f%%", st.AvgHumidity))
	t.addRow("last record", last)
	_, err = fmt.Fprint(w, t.view(v.styles))
	return err
}
