package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/KiruthikKumar16/wb/internal/model"
)

var (
	sosHeader    = []string{"ts", "deviceId", "lat", "lon", "reason", "mapsUrl"}
	statusHeader = []string{"ts", "deviceId", "state", "batteryPercent", "lat", "lon"}
)

// CSVLogs writes one CSV file per event family. Headers are written only
// when a file is first created, so restarts keep appending to the same
// sequence. Each append opens, flushes and closes the file: slow but
// durable, and the rate of audit rows is tiny.
type CSVLogs struct {
	mu         sync.Mutex
	sosPath    string
	statusPath string
}

func NewCSVLogs(sosPath, statusPath string) (*CSVLogs, error) {
	l := &CSVLogs{sosPath: sosPath, statusPath: statusPath}
	if err := ensureHeader(sosPath, sosHeader); err != nil {
		return nil, err
	}
	if err := ensureHeader(statusPath, statusHeader); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *CSVLogs) AppendSOS(ev model.SOSEvent) error {
	return l.appendRow(l.sosPath, []string{
		ev.Timestamp,
		ev.DeviceID,
		formatFloat(ev.Lat),
		formatFloat(ev.Lon),
		ev.Reason,
		ev.MapsURL,
	})
}

func (l *CSVLogs) AppendStatus(ev model.StatusEvent) error {
	battery := ""
	if ev.BatteryKnown {
		battery = strconv.Itoa(ev.BatteryPercent)
	}
	return l.appendRow(l.statusPath, []string{
		ev.Timestamp,
		ev.DeviceID,
		ev.State,
		battery,
		formatFloat(ev.Lat),
		formatFloat(ev.Lon),
	})
}

func (l *CSVLogs) appendRow(path string, row []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write audit row to %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush audit log %s: %w", path, err)
	}
	return nil
}

func ensureHeader(path string, header []string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat audit log %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create audit log %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write audit header to %s: %w", path, err)
	}
	w.Flush()
	return w.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
