// Package telemetry streams status heartbeats into InfluxDB for
// dashboarding. The write path is the client's async WriteAPI, so
// enqueueing a point never blocks event handling; write errors surface
// on a channel and are logged in the background.
package telemetry

import (
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/KiruthikKumar16/wb/internal/model"
)

const measurement = "wearable_status"

type Influx struct {
	client influxdb2.Client
	write  api.WriteAPI
	log    *slog.Logger
}

func NewInflux(url, token, org, bucket string, log *slog.Logger) *Influx {
	client := influxdb2.NewClient(url, token)
	write := client.WriteAPI(org, bucket)

	i := &Influx{client: client, write: write, log: log}
	go func() {
		for err := range write.Errors() {
			log.Warn("influx write failed", "error", err)
		}
	}()
	return i
}

// WriteStatus enqueues one heartbeat point. Timestamps that do not parse
// fall back to the current time rather than dropping the point.
func (i *Influx) WriteStatus(ev model.StatusEvent) {
	ts, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}

	p := influxdb2.NewPointWithMeasurement(measurement).
		AddTag("deviceId", ev.DeviceID).
		AddTag("state", ev.State).
		AddField("lat", ev.Lat).
		AddField("lon", ev.Lon).
		SetTime(ts)
	if ev.BatteryKnown {
		p.AddField("batteryPercent", ev.BatteryPercent)
	}
	i.write.WritePoint(p)
}

func (i *Influx) Close() {
	i.write.Flush()
	i.client.Close()
}
