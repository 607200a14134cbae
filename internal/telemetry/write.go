package telemetry

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceMetric writes a single PUT value to InfluxDB under the
// "device_metrics" measurement, tagged by device id and metric name.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Non-numeric values are recorded as their string form so Describe-style
// PUTs (e.g. "ok", "locked") still land in the bucket.
func (c *Client) WriteDeviceMetric(deviceID, metric string, value any) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{}
	switch v := value.(type) {
	case float64:
		fields["value"] = v
	case float32:
		fields["value"] = float64(v)
	case int:
		fields["value"] = float64(v)
	case int64:
		fields["value"] = float64(v)
	case bool:
		fields["value_bool"] = v
	default:
		fields["value_str"] = toString(v)
	}

	point := write.NewPoint(
		"device_metrics",
		map[string]string{
			"device_id": deviceID,
			"metric":    metric,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp. Use
// this when the timestamp is not "now" (e.g. a PUT replayed from a buffer).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
