package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by Warden.
const (
	MeasurementAuthEvents = "auth_events"
	MeasurementHashTiming = "password_hash"
)

// WriteAuthEvent records one authentication or authorisation event.
//
// Action and source are tags; the user id is a field to keep series
// cardinality bounded by the number of actions. The write is non-blocking.
func (c *Client) WriteAuthEvent(action, source, userID string, at time.Time) {
	fields := map[string]any{"count": 1}
	if userID != "" {
		fields["user_id"] = userID
	}
	c.WritePointWithTime(MeasurementAuthEvents,
		map[string]string{"action": action, "source": source},
		fields, at)
}

// WriteHashDuration records how long one password derivation took.
func (c *Client) WriteHashDuration(d time.Duration) {
	c.WritePoint(MeasurementHashTiming, nil, map[string]any{"seconds": d.Seconds()})
}

// WritePoint writes a point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp. Writes on a
// closed client are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
