package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/meshbridge/internal/bridges/mesh"
)

const (
	measurementLightState = "light_state"
	measurementPoll       = "mesh_poll"
)

// WriteEntityState records one snapshot. Unknown values are omitted; a
// snapshot with nothing known writes nothing. Usable as a
// mesh.StateListener.
func (c *Client) WriteEntityState(es mesh.EntityState) {
	if p := entityStatePoint(es, time.Now()); p != nil {
		c.writePoint(p)
	}
}

// ObservePoll records the outcome and latency of one status poll.
func (c *Client) ObservePoll(kind string, answered bool, elapsed time.Duration) {
	c.writePoint(pollPoint(kind, answered, elapsed, time.Now()))
}

func entityStatePoint(es mesh.EntityState, at time.Time) *write.Point {
	fields := make(map[string]any, 4)
	if es.IsOn != nil {
		fields["on"] = *es.IsOn
	}
	if es.Brightness != nil {
		fields["brightness"] = int64(*es.Brightness)
	}
	if es.Status.Lightness != nil {
		fields["lightness"] = *es.Status.Lightness
	}
	if es.ColorTempKelvin != nil {
		fields["color_temp_kelvin"] = int64(*es.ColorTempKelvin)
	}
	if len(fields) == 0 {
		return nil
	}

	return write.NewPoint(measurementLightState,
		map[string]string{
			"entity": es.Key,
			"kind":   es.Kind,
			"name":   es.Name,
		},
		fields, at)
}

func pollPoint(kind string, answered bool, elapsed time.Duration, at time.Time) *write.Point {
	return write.NewPoint(measurementPoll,
		map[string]string{"kind": kind},
		map[string]any{
			"answered":   answered,
			"elapsed_ms": elapsed.Milliseconds(),
		},
		at)
}
