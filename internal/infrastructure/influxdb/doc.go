// Package influxdb records light state history in InfluxDB.
//
// Each entity snapshot change becomes one "light_state" point tagged with
// the entity key, kind and name. Poll outcomes become "mesh_poll" points so
// gateway responsiveness can be charted next to the state it produced.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history is optional
//	}
//	defer client.Close()
//
//	session.OnStateChange(client.WriteEntityState)
//
// Writes are non-blocking and batched per the batch_size and flush_interval
// settings. Asynchronous write failures are delivered to the SetOnError
// callback.
package influxdb
