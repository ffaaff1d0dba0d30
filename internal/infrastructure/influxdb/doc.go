// Package influxdb writes device telemetry to InfluxDB v2.
//
// It wraps influxdb-client-go with connection management and a
// non-blocking, batched write API. The Client is an event sink: state
// updates become "lock_state" points (lock and door state, battery
// indicators) and action results become "lock_action" points.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetLogger(log.Component("influxdb"))
//
//	fanout.Add("influxdb", client)
//
// Writes are batched according to batch_size and flush_interval. Failed
// batches are logged as warnings; they are not retried.
package influxdb
