// Package influxdb writes authentication telemetry to InfluxDB.
//
// Every audit event becomes a point in the auth_events measurement, tagged
// by action and source, so dashboards can chart login failures or refresh
// token reuse over time. Password hashing latency is written to
// password_hash to help tune the iteration count.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteAuthEvent("login_failed", "auth", "", time.Now())
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch errors are delivered to the SetOnError callback.
package influxdb
