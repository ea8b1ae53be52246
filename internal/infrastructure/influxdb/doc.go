// Package influxdb records command timing and motor telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. A Recorder is a
// transport.Observer: attach it to a worker and every completed command
// becomes a command_timing point, every status refresh a set of
// motor_status points and every connection change a link_state point.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	worker, err := serial.New(serial.Config{
//	    Port:     cfg.Serial.Port,
//	    Observer: influxdb.NewRecorder(client),
//	})
//
// # Measurements
//
//	command_timing  tags: transport, node, action, outcome, code
//	                fields: ack_ms, completion_ms, est_ms, actual_ms
//	motor_status    tags: transport, device, motor
//	                fields: position, moving, awake, homed, budget_s, ttfc_s
//	link_state      tags: transport
//	                fields: state, connected
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; asynchronous write
// errors are delivered to the SetOnError callback.
package influxdb
