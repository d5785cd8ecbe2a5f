package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (start_time,
                      vehicle_id,
                      config)
VALUES (CURRENT_TIMESTAMP, ?, ?)`

	selectSessionsSQL = `
SELECT s.id,
       s.start_time,
       s.vehicle_id,
       s.config,
       COUNT(r.id)
FROM sessions s
         LEFT JOIN records r ON r.session_id = s.id
GROUP BY s.id
ORDER BY s.start_time`

	selectRecordsSQL = `
SELECT packet,
       timestamp,
       phase,
       alarms,
       pressure,
       secondary_pressure,
       altitude,
       secondary_altitude,
       altitude_delta,
       descent_rate,
       temperature,
       battery_voltage,
       gps_latitude,
       gps_longitude,
       gps_altitude,
       gps_satellites,
       roll,
       pitch,
       yaw,
       servo_position
FROM records
WHERE session_id = ?
ORDER BY packet`

	insertRecordSQL = `
INSERT INTO records (session_id,
                     packet,
                     timestamp,
                     phase,
                     alarms,
                     pressure,
                     secondary_pressure,
                     altitude,
                     secondary_altitude,
                     altitude_delta,
                     descent_rate,
                     temperature,
                     battery_voltage,
                     gps_latitude,
                     gps_longitude,
                     gps_altitude,
                     gps_satellites,
                     roll,
                     pitch,
                     yaw,
                     servo_position)
VALUES `

	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_records_session_packet ON records (session_id, packet)`
)

//go:embed schema.sql
var initSchemaSQL string
