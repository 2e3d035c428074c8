// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
)

// Detection is one archived detection row.
type Detection struct {
	Hostname  string
	Projects  []string
	Type      string
	SensorMac string
	HwID      string
	Rssi      int32
	Time      time.Time
	Cached    bool

	// Raw is the CBOR encoding of the original detection.
	Raw []byte
}

// Detections returns the archived detections of hostname in time
// order.
func (a *Archive) Detections(ctx context.Context, hostname string) ([]Detection, error) {
	var detections []Detection
	err := a.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT hostname, projects, type, sensor_mac, hw_id, rssi, time, cached, raw_size, raw
			 FROM detections WHERE hostname = ? ORDER BY time, id`,
			&sqlitex.ExecOptions{
				Args: []any{hostname},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					blob := make([]byte, stmt.ColumnLen(9))
					stmt.ColumnBytes(9, blob)
					raw, err := unpackRaw(stmt.ColumnInt(8), blob)
					if err != nil {
						return err
					}
					detection := Detection{
						Hostname:  stmt.ColumnText(0),
						Type:      stmt.ColumnText(2),
						SensorMac: stmt.ColumnText(3),
						HwID:      stmt.ColumnText(4),
						Rssi:      int32(stmt.ColumnInt64(5)),
						Time:      protocol.Time(stmt.ColumnFloat(6)),
						Cached:    stmt.ColumnInt(7) != 0,
						Raw:       raw,
					}
					if projects := stmt.ColumnText(1); projects != "" {
						detection.Projects = strings.Split(projects, ",")
					}
					detections = append(detections, detection)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("archive: reading detections: %w", err)
	}
	return detections, nil
}

var tables = map[string]bool{"connections": true, "states": true, "detections": true, "infos": true}

// Count returns the number of rows in one of the archive tables.
func (a *Archive) Count(ctx context.Context, table string) (int64, error) {
	if !tables[table] {
		return 0, fmt.Errorf("archive: unknown table %q", table)
	}
	var count int64
	err := a.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COUNT(*) FROM "+table, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("archive: counting %s: %w", table, err)
	}
	return count, nil
}
