// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Roel/Gyrid-server-sub000/lib/metrics"
	"github.com/Roel/Gyrid-server-sub000/lib/plugin"
	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
	"github.com/Roel/Gyrid-server-sub000/lib/sqlitepool"
)

// Name is the consumer name used in configuration and project
// disable lists.
const Name = "archive"

const (
	DefaultQueueSize = 4096
	DefaultBatchSize = 256
)

var droppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "gyrid",
	Subsystem: "archive",
	Name:      "dropped_total",
	Help:      "Events not archived because the write queue was full.",
})

var writeErrors = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "gyrid",
	Subsystem: "archive",
	Name:      "write_errors_total",
	Help:      "Batches that failed to commit.",
})

func init() {
	metrics.Registry.MustRegister(droppedEvents, writeErrors)
}

const schema = `
CREATE TABLE IF NOT EXISTS connections (
	id        INTEGER PRIMARY KEY,
	hostname  TEXT NOT NULL,
	projects  TEXT NOT NULL,
	address   TEXT NOT NULL,
	connected INTEGER NOT NULL,
	time      REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS states (
	id         INTEGER PRIMARY KEY,
	hostname   TEXT NOT NULL,
	projects   TEXT NOT NULL,
	type       TEXT NOT NULL,
	sensor_mac TEXT NOT NULL,
	value      TEXT NOT NULL,
	time       REAL NOT NULL,
	cached     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS detections (
	id         INTEGER PRIMARY KEY,
	hostname   TEXT NOT NULL,
	projects   TEXT NOT NULL,
	type       TEXT NOT NULL,
	sensor_mac TEXT NOT NULL,
	hw_id      TEXT NOT NULL,
	rssi       INTEGER NOT NULL,
	time       REAL NOT NULL,
	cached     INTEGER NOT NULL,
	raw_size   INTEGER NOT NULL,
	raw        BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS detections_hostname_time ON detections (hostname, time);
CREATE TABLE IF NOT EXISTS infos (
	id       INTEGER PRIMARY KEY,
	hostname TEXT NOT NULL,
	projects TEXT NOT NULL,
	kind     TEXT NOT NULL,
	text     TEXT NOT NULL,
	time     REAL NOT NULL,
	cached   INTEGER NOT NULL
);
`

// Config configures an Archive.
type Config struct {
	// Path of the SQLite database. Required.
	Path string

	QueueSize int
	BatchSize int

	Logger *slog.Logger
}

// Archive stores connections, state changes and detections in SQLite.
// Consumer methods only enqueue; a single writer goroutine commits
// the queue in batches, one IMMEDIATE transaction per batch. When the
// queue is full new events are dropped and counted.
type Archive struct {
	plugin.Nop

	pool      *sqlitepool.Pool
	batchSize int
	logger    *slog.Logger

	mu     sync.RWMutex
	queue  chan entry
	closed bool

	writerDone chan struct{}
}

var _ plugin.Consumer = (*Archive)(nil)

// entry is one queued row, or a flush marker when flushed is set.
type entry struct {
	write   func(*sqlite.Conn) error
	flushed chan struct{}
}

// Open opens the database and starts the writer.
func Open(config Config) (*Archive, error) {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     config.Path,
		PoolSize: 2,
		Schema:   schema,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	archive := &Archive{
		pool:       pool,
		batchSize:  config.BatchSize,
		logger:     logger.With("consumer", Name),
		queue:      make(chan entry, config.QueueSize),
		writerDone: make(chan struct{}),
	}
	go archive.writer()
	return archive, nil
}

// Name implements plugin.Consumer.
func (a *Archive) Name() string { return Name }

func (a *Archive) enqueue(write func(*sqlite.Conn) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return errors.New("archive closed")
	}
	select {
	case a.queue <- entry{write: write}:
		return nil
	default:
		droppedEvents.Inc()
		return errors.New("archive queue full, event dropped")
	}
}

func (a *Archive) writer() {
	defer close(a.writerDone)
	batch := make([]entry, 0, a.batchSize)
	for first := range a.queue {
		batch = append(batch[:0], first)
	collect:
		for len(batch) < a.batchSize {
			select {
			case next, ok := <-a.queue:
				if !ok {
					break collect
				}
				batch = append(batch, next)
			default:
				break collect
			}
		}
		a.commit(batch)
	}
}

func (a *Archive) commit(batch []entry) {
	rows := 0
	err := a.pool.Write(context.Background(), func(conn *sqlite.Conn) error {
		for _, e := range batch {
			if e.write == nil {
				continue
			}
			if err := e.write(conn); err != nil {
				return err
			}
			rows++
		}
		return nil
	})
	if err != nil {
		writeErrors.Inc()
		a.logger.Error("archiving batch failed", "rows", rows, "batch", len(batch), "error", err)
	}
	for _, e := range batch {
		if e.flushed != nil {
			close(e.flushed)
		}
	}
}

// Flush waits until everything enqueued before the call is committed.
func (a *Archive) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return errors.New("archive closed")
	}
	select {
	case a.queue <- entry{flushed: marker}:
	case <-ctx.Done():
		a.mu.RUnlock()
		return ctx.Err()
	}
	a.mu.RUnlock()

	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue, stops the writer and closes the database.
func (a *Archive) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.writerDone
	return a.pool.Close()
}

func projectList(event plugin.Event) string {
	return strings.Join(event.ProjectIDs(), ",")
}

func flag(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (a *Archive) ConnectionMade(event plugin.Event, connection plugin.Connection) error {
	return a.connection(event, connection, true)
}

func (a *Archive) ConnectionLost(event plugin.Event, connection plugin.Connection) error {
	return a.connection(event, connection, false)
}

func (a *Archive) connection(event plugin.Event, connection plugin.Connection, connected bool) error {
	args := []any{event.Hostname, projectList(event), connection.Address, flag(connected), protocol.Timestamp(connection.Time)}
	return a.enqueue(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO connections (hostname, projects, address, connected, time) VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: args})
	})
}

func (a *Archive) StateFeed(event plugin.Event, state plugin.State) error {
	value := state.Value
	switch state.Type {
	case protocol.TypeStateWifiFrequency:
		value = fmt.Sprintf("%d", state.Frequency)
	case protocol.TypeStateWifiFrequencyLoop:
		frequencies := make([]string, len(state.Frequencies))
		for i, frequency := range state.Frequencies {
			frequencies[i] = fmt.Sprintf("%d", frequency)
		}
		value = strings.Join(frequencies, ",")
	case protocol.TypeStateBluetoothInquiry:
		value = fmt.Sprintf("%g", state.Duration)
	}
	args := []any{event.Hostname, projectList(event), state.Type.String(), state.SensorMac, value, protocol.Timestamp(state.Time), flag(event.Cached)}
	return a.enqueue(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO states (hostname, projects, type, sensor_mac, value, time, cached) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: args})
	})
}

func (a *Archive) DataFeedBluetoothRaw(event plugin.Event, data protocol.BluetoothDataRaw) error {
	return a.detection(event, protocol.TypeBluetoothDataRaw, data.SensorMac, data.HwID, data.Rssi, data.Timestamp, data)
}

func (a *Archive) DataFeedWifiRaw(event plugin.Event, data protocol.WifiDataRaw) error {
	return a.detection(event, protocol.TypeWifiDataRaw, data.SensorMac, data.HwID1, data.Rssi, data.Timestamp, data)
}

func (a *Archive) DataFeedWifiDevRaw(event plugin.Event, data protocol.WifiDevRaw) error {
	return a.detection(event, protocol.TypeWifiDevRaw, data.SensorMac, data.HwID, data.Rssi, data.Timestamp, data)
}

func (a *Archive) detection(event plugin.Event, kind protocol.Type, sensor, hwID string, rssi int32, timestamp float64, raw any) error {
	size, blob, err := packRaw(raw)
	if err != nil {
		return err
	}
	args := []any{event.Hostname, projectList(event), kind.String(), sensor, hwID, int64(rssi), timestamp, flag(event.Cached), int64(size), blob}
	return a.enqueue(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO detections (hostname, projects, type, sensor_mac, hw_id, rssi, time, cached, raw_size, raw)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: args})
	})
}

func (a *Archive) InfoFeed(event plugin.Event, info protocol.Info) error {
	return a.info(event, "info", info.Info, info.Timestamp)
}

func (a *Archive) UptimeFeed(event plugin.Event, uptime protocol.Uptime) error {
	text := fmt.Sprintf("gyrid=%s system=%s",
		protocol.Time(uptime.GyridUptime).UTC().Format(time.RFC3339),
		protocol.Time(uptime.SystemUptime).UTC().Format(time.RFC3339))
	return a.info(event, "uptime", text, uptime.GyridUptime)
}

func (a *Archive) info(event plugin.Event, kind, text string, timestamp float64) error {
	args := []any{event.Hostname, projectList(event), kind, text, timestamp, flag(event.Cached)}
	return a.enqueue(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO infos (hostname, projects, kind, text, time, cached) VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: args})
	})
}
