package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/occupancy.report/internal/counting"
)

type DB struct {
	*sql.DB
}

// OpenDB opens the database without touching the schema. The migrate
// subcommand uses this directly because migrations manage the schema.
func OpenDB(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = sqldb.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA foreign_keys = ON;
	`)
	if err != nil {
		sqldb.Close()
		return nil, err
	}
	return &DB{sqldb}, nil
}

// NewDB opens the database and brings the schema up to date.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// CrossingEvent is one persisted crossing with the counter totals as
// of that event.
type CrossingEvent struct {
	EventID   string    `json:"event_id"`
	TrackID   int64     `json:"track_id"`
	Direction string    `json:"direction"`
	Entries   uint64    `json:"entries"`
	Exits     uint64    `json:"exits"`
	Occupancy int64     `json:"occupancy"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *CrossingEvent) String() string {
	return fmt.Sprintf("Event: %s, Track: %d, Direction: %s, Occupancy: %d",
		e.EventID, e.TrackID, e.Direction, e.Occupancy)
}

// RecordCrossing persists one crossing event. Timestamps are stored as
// unix milliseconds so scans never depend on driver time handling.
func (db *DB) RecordCrossing(event counting.Event, counters counting.Counters) error {
	_, err := db.Exec(
		`INSERT INTO crossing_events (
			event_id, track_id, direction, entries, exits, occupancy, unix_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), event.TrackID, event.Direction.String(),
		counters.Entries, counters.Exits, counters.Occupancy,
		event.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert crossing event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit crossing events, newest first.
func (db *DB) RecentEvents(limit int) ([]CrossingEvent, error) {
	rows, err := db.Query(
		`SELECT event_id, track_id, direction, entries, exits, occupancy, unix_ms
		FROM crossing_events ORDER BY unix_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []CrossingEvent
	for rows.Next() {
		var e CrossingEvent
		var unixMs int64
		if err := rows.Scan(&e.EventID, &e.TrackID, &e.Direction,
			&e.Entries, &e.Exits, &e.Occupancy, &unixMs); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(unixMs).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// OccupancySample is one periodic snapshot of the counter totals.
type OccupancySample struct {
	Entries   uint64    `json:"entries"`
	Exits     uint64    `json:"exits"`
	Occupancy int64     `json:"occupancy"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordSample persists one occupancy snapshot taken at now.
func (db *DB) RecordSample(counters counting.Counters, now time.Time) error {
	_, err := db.Exec(
		`INSERT INTO occupancy_samples (entries, exits, occupancy, unix_ms)
		VALUES (?, ?, ?, ?)`,
		counters.Entries, counters.Exits, counters.Occupancy, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert occupancy sample: %w", err)
	}
	return nil
}

// RecentSamples returns up to limit occupancy samples in chronological
// order.
func (db *DB) RecentSamples(limit int) ([]OccupancySample, error) {
	rows, err := db.Query(
		`SELECT entries, exits, occupancy, unix_ms
		FROM occupancy_samples ORDER BY unix_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []OccupancySample
	for rows.Next() {
		var s OccupancySample
		var unixMs int64
		if err := rows.Scan(&s.Entries, &s.Exits, &s.Occupancy, &unixMs); err != nil {
			return nil, err
		}
		s.Timestamp = time.UnixMilli(unixMs).UTC()
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; flip to chronological for charting.
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://occupancy.db", db.DB, &tailsql.DBOptions{
		Label: "Occupancy DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
