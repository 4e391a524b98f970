package db

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/occupancy.report/internal/counting"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	fname := t.Name() + ".db"
	_ = os.Remove(fname)

	db, err := NewDB(fname)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	return db
}

func cleanupTestDB(t *testing.T, db *DB) {
	t.Helper()
	fname := t.Name() + ".db"
	db.Close()
	_ = os.Remove(fname)
	_ = os.Remove(fname + "-shm")
	_ = os.Remove(fname + "-wal")
}

func TestRecordCrossing(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	event := counting.Event{
		TrackID:   7,
		Direction: counting.Entry,
		Timestamp: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
	counters := counting.Counters{Entries: 1, Exits: 0, Occupancy: 1}

	if err := db.RecordCrossing(event, counters); err != nil {
		t.Fatalf("RecordCrossing failed: %v", err)
	}

	events, err := db.RecentEvents(10)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	got := events[0]
	if got.EventID == "" {
		t.Error("Expected a generated event id")
	}
	got.EventID = ""

	want := CrossingEvent{
		TrackID:   7,
		Direction: "entry",
		Entries:   1,
		Exits:     0,
		Occupancy: 1,
		Timestamp: event.Timestamp,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Event mismatch (-want +got):\n%s", diff)
	}
}

func TestRecentEventsNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		event := counting.Event{
			TrackID:   int64(i + 1),
			Direction: counting.Entry,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.RecordCrossing(event, counting.Counters{Entries: uint64(i + 1)}); err != nil {
			t.Fatalf("RecordCrossing failed: %v", err)
		}
	}

	events, err := db.RecentEvents(2)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].TrackID != 3 || events[1].TrackID != 2 {
		t.Errorf("Expected tracks [3 2], got [%d %d]", events[0].TrackID, events[1].TrackID)
	}
}

func TestRecordSampleAndRecentSamples(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		counters := counting.Counters{
			Entries:   uint64(10 + i),
			Exits:     uint64(i),
			Occupancy: int64(10),
		}
		if err := db.RecordSample(counters, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordSample failed: %v", err)
		}
	}

	samples, err := db.RecentSamples(10)
	if err != nil {
		t.Fatalf("RecentSamples failed: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(samples))
	}

	// Chronological order for charting.
	if !samples[0].Timestamp.Before(samples[1].Timestamp) ||
		!samples[1].Timestamp.Before(samples[2].Timestamp) {
		t.Errorf("Samples not chronological: %v, %v, %v",
			samples[0].Timestamp, samples[1].Timestamp, samples[2].Timestamp)
	}
	if samples[0].Entries != 10 || samples[2].Entries != 12 {
		t.Errorf("Entries = %d..%d, want 10..12", samples[0].Entries, samples[2].Entries)
	}
}

func TestRecentSamplesLimit(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		if err := db.RecordSample(counting.Counters{Occupancy: int64(i)}, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordSample failed: %v", err)
		}
	}

	samples, err := db.RecentSamples(2)
	if err != nil {
		t.Fatalf("RecentSamples failed: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(samples))
	}
	// The limit keeps the newest samples.
	if samples[0].Occupancy != 3 || samples[1].Occupancy != 4 {
		t.Errorf("Occupancy = [%d %d], want [3 4]", samples[0].Occupancy, samples[1].Occupancy)
	}
}
