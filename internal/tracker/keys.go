package tracker

import (
	"fmt"
	"time"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/model"
)

// Key layout shared with the popularity reader.
const (
	KeyAllTime     = "popular:all"
	markerPrefix   = "seen:"
	metadataPrefix = "meta:"
)

// TTLs. Window counters carry their own expiry; that is the only pruning of old buckets.
const (
	DedupeTTL   = time.Hour
	DayTTL      = 14 * 24 * time.Hour
	WeekTTL     = 56 * 24 * time.Hour
	MonthTTL    = 90 * 24 * time.Hour
	MetadataTTL = 60 * 24 * time.Hour
)

// DedupeKey returns the marker key for a client and path.
func DedupeKey(clientID, path string) string {
	return markerPrefix + clientID + ":" + path
}

// MetadataKey returns the hash key holding metadata for slug.
func MetadataKey(slug string) string {
	return metadataPrefix + slug
}

// DayKey returns the per-day counter key, e.g. popular:2026-10-16.
func DayKey(t time.Time) string {
	return "popular:" + t.Format("2006-01-02")
}

// WeekKey returns the ISO-week counter key, e.g. popular:w:2026-W42.
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("popular:w:%04d-W%02d", year, week)
}

// MonthKey returns the year-month counter key, e.g. popular:m:2026-10.
func MonthKey(t time.Time) string {
	return "popular:m:" + t.Format("2006-01")
}

// WindowKey resolves a popularity window to its counter key at time t.
// Unknown windows resolve to the all-time counter.
func WindowKey(window string, t time.Time) string {
	switch window {
	case model.WindowDay:
		return DayKey(t)
	case model.WindowWeek:
		return WeekKey(t)
	case model.WindowMonth:
		return MonthKey(t)
	default:
		return KeyAllTime
	}
}
