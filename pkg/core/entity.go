package core

import (
	"fmt"
	"strings"
	"time"
)

// Entity identifies a category of synchronized record.
type Entity string

// Entity constants. Values double as the source collection names.
const (
	EntityStops  Entity = "gtfs_stops"
	EntityRoutes Entity = "gtfs_routes"
	EntityTrips  Entity = "gtfs_rides"
)

// Table names in the sink.
const (
	TableStops     = "stops"
	TableRoutes    = "routes"
	TableRides     = "rides"
	TableRelevance = "city_relevant_stops"
)

// AllTables lists every sink table in report order.
var AllTables = []string{TableStops, TableRoutes, TableRides, TableRelevance}

// PartitionLayout is the date layout used for partition keys.
const PartitionLayout = "2006-01-02"

// Partition is the calendar day a batch of records belongs to.
type Partition string

// PartitionOf returns the UTC partition for t.
func PartitionOf(t time.Time) Partition {
	return Partition(t.UTC().Format(PartitionLayout))
}

// ParsePartition validates a YYYY-MM-DD string.
func ParsePartition(s string) (Partition, error) {
	if _, err := time.Parse(PartitionLayout, s); err != nil {
		return "", fmt.Errorf("invalid partition date %q: %w", s, err)
	}
	return Partition(s), nil
}

// String implements fmt.Stringer.
func (p Partition) String() string { return string(p) }

// AddDays returns the partition shifted by n days.
func (p Partition) AddDays(n int) Partition {
	t, err := time.Parse(PartitionLayout, string(p))
	if err != nil {
		return p
	}
	return Partition(t.AddDate(0, 0, n).Format(PartitionLayout))
}

// Row is the sink representation of a record, keyed by column name.
type Row map[string]any

// Stop is a transit stop as served by the source.
type Stop struct {
	ID   int64   `json:"id"`
	Code int64   `json:"code"`
	Name string  `json:"name"`
	City string  `json:"city"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// DedupKey is the natural key of a stop within a partition.
func (s Stop) DedupKey() string {
	return fmt.Sprintf("%d|%s", s.Code, s.City)
}

// Location renders the stop coordinates as WKT.
func (s Stop) Location() string {
	return fmt.Sprintf("POINT(%v %v)", s.Lon, s.Lat)
}

// Row converts the stop to its persisted form.
func (s Stop) Row(p Partition, syncedAt time.Time) Row {
	return Row{
		"id":        s.ID,
		"code":      s.Code,
		"name":      s.Name,
		"city":      s.City,
		"lat":       s.Lat,
		"lon":       s.Lon,
		"location":  s.Location(),
		"date":      string(p),
		"synced_at": syncedAt.UTC(),
	}
}

// Route is a transit route line.
type Route struct {
	ID             int64  `json:"id"`
	LineRef        int64  `json:"line_ref"`
	OperatorRef    int64  `json:"operator_ref"`
	RouteShortName string `json:"route_short_name"`
	RouteLongName  string `json:"route_long_name"`
	RouteDirection string `json:"route_direction"`
	AgencyName     string `json:"agency_name"`
	RouteType      string `json:"route_type"`
}

// Row converts the route to its persisted form.
func (r Route) Row(p Partition, syncedAt time.Time) Row {
	return Row{
		"id":               r.ID,
		"line_ref":         r.LineRef,
		"operator_ref":     r.OperatorRef,
		"route_short_name": r.RouteShortName,
		"route_long_name":  r.RouteLongName,
		"route_direction":  r.RouteDirection,
		"agency_name":      r.AgencyName,
		"route_type":       r.RouteType,
		"date":             string(p),
		"synced_at":        syncedAt.UTC(),
	}
}

// Trip is a single scheduled ride of a route.
type Trip struct {
	ID         int64  `json:"id"`
	RouteID    int64  `json:"gtfs_route_id"`
	JourneyRef string `json:"journey_ref"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

// StartDate returns the date part of the trip start time, or "" when unset.
func (t Trip) StartDate() string {
	if t.StartTime == "" {
		return ""
	}
	date, _, _ := strings.Cut(t.StartTime, "T")
	return date
}

// Row converts the trip to its persisted form.
func (t Trip) Row(p Partition, syncedAt time.Time) Row {
	return Row{
		"id":          t.ID,
		"route_id":    t.RouteID,
		"journey_ref": t.JourneyRef,
		"start_time":  t.StartTime,
		"end_time":    t.EndTime,
		"date":        string(p),
		"synced_at":   syncedAt.UTC(),
	}
}

// Conflict keys used for idempotent upserts.
var (
	StopConflictKey  = []string{"code", "city", "date"}
	RouteConflictKey = []string{"id", "date"}
	TripConflictKey  = []string{"id", "date"}
)
