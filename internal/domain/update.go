package domain

import "time"

// EdgeAQI is one row of the update table. Valid is false for a null AQI.
type EdgeAQI struct {
	EdgeID int64
	AQI    float64
	Valid  bool
}

// MapEntry is one [way_id, class] pair of the class map.
type MapEntry struct {
	WayID int64
	Class int
}

// AqiUpdate announces a freshly exported update table to downstream consumers.
type AqiUpdate struct {
	HourKey        string    `json:"hour_key"`
	CSV            string    `json:"csv"`
	MapJSON        string    `json:"map_json"`
	EdgeCount      int       `json:"edge_count"`
	ValidEdgeCount int       `json:"valid_edge_count"`
	MapEntries     int       `json:"map_entries"`
	ProducedAt     time.Time `json:"produced_at"`
}
