package domain

import (
	"path"
	"strings"
	"time"
)

// HourKeyLayout formats a UTC hour as e.g. "2019-11-08T11".
const HourKeyLayout = "2006-01-02T15"

const (
	archivePrefix = "allPollutants_"
	rasterPrefix  = "aqi_"
	rasterExt     = ".tif"
	csvExt        = ".csv"
)

// MapFileName is the rolling class map consumed by the map service.
const MapFileName = "aqi_map.json"

// HourKey returns the hour key of t, truncated to the hour in UTC.
func HourKey(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format(HourKeyLayout)
}

// CurrentKey returns the hour key of the clock's current time.
func CurrentKey(c Clock) string {
	return HourKey(OrRealClock(c).Now())
}

// ArchiveKey returns the object-store key of the archive for hourKey, e.g.
// "Finland/pks/allPollutants_2019-11-08T11.zip".
func ArchiveKey(prefix, hourKey string) string {
	return path.Join(prefix, ArchiveName(hourKey))
}

// ArchiveName returns the local archive filename for hourKey.
func ArchiveName(hourKey string) string {
	return archivePrefix + hourKey + ".zip"
}

// ArrayName returns the local filename of the netCDF member extracted from
// the archive for hourKey.
func ArrayName(hourKey string) string {
	return archivePrefix + hourKey + ".nc"
}

// RasterName returns the repaired raster filename for hourKey.
func RasterName(hourKey string) string {
	return rasterPrefix + hourKey + rasterExt
}

// CSVName derives the update table filename from a raster filename. An empty
// raster name yields an empty csv name.
func CSVName(rasterName string) string {
	if rasterName == "" {
		return ""
	}
	return strings.TrimSuffix(rasterName, rasterExt) + csvExt
}

// KeyOf extracts the hour key embedded in an artifact filename produced by
// this package. It returns "" when name carries no hour key.
func KeyOf(name string) string {
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	for _, prefix := range []string{rasterPrefix, archivePrefix} {
		if strings.HasPrefix(base, prefix) {
			key := strings.TrimPrefix(base, prefix)
			if _, err := time.Parse(HourKeyLayout, key); err == nil {
				return key
			}
		}
	}
	return ""
}

// IsStale reports whether the latest produced artifact does not carry the
// current hour key. This is the freshness predicate of both pipelines.
func IsStale(latest, currentKey string) bool {
	return KeyOf(latest) != currentKey
}

// IsRasterName reports whether name looks like a raster artifact.
func IsRasterName(name string) bool {
	return strings.HasSuffix(name, rasterExt)
}

// IsCSVName reports whether name looks like an update table artifact.
func IsCSVName(name string) bool {
	return strings.HasSuffix(name, csvExt)
}
