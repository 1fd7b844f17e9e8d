// Package domain holds the pure rules of the AQI edge updater.
//
// # Data Source
//
// Air quality comes from the FMI Enfuser model, published hourly to an S3
// bucket as a zip archive holding netCDF files. The "AQI" variable is a
// gridded air quality index in WGS84 on a continuous scale starting at 1.0.
//
// # Hour Keys
//
// Every artifact is versioned by the UTC hour it belongs to, formatted as
// "2006-01-02T15":
//
//	remote key   Finland/pks/allPollutants_2019-11-08T11.zip
//	archive      allPollutants_2019-11-08T11.zip
//	raster       aqi_2019-11-08T11.tif
//	update table aqi_2019-11-08T11.csv
//
// A pipeline is stale when its latest artifact does not carry the current
// hour key. See [IsStale].
//
// # Nodata
//
// Missing raster cells are stored as 1.0, the bottom of the AQI scale. Format
// conversion may shift the sentinel slightly upwards, so the repair step
// probes a few small offsets above 1.0 (see package nodata).
//
// # Sampling
//
// Each edge is represented by the midpoint of its line. Edges of the same way
// share one sample; edges without a way id are grouped by their midpoint
// rounded to 7 decimals. See [SamplingKey].
//
// Raw samples are normalized by [NormalizeAQI]:
//
//	non-finite or < 0.95 -> null
//	[0.95, 1.0)          -> 1.0
//	>= 1.0               -> unchanged
//
// # Classes
//
// The class map used for map tiles bins AQI into half units, class =
// floor(aqi*2), so AQI 1.0-1.49 is class 2 and 4.5-4.99 class 9. Null AQI
// never appears in the map. See [AQIClass].
package domain
