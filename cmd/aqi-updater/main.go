// Command aqi-updater keeps the routing graph's per-edge air quality table
// fresh from the hourly Enfuser forecast.
package main

import (
	"github.com/alecthomas/kong"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/config"
)

// Globals are flags shared by every command.
type Globals struct {
	SecretsDir string `help:"Directory of Docker secrets exported as environment variables." default:"${secrets_dir}"`
	EnvFile    string `help:"Dotenv file loaded after the secrets." default:".env"`
}

type cli struct {
	Globals

	Run    runCmd    `cmd:"" default:"1" help:"Poll for new AQI data and update the edge table (default)."`
	Once   onceCmd   `cmd:"" help:"Run a single fetch and update tick, then exit."`
	Sample sampleCmd `cmd:"" help:"Sample an existing raster in the cache directory onto the graph edges."`
	Fill   fillCmd   `cmd:"" help:"Fill nodata cells of a raster in place."`
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("aqi-updater"),
		kong.Description("Hourly air quality updater for the green path routing graph."),
		kong.UsageOnError(),
		kong.Vars{"secrets_dir": config.DefaultSecretsDir},
	)
	ctx.FatalIfErrorf(ctx.Run(&c.Globals))
}
