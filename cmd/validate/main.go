// Command validate checks an exported edge AQI table and class map against
// the routing graph they were produced for. It verifies the table schema,
// value ranges, edge id coverage, and that every class in the map agrees
// with the AQI of its way's edges.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -graph graph/kumpula.graphml \
//	  -csv aqi_updates/aqi_2020-10-10T08.csv \
//	  -map aqi_updates/aqi_map.json
package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/adapter/graphml"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// maxReported caps the errors printed per phase.
const maxReported = 20

func main() {
	graphPath := flag.String("graph", "", "path to the GraphML routing graph")
	csvPath := flag.String("csv", "", "path to the exported edge AQI csv")
	mapPath := flag.String("map", "", "path to the exported class map json")
	minCoverage := flag.Float64("min-coverage", 0.5, "minimum share of graph edges that must carry an AQI")
	flag.Parse()

	if *graphPath == "" || *csvPath == "" || *mapPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*graphPath, *csvPath, *mapPath, *minCoverage); code != 0 {
		os.Exit(code)
	}
}

func run(graphPath, csvPath, mapPath string, minCoverage float64) int {
	fmt.Println("=== Edge AQI Artifact Validation ===")
	fmt.Println()

	g, err := graphml.Load(graphPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load graph: %v\n", err)
		return 1
	}

	rows, err := loadTable(csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load csv: %v\n", err)
		return 1
	}

	classes, err := loadClassMap(mapPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load map json: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateTable(csvPath, rows),
		validateCoverage(g, rows, minCoverage),
		validateClassMap(g, rows, classes),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d graph edges, %d csv rows, %d map entries\n", len(g.Edges), len(rows), len(classes))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxReported {
				fmt.Printf("  ... %d more\n", len(p.errors)-maxReported)
				break
			}
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

// tableRow is one raw csv row.
type tableRow struct {
	lineNum int
	edgeID  string
	aqi     string
}

func loadTable(path string) ([]tableRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	all, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, errors.New("empty csv")
	}
	if len(all[0]) != 2 || all[0][0] != "edge_id" || all[0][1] != "aqi" {
		return nil, fmt.Errorf("unexpected header %v", all[0])
	}

	rows := make([]tableRow, 0, len(all)-1)
	for i, rec := range all[1:] {
		rows = append(rows, tableRow{lineNum: i + 2, edgeID: rec[0], aqi: rec[1]})
	}
	return rows, nil
}

func loadClassMap(path string) ([][]json.Number, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Data [][]json.Number `json:"data"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Data == nil {
		return nil, errors.New(`missing "data" array`)
	}
	return doc.Data, nil
}

// ── Phase 1: Table schema ──
// Every row has an integer edge id, a finite AQI of at least the floor, and
// edge ids are unique. The filename carries an hour key.

func validateTable(path string, rows []tableRow) *phase {
	p := &phase{name: "Phase 1: Table Schema (csv)"}

	if domain.KeyOf(filepath.Base(path)) == "" {
		p.errorf("filename %s carries no hour key", filepath.Base(path))
	}

	seen := make(map[int64]int, len(rows))
	for _, r := range rows {
		id, err := strconv.ParseInt(r.edgeID, 10, 64)
		if err != nil {
			p.errorf("line %d: edge_id %q is not an integer", r.lineNum, r.edgeID)
			continue
		}
		if prev, dup := seen[id]; dup {
			p.errorf("line %d: edge_id %d already on line %d", r.lineNum, id, prev)
		}
		seen[id] = r.lineNum

		aqi, err := strconv.ParseFloat(r.aqi, 64)
		switch {
		case err != nil:
			p.errorf("line %d: aqi %q is not a number", r.lineNum, r.aqi)
		case math.IsNaN(aqi) || math.IsInf(aqi, 0):
			p.errorf("line %d: aqi %q is not finite", r.lineNum, r.aqi)
		case aqi < domain.AQIFloor:
			p.errorf("line %d: aqi %v below floor %v", r.lineNum, aqi, domain.AQIFloor)
		}
	}
	return p
}

// ── Phase 2: Graph coverage ──
// Every exported edge exists in the graph, and enough of the graph is covered.

func validateCoverage(g *domain.Graph, rows []tableRow, minCoverage float64) *phase {
	p := &phase{name: "Phase 2: Graph Coverage (csv vs graph)"}

	edges := make(map[int64]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		edges[e.ID] = struct{}{}
	}

	covered := 0
	for _, r := range rows {
		id, err := strconv.ParseInt(r.edgeID, 10, 64)
		if err != nil {
			continue
		}
		if _, ok := edges[id]; !ok {
			p.errorf("line %d: edge_id %d not in graph", r.lineNum, id)
			continue
		}
		covered++
	}

	if len(g.Edges) > 0 {
		ratio := float64(covered) / float64(len(g.Edges))
		fmt.Printf("  coverage: %d of %d edges (%.1f%%)\n", covered, len(g.Edges), 100*ratio)
		if ratio < minCoverage {
			p.errorf("coverage %.3f below minimum %.3f", ratio, minCoverage)
		}
	}
	return p
}

// ── Phase 3: Class map ──
// Entries are [way_id, class] pairs with a unique way id and a valid class
// that matches floor(aqi*2) for the way's exported edges.

func validateClassMap(g *domain.Graph, rows []tableRow, entries [][]json.Number) *phase {
	p := &phase{name: "Phase 3: Class Map (json vs csv)"}

	wayOf := make(map[int64]int64, len(g.Edges))
	for _, e := range g.Edges {
		if e.HasWay {
			wayOf[e.ID] = e.WayID
		}
	}
	wayAQI := make(map[int64]float64)
	for _, r := range rows {
		id, err1 := strconv.ParseInt(r.edgeID, 10, 64)
		aqi, err2 := strconv.ParseFloat(r.aqi, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if way, ok := wayOf[id]; ok {
			wayAQI[way] = aqi
		}
	}

	minClass := domain.AQIClass(domain.AQIFloor)
	seen := make(map[int64]struct{}, len(entries))
	for i, e := range entries {
		if len(e) != 2 {
			p.errorf("entry %d: expected [way_id, class], got %d values", i, len(e))
			continue
		}
		way, err1 := e[0].Int64()
		class, err2 := e[1].Int64()
		if err1 != nil || err2 != nil {
			p.errorf("entry %d: non-integer values %v", i, e)
			continue
		}
		if _, dup := seen[way]; dup {
			p.errorf("entry %d: duplicate way_id %d", i, way)
		}
		seen[way] = struct{}{}

		if int(class) < minClass {
			p.errorf("entry %d: way %d has invalid class %d", i, way, class)
		}
		if aqi, ok := wayAQI[way]; ok {
			if want := domain.AQIClass(aqi); int(class) != want {
				p.errorf("entry %d: way %d class %d, csv aqi %v implies %d", i, way, class, aqi, want)
			}
		} else {
			p.errorf("entry %d: way %d has no aqi in csv", i, way)
		}
	}

	for way := range wayAQI {
		if _, ok := seen[way]; !ok {
			p.errorf("way %d has csv aqi but no map entry", way)
		}
	}
	return p
}
