// Package graphml loads routing graph edges from GraphML files exported by
// igraph.
package graphml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/domain"
)

// ErrGraphEmpty is returned for graphs without edges.
var ErrGraphEmpty = errors.New("graphml: graph has no edges")

// Edge attribute names.
const (
	AttrEdgeID   = "id_ig"
	AttrWayID    = "id_way"
	AttrGeometry = "geom_wgs"
)

type keyElem struct {
	ID   string `xml:"id,attr"`
	For  string `xml:"for,attr"`
	Name string `xml:"attr.name,attr"`
}

type dataElem struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type edgeElem struct {
	Data []dataElem `xml:"data"`
}

// Load reads the edges of the GraphML file at path.
func Load(path string, logger *slog.Logger) (*domain.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open graph: %w", err)
	}
	defer f.Close()

	g, err := Decode(f, logger)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return g, nil
}

// Decode streams edges from r. Edges without an id_ig attribute take their
// ordinal position as id. Unparsable geometry leaves the edge without one.
func Decode(r io.Reader, logger *slog.Logger) (*domain.Graph, error) {
	dec := xml.NewDecoder(r)
	names := map[string]string{} // key id -> attribute name, edge keys only
	g := &domain.Graph{}
	badGeometry := 0

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse graphml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "key":
			var k keyElem
			if err := dec.DecodeElement(&k, &se); err != nil {
				return nil, fmt.Errorf("parse graphml key: %w", err)
			}
			if k.For == "edge" || k.For == "all" {
				names[k.ID] = k.Name
			}
		case "edge":
			var e edgeElem
			if err := dec.DecodeElement(&e, &se); err != nil {
				return nil, fmt.Errorf("parse graphml edge %d: %w", len(g.Edges), err)
			}
			edge, err := toEdge(e, names, int64(len(g.Edges)))
			if err != nil {
				return nil, err
			}
			if edge.Geometry == nil {
				badGeometry++
			}
			g.Edges = append(g.Edges, edge)
		}
	}

	if len(g.Edges) == 0 {
		return nil, ErrGraphEmpty
	}
	if badGeometry > 0 {
		logger.Warn("edges without line geometry", "count", badGeometry, "edges", len(g.Edges))
	}
	logger.Info("graph loaded", "edges", len(g.Edges))
	return g, nil
}

func toEdge(e edgeElem, names map[string]string, ordinal int64) (domain.Edge, error) {
	edge := domain.Edge{ID: ordinal}
	for _, d := range e.Data {
		value := strings.TrimSpace(d.Value)
		switch names[d.Key] {
		case AttrEdgeID:
			id, ok := parseID(value)
			if !ok {
				return edge, fmt.Errorf("edge %d: invalid %s %q", ordinal, AttrEdgeID, value)
			}
			edge.ID = id
		case AttrWayID:
			edge.WayID, edge.HasWay = parseID(value)
		case AttrGeometry:
			if ls, err := wkt.UnmarshalLineString(value); err == nil && len(ls) >= 2 {
				edge.Geometry = ls
			}
		}
	}
	return edge, nil
}

// parseID accepts integers and the integral doubles igraph writes for
// numeric attributes.
func parseID(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}
