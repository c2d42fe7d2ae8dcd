package fixture

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/MeKo-Christian/go-overpass"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultOverpassEndpoint is the public Overpass API.
const DefaultOverpassEndpoint = "https://overpass-api.de/api/interpreter"

// DefaultOSMFilters select the features typical render tests draw.
var DefaultOSMFilters = []string{
	`way["natural"="water"]`,
	`relation["natural"="water"]`,
	`way["waterway"]`,
	`way["leisure"="park"]`,
	`way["landuse"]`,
	`way["highway"]`,
	`way["building"]`,
	`node["amenity"]`,
}

// OSMClient captures OpenStreetMap data as GeoJSON.
type OSMClient struct {
	client overpass.Client
}

// NewOSMClient creates a client for an Overpass endpoint. An empty endpoint
// uses the public API.
func NewOSMClient(endpoint string, httpClient *http.Client) *OSMClient {
	if endpoint == "" {
		endpoint = DefaultOverpassEndpoint
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	// Only 1 parallel request (API etiquette)
	return &OSMClient{client: overpass.NewWithSettings(endpoint, 1, httpClient)}
}

// Query builds an Overpass QL query returning full geometry for every filter
// inside bound.
func Query(bound orb.Bound, filters []string) string {
	if len(filters) == 0 {
		filters = DefaultOSMFilters
	}
	// Overpass orders bbox as south,west,north,east.
	bbox := fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", bound.Min.Lat(), bound.Min.Lon(), bound.Max.Lat(), bound.Max.Lon())

	var b strings.Builder
	b.WriteString("[out:json][timeout:60];\n(\n")
	for _, f := range filters {
		fmt.Fprintf(&b, "  %s(%s);\n", f, bbox)
	}
	b.WriteString(");\nout geom;\n")
	return b.String()
}

// Fetch queries Overpass and converts the result.
func (c *OSMClient) Fetch(ctx context.Context, bound orb.Bound, filters []string) (*geojson.FeatureCollection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The client does not take a context.
	result, err := c.client.Query(Query(bound, filters))
	if err != nil {
		return nil, fmt.Errorf("overpass query failed: %w", err)
	}
	return FeaturesFromOverpass(&result), nil
}

// DecodeOverpass decodes a saved Overpass JSON response.
func DecodeOverpass(data []byte) (*overpass.Result, error) {
	var result overpass.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal overpass json: %w", err)
	}
	return &result, nil
}

// FeaturesFromOverpass converts an Overpass result into a FeatureCollection.
// Closed ways become polygons, open ways line strings, tagged nodes points
// and multipolygon relations are assembled from their member ways, which are
// then not emitted on their own. Features are ordered by OSM id.
func FeaturesFromOverpass(result *overpass.Result) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if result == nil {
		return fc
	}

	memberWays := map[int64]bool{}
	for _, rel := range result.Relations {
		if rel.Tags["type"] != "multipolygon" {
			continue
		}
		for _, m := range rel.Members {
			if m.Type == "way" && m.Way != nil {
				memberWays[m.Way.ID] = true
			}
		}
	}

	for _, id := range sortedIDs(result.Nodes) {
		n := result.Nodes[id]
		if len(n.Tags) == 0 {
			continue
		}
		fc.Append(newFeature("node", n.ID, orb.Point{n.Lon, n.Lat}, n.Tags))
	}

	for _, id := range sortedIDs(result.Ways) {
		w := result.Ways[id]
		if memberWays[w.ID] || len(w.Geometry) < 2 {
			continue
		}
		line := wayLine(w)
		var geom orb.Geometry = line
		if len(line) > 3 && line[0] == line[len(line)-1] && !isLinear(w.Tags) {
			geom = orb.Polygon{orb.Ring(line)}
		}
		fc.Append(newFeature("way", w.ID, geom, w.Tags))
	}

	for _, id := range sortedIDs(result.Relations) {
		rel := result.Relations[id]
		if rel.Tags["type"] != "multipolygon" {
			continue
		}
		if geom := multipolygon(rel); geom != nil {
			fc.Append(newFeature("relation", rel.ID, geom, rel.Tags))
		}
	}
	return fc
}

func sortedIDs[T any](m map[int64]T) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func newFeature(kind string, id int64, geom orb.Geometry, tags map[string]string) *geojson.Feature {
	f := geojson.NewFeature(geom)
	f.ID = fmt.Sprintf("%s/%d", kind, id)
	for k, v := range tags {
		f.Properties[k] = v
	}
	f.Properties["osm_id"] = f.ID
	return f
}

func wayLine(w *overpass.Way) orb.LineString {
	line := make(orb.LineString, len(w.Geometry))
	for i, p := range w.Geometry {
		line[i] = orb.Point{p.Lon, p.Lat}
	}
	return line
}

// isLinear reports whether a closed way is still a line, like a roundabout.
func isLinear(tags map[string]string) bool {
	return (tags["highway"] != "" || tags["waterway"] != "") && tags["area"] != "yes"
}

// multipolygon assembles a relation from its member ways. Inner rings are
// attached to the first outer ring.
func multipolygon(rel *overpass.Relation) orb.Geometry {
	var outer, inner []orb.Ring
	for _, m := range rel.Members {
		if m.Type != "way" || m.Way == nil || len(m.Way.Geometry) == 0 {
			continue
		}
		ring := orb.Ring(wayLine(m.Way))
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}
		if m.Role == "inner" {
			inner = append(inner, ring)
		} else {
			outer = append(outer, ring)
		}
	}

	switch len(outer) {
	case 0:
		return nil
	case 1:
		return append(orb.Polygon{outer[0]}, inner...)
	}
	mp := make(orb.MultiPolygon, len(outer))
	for i, ring := range outer {
		mp[i] = orb.Polygon{ring}
	}
	mp[0] = append(mp[0], inner...)
	return mp
}
