package style

// SourceType names a style source kind.
type SourceType string

const (
	SourceGeoJSON SourceType = "geojson"
	SourceRaster  SourceType = "raster"
	SourceVector  SourceType = "vector"
)

// Source is a converted style source.
type Source struct {
	ID       string
	Type     SourceType
	Data     any
	URL      string
	Tiles    []string
	TileSize int
	MinZoom  int
	MaxZoom  int
	TMS      bool
}

// ConvertSource validates and converts a source object.
func ConvertSource(id string, v any) (*Source, error) {
	path := "sources." + id
	if id == "" {
		return nil, &ConversionError{Path: "sources", Msg: "source id must not be empty"}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ConversionError{Path: path, Msg: "source must be an object"}
	}
	if err := validate("source", path, obj); err != nil {
		return nil, err
	}

	s := &Source{
		ID:       id,
		Type:     SourceType(obj["type"].(string)),
		Data:     obj["data"],
		TileSize: 512,
		MaxZoom:  22,
	}
	s.URL, _ = obj["url"].(string)
	if tiles, ok := obj["tiles"].([]any); ok {
		for _, t := range tiles {
			s.Tiles = append(s.Tiles, t.(string))
		}
	}
	if ts, ok := obj["tileSize"].(float64); ok {
		s.TileSize = int(ts)
	}
	if z, ok := obj["minzoom"].(float64); ok {
		s.MinZoom = int(z)
	}
	if z, ok := obj["maxzoom"].(float64); ok {
		s.MaxZoom = int(z)
	}
	s.TMS = obj["scheme"] == "tms"

	if s.Type == SourceRaster && len(s.Tiles) == 0 && s.URL == "" {
		return nil, &ConversionError{Path: path, Msg: "raster source needs tiles or url"}
	}
	return s, nil
}
