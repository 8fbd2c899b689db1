package types

import "encoding/json"

// Point is a 2D map coordinate in meters
type Point struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
}

// DockingPose is the charging station position and approach heading
type DockingPose struct {
	X       float64 `json:"x" bson:"x"`
	Y       float64 `json:"y" bson:"y"`
	Heading float64 `json:"heading" bson:"heading"`
}

// MapMeta describes the map extent
type MapMeta struct {
	Width   float64 `json:"mapWidth" bson:"mapWidth"`
	Height  float64 `json:"mapHeight" bson:"mapHeight"`
	CenterX float64 `json:"mapCenterX" bson:"mapCenterX"`
	CenterY float64 `json:"mapCenterY" bson:"mapCenterY"`
}

// Area is a named region: an outline polygon plus zero or more obstacle
// polygons cut out of it
type Area struct {
	Name      string    `json:"name" bson:"name"`
	Outline   []Point   `json:"outline" bson:"outline"`
	Obstacles [][]Point `json:"obstacles" bson:"obstacles"`
}

// Map is the structured map document: docking position, extent, and the
// working/navigation areas
type Map struct {
	DockingPose     DockingPose `json:"docking_pose" bson:"docking_pose"`
	Meta            MapMeta     `json:"meta" bson:"meta"`
	WorkingAreas    []Area      `json:"working_areas" bson:"working_areas"`
	NavigationAreas []Area      `json:"navigation_areas" bson:"navigation_areas"`
}

// OverlayPolygon is one drawable line strip of the live map overlay
type OverlayPolygon struct {
	Vertices    []Point `json:"vertices" bson:"vertices"`
	Closed      bool    `json:"closed" bson:"closed"`
	StrokeWidth float64 `json:"stroke_width" bson:"stroke_width"`
	Color       string  `json:"color" bson:"color"`
}

// MapOverlay is the ordered list of overlay polygons drawn over the map
type MapOverlay struct {
	Polygons []OverlayPolygon `json:"polygons" bson:"polygons"`
}

// ParseMapOverlay decodes an overlay document, dropping degenerate
// polygons with fewer than two vertices. Sibling order is preserved.
func ParseMapOverlay(data []byte) (MapOverlay, error) {
	var overlay MapOverlay
	if err := json.Unmarshal(data, &overlay); err != nil {
		return MapOverlay{}, err
	}

	kept := overlay.Polygons[:0]
	for _, p := range overlay.Polygons {
		if len(p.Vertices) < 2 {
			continue
		}
		kept = append(kept, p)
	}
	overlay.Polygons = kept

	return overlay, nil
}
