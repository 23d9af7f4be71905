package geo

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"
)

// Feature is one located record destined for a GeoJSON FeatureCollection.
type Feature struct {
	ID         any
	Point      Point
	Properties map[string]any
}

// EncodeFeatureCollection renders the features as a GeoJSON
// FeatureCollection. An empty input still yields a valid, empty collection.
func EncodeFeatureCollection(features []Feature) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		gf := geojson.NewFeature(f.Point.Orb())
		gf.ID = f.ID
		if f.Properties != nil {
			gf.Properties = f.Properties
		}
		fc.Append(gf)
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("encoding feature collection: %w", err)
	}
	return data, nil
}
