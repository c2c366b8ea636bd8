// Package geo restricts stops to a service area.
package geo

import (
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/geojson"
	"github.com/tidwall/geojson/geometry"

	"github.com/leapstack-labs/stridesync/pkg/core"
)

// Clip keeps stops whose coordinates fall inside a GeoJSON feature.
type Clip struct {
	feature geojson.Object
}

// ParseClip parses a GeoJSON document. A value that does not start with '{'
// is read as a file path.
func ParseClip(src string) (*Clip, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty clip feature")
	}
	if !strings.HasPrefix(src, "{") {
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("failed to read clip feature: %w", err)
		}
		src = string(data)
	}
	feature, err := geojson.Parse(src, &geojson.ParseOptions{RequireValid: true})
	if err != nil {
		return nil, fmt.Errorf("failed to parse clip feature: %w", err)
	}
	return &Clip{feature: feature}, nil
}

// NumPoints reports the size of the clip geometry.
func (c *Clip) NumPoints() int {
	return c.feature.NumPoints()
}

// Contains reports whether the stop lies inside the feature.
func (c *Clip) Contains(s core.Stop) bool {
	return c.feature.Contains(geojson.NewPoint(geometry.Point{X: s.Lon, Y: s.Lat}))
}

// Filter returns the stops inside the feature, preserving order.
// A nil Clip keeps every stop.
func (c *Clip) Filter(stops []core.Stop) []core.Stop {
	if c == nil {
		return stops
	}
	out := stops[:0:0]
	for _, s := range stops {
		if c.Contains(s) {
			out = append(out, s)
		}
	}
	return out
}
