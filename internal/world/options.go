package world

import (
	"maps"
	"slices"

	"snowfight/internal/geom"
)

// DefaultMapOption is used when a room config does not name a map.
const DefaultMapOption = "originalMap"

// MapOption describes a selectable map: the file holding its layers and the
// hand-placed spawn points.
type MapOption struct {
	Key         string
	DisplayName string
	FileName    string
	SpawnPoints []geom.Point
}

var mapOptions = map[string]MapOption{
	"originalMap": {
		Key:         "originalMap",
		DisplayName: "Original",
		FileName:    "map.tmx",
		SpawnPoints: []geom.Point{
			{X: 813, Y: 739},
			{X: 1161, Y: 1156},
			{X: 1161, Y: 1891},
			{X: 1572, Y: 2188},
			{X: 2313, Y: 2188},
			{X: 2397, Y: 1555},
			{X: 2190, Y: 859},
			{X: 1773, Y: 1471},
		},
	},
	"moreHidingSpots": {
		Key:         "moreHidingSpots",
		DisplayName: "More Hiding Spots",
		FileName:    "map-more-hiding.tmx",
		SpawnPoints: []geom.Point{
			{X: 813, Y: 739},
			{X: 1710, Y: 1471},
			{X: 2000, Y: 800},
			{X: 1975, Y: 1600},
			{X: 2450, Y: 790},
			{X: 2621, Y: 1556},
			{X: 2424, Y: 2345},
			{X: 1638, Y: 2465},
			{X: 1126, Y: 2409},
			{X: 819, Y: 2046},
		},
	},
}

// LookupOption returns the map option registered under key.
func LookupOption(key string) (MapOption, bool) {
	opt, ok := mapOptions[key]
	return opt, ok
}

// OptionKeys lists the registered map keys in order.
func OptionKeys() []string {
	return slices.Sorted(maps.Keys(mapOptions))
}
