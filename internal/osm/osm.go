// Package osm queries community OpenStreetMap services: Nominatim reverse
// geocoding and Overpass POI discovery. Both are optional sources and obey
// the community usage policies via a per-source minimum delay.
package osm

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/openclaw/georanking/internal/httpclient"
	"github.com/openclaw/georanking/internal/sources"
	"github.com/openclaw/georanking/pkg/utils"
)

const (
	nominatimReverseURL = "https://nominatim.openstreetmap.org/reverse"
	overpassURL         = "https://overpass-api.de/api/interpreter"
)

// POI is one named point of interest near the subject address.
type POI struct {
	Name        string         `json:"name"`
	Category    string         `json:"category"`
	Subcategory string         `json:"subcategory"`
	DistanceM   float64        `json:"distance_m"`
	Lat         float64        `json:"lat"`
	Lon         float64        `json:"lon"`
	AddressHint string         `json:"address_hint,omitempty"`
	Tags        map[string]any `json:"tags"`
}

// POIResult bundles the fetched POIs with the Overpass URL they came from.
type POIResult struct {
	SourceURL string `json:"source_url,omitempty"`
	POIs      []POI  `json:"pois"`
}

// Client wraps the community OSM endpoints with source tracking.
type Client struct {
	HTTP     *httpclient.Client
	Registry *sources.Registry
	MinDelay time.Duration
}

func New(http *httpclient.Client, registry *sources.Registry, minDelay time.Duration) *Client {
	return &Client{HTTP: http, Registry: registry, MinDelay: minDelay}
}

// Reverse performs a Nominatim reverse lookup at building zoom.
func (c *Client) Reverse(ctx context.Context, lat, lon *float64) map[string]any {
	if lat == nil || lon == nil {
		c.Registry.Disable("osm_reverse", "keine WGS84-Koordinaten verfügbar")
		return nil
	}
	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%v", *lat))
	params.Set("lon", fmt.Sprintf("%v", *lon))
	params.Set("format", "jsonv2")
	params.Set("addressdetails", "1")
	params.Set("zoom", "18")
	rawURL := nominatimReverseURL + "?" + params.Encode()

	data, err := c.HTTP.GetJSON(ctx, rawURL, "osm_reverse", c.MinDelay)
	if err != nil {
		c.Registry.NoteError("osm_reverse", rawURL, err.Error(), true)
		return nil
	}
	obj := utils.AsMap(data)
	c.Registry.NoteSuccess("osm_reverse", rawURL, 1, true)
	return obj
}

// OverpassQuery builds the POI union query for named shops, amenities,
// offices, leisure, and tourism features around a point.
func OverpassQuery(lat, lon float64, radiusM int) string {
	around := fmt.Sprintf("(around:%d,%.6f,%.6f)", radiusM, lat, lon)
	var b strings.Builder
	b.WriteString("[out:json][timeout:25];(")
	for _, clause := range []string{
		"node%s[name][shop];",
		"node%s[name][amenity];",
		"node%s[name][office];",
		"node%s[name][leisure];",
		"node%s[name][tourism];",
		"way%s[name][shop];",
		"way%s[name][amenity];",
		"way%s[name][office];",
		"relation%s[name][shop];",
		"relation%s[name][amenity];",
	} {
		fmt.Fprintf(&b, clause, around)
	}
	b.WriteString(");out body center;")
	return b.String()
}

var poiCategoryKeys = []string{"shop", "amenity", "office", "leisure", "tourism", "craft"}

// POIs fetches named POIs within radiusM of a point, sorted by distance and
// truncated to maxItems.
func (c *Client) POIs(ctx context.Context, lat, lon *float64, radiusM, maxItems int) POIResult {
	if lat == nil || lon == nil {
		c.Registry.Disable("osm_poi_overpass", "keine WGS84-Koordinaten verfügbar")
		return POIResult{}
	}

	params := url.Values{}
	params.Set("data", OverpassQuery(*lat, *lon, radiusM))
	sourceURL := overpassURL + "?" + params.Encode()

	data, err := c.HTTP.GetJSON(ctx, sourceURL, "osm_poi_overpass", c.MinDelay)
	if err != nil {
		c.Registry.NoteError("osm_poi_overpass", sourceURL, err.Error(), true)
		return POIResult{SourceURL: sourceURL}
	}
	obj := utils.AsMap(data)
	elements := utils.AsList(obj["elements"])
	c.Registry.NoteSuccess("osm_poi_overpass", sourceURL, len(elements), true)

	pois := ParseElements(elements, *lat, *lon)
	if maxItems < 0 {
		maxItems = 0
	}
	if len(pois) > maxItems {
		pois = pois[:maxItems]
	}
	return POIResult{SourceURL: sourceURL, POIs: pois}
}

// ParseElements converts raw Overpass elements into POIs, resolving way and
// relation centers and computing distances from the origin point.
func ParseElements(elements []any, originLat, originLon float64) []POI {
	var pois []POI
	for _, raw := range elements {
		element := utils.AsMap(raw)
		if element == nil {
			continue
		}
		tags := utils.AsMap(element["tags"])
		if tags == nil {
			continue
		}

		pLat, okLat := utils.AsFloat(element["lat"])
		pLon, okLon := utils.AsFloat(element["lon"])
		if !okLat || !okLon {
			center := utils.AsMap(element["center"])
			pLat, okLat = utils.AsFloat(center["lat"])
			pLon, okLon = utils.AsFloat(center["lon"])
			if !okLat || !okLon {
				continue
			}
		}

		var category, subcategory string
		for _, key := range poiCategoryKeys {
			if value := utils.AsString(tags[key]); value != "" {
				category = key
				subcategory = value
				break
			}
		}
		if category == "" {
			continue
		}

		var hints []string
		for _, key := range []string{"addr:street", "addr:housenumber", "addr:postcode", "addr:city"} {
			if v := utils.AsString(tags[key]); v != "" {
				hints = append(hints, v)
			}
		}

		pois = append(pois, POI{
			Name:        utils.AsString(tags["name"]),
			Category:    category,
			Subcategory: subcategory,
			DistanceM:   utils.RoundTo(utils.HaversineMeters(originLat, originLon, pLat, pLon), 1),
			Lat:         pLat,
			Lon:         pLon,
			AddressHint: strings.Join(hints, ", "),
			Tags:        tags,
		})
	}

	sort.SliceStable(pois, func(i, j int) bool { return pois[i].DistanceM < pois[j].DistanceM })
	return pois
}
