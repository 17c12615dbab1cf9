// Package geoadmin wraps the Swiss federal geodata services: SearchServer,
// MapServer feature and identify endpoints, the height service, and the
// reframe coordinate transformer.
package geoadmin

import (
	"context"
	"fmt"
	"math"
	"net/url"

	"github.com/openclaw/georanking/internal/httpclient"
	"github.com/openclaw/georanking/internal/sources"
	"github.com/openclaw/georanking/pkg/utils"
)

const (
	searchServerURL = "https://api3.geo.admin.ch/rest/services/api/SearchServer"
	echFeatureBase  = "https://api3.geo.admin.ch/rest/services/ech/MapServer"
	apiFeatureBase  = "https://api3.geo.admin.ch/rest/services/api/MapServer"
	identifyURL     = "https://api3.geo.admin.ch/rest/services/api/MapServer/identify"
	heightURL       = "https://api3.geo.admin.ch/rest/services/height"
	reframeBase     = "https://geodesy.geo.admin.ch/reframe"
)

// Well-known layer names.
const (
	LayerGWR        = "ch.bfs.gebaeude_wohnungs_register"
	LayerHeating    = "ch.bfs.gebaeude_wohnungs_register_waermequelle_heizung"
	LayerPLZ        = "ch.swisstopo-vd.ortschaftenverzeichnis_plz"
	LayerBoundaries = "ch.swisstopo.swissboundaries3d-gemeinde-flaeche.fill"
	LayerAddress    = "ch.swisstopo.amtliches-gebaeudeadressverzeichnis"
)

// Client issues tracked requests against geo.admin.ch services. Every call
// records its outcome in the per-request source registry.
type Client struct {
	HTTP     *httpclient.Client
	Registry *sources.Registry
}

func New(http *httpclient.Client, registry *sources.Registry) *Client {
	return &Client{HTTP: http, Registry: registry}
}

// trackedGetJSON performs a GET and notes the result. Optional sources
// swallow errors and return nil; required sources propagate them.
func (c *Client) trackedGetJSON(ctx context.Context, sourceName, rawURL string, optional bool) (map[string]any, error) {
	data, err := c.HTTP.GetJSON(ctx, rawURL, sourceName, 0)
	if err != nil {
		c.Registry.NoteError(sourceName, rawURL, err.Error(), optional)
		if optional {
			return nil, nil
		}
		return nil, err
	}
	obj := utils.AsMap(data)
	records := 1
	if obj != nil {
		if results := utils.AsList(obj["results"]); results != nil {
			records = len(results)
		}
	}
	c.Registry.NoteSuccess(sourceName, rawURL, records, optional)
	return obj, nil
}

// SearchURL builds a SearchServer locations query. limit is clamped to
// [1,50]; origins is omitted when empty.
func SearchURL(query string, limit int, origins string) string {
	if limit < 1 {
		limit = 1
	}
	if limit > 50 {
		limit = 50
	}
	params := url.Values{}
	params.Set("searchText", query)
	params.Set("type", "locations")
	params.Set("limit", fmt.Sprintf("%d", limit))
	params.Set("lang", "de")
	if origins != "" {
		params.Set("origins", origins)
	}
	return searchServerURL + "?" + params.Encode()
}

// Search runs a SearchServer query under the given source name and returns
// the raw result entries.
func (c *Client) Search(ctx context.Context, sourceName, query string, limit int, origins string, optional bool) ([]map[string]any, error) {
	data, err := c.trackedGetJSON(ctx, sourceName, SearchURL(query, limit, origins), optional)
	if err != nil || data == nil {
		return nil, err
	}
	var out []map[string]any
	for _, item := range utils.AsList(data["results"]) {
		if m := utils.AsMap(item); m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// FeatureAttributes fetches a single MapServer feature and returns its
// attribute map.
func (c *Client) FeatureAttributes(ctx context.Context, layer, featureID, sourceName string, optional bool) (map[string]any, error) {
	rawURL := fmt.Sprintf("%s/%s/%s", echFeatureBase, layer, url.PathEscape(featureID))
	data, err := c.trackedGetJSON(ctx, sourceName, rawURL, optional)
	if err != nil || data == nil {
		return nil, err
	}
	attrs := utils.AsMap(utils.AsMap(data["feature"])["attributes"])
	if attrs == nil {
		msg := fmt.Sprintf("invalid feature response in %s", sourceName)
		c.Registry.NoteError(sourceName, rawURL, msg, optional)
		if optional {
			return nil, nil
		}
		return nil, fmt.Errorf("%s", msg)
	}
	return attrs, nil
}

// HeatingLayer fetches the BFS heat-source clarification layer for a
// building. Always optional.
func (c *Client) HeatingLayer(ctx context.Context, egid string) map[string]any {
	rawURL := fmt.Sprintf("%s/%s/%s", apiFeatureBase, LayerHeating, url.PathEscape(egid))
	data, err := c.trackedGetJSON(ctx, "bfs_heating_layer", rawURL, true)
	if err != nil || data == nil {
		return nil
	}
	return utils.AsMap(utils.AsMap(data["feature"])["attributes"])
}

func identifyParams(e, n float64, layer string) url.Values {
	const margin = 200.0
	params := url.Values{}
	params.Set("geometry", fmt.Sprintf("%v,%v", e, n))
	params.Set("geometryType", "esriGeometryPoint")
	params.Set("imageDisplay", "500,500,96")
	params.Set("mapExtent", fmt.Sprintf("%v,%v,%v,%v", e-margin, n-margin, e+margin, n+margin))
	params.Set("tolerance", "5")
	params.Set("layers", "all:"+layer)
	params.Set("sr", "2056")
	params.Set("lang", "de")
	params.Set("returnGeometry", "false")
	params.Set("f", "json")
	return params
}

// PLZLayerAtLV95 identifies the postal-code directory polygon at a point.
func (c *Client) PLZLayerAtLV95(ctx context.Context, lv95E, lv95N *float64) map[string]any {
	if lv95E == nil || lv95N == nil {
		c.Registry.Disable("plz_layer_identify", "keine LV95-Koordinaten verfügbar")
		return nil
	}
	rawURL := identifyURL + "?" + identifyParams(*lv95E, *lv95N, LayerPLZ).Encode()
	data, err := c.trackedGetJSON(ctx, "plz_layer_identify", rawURL, true)
	if err != nil || data == nil {
		return nil
	}
	results := utils.AsList(data["results"])
	if len(results) == 0 {
		return nil
	}
	return utils.AsMap(utils.AsMap(results[0])["attributes"])
}

// BoundariesAtLV95 identifies the municipal boundary polygon at a point,
// preferring the current-year record.
func (c *Client) BoundariesAtLV95(ctx context.Context, lv95E, lv95N *float64) map[string]any {
	if lv95E == nil || lv95N == nil {
		c.Registry.Disable("swissboundaries_identify", "keine LV95-Koordinaten verfügbar")
		return nil
	}
	rawURL := identifyURL + "?" + identifyParams(*lv95E, *lv95N, LayerBoundaries).Encode()
	data, err := c.trackedGetJSON(ctx, "swissboundaries_identify", rawURL, true)
	if err != nil || data == nil {
		return nil
	}
	var best map[string]any
	for _, result := range utils.AsList(data["results"]) {
		attrs := utils.AsMap(utils.AsMap(result)["attributes"])
		if attrs == nil {
			continue
		}
		if current, _ := attrs["is_current_jahr"].(bool); current {
			return attrs
		}
		if best == nil {
			best = attrs
		}
	}
	return best
}

// Height queries the swisstopo elevation model at an LV95 point. Returns
// nil when the point or the service is unavailable.
func (c *Client) Height(ctx context.Context, lv95E, lv95N *float64) *float64 {
	if lv95E == nil || lv95N == nil {
		c.Registry.Disable("swisstopo_height", "keine LV95-Koordinaten verfügbar")
		return nil
	}
	params := url.Values{}
	params.Set("easting", fmt.Sprintf("%v", *lv95E))
	params.Set("northing", fmt.Sprintf("%v", *lv95N))
	data, err := c.trackedGetJSON(ctx, "swisstopo_height", heightURL+"?"+params.Encode(), true)
	if err != nil || data == nil {
		return nil
	}
	if h, ok := utils.AsFloat(data["height"]); ok {
		return &h
	}
	return nil
}

// WGS84ToLV95 transforms a WGS84 point to LV95 via the reframe service.
// The reframe API takes longitude as easting and latitude as northing.
func (c *Client) WGS84ToLV95(ctx context.Context, lat, lon float64) (float64, float64, error) {
	rawURL := fmt.Sprintf("%s/wgs84tolv95?easting=%.8f&northing=%.8f&format=json", reframeBase, lon, lat)
	data, err := c.HTTP.GetJSON(ctx, rawURL, "wgs84tolv95", 0)
	if err != nil {
		return 0, 0, err
	}
	obj := utils.AsMap(data)
	e, okE := utils.AsFloat(obj["easting"])
	n, okN := utils.AsFloat(obj["northing"])
	if !okE || !okN {
		return 0, 0, fmt.Errorf("wgs84tolv95: non-numeric coordinates in response")
	}
	return e, n, nil
}

// mathCos is cos(lat) floored at 0.2 so longitude margins stay bounded at
// extreme latitudes.
func mathCos(lat float64) float64 {
	return maxFloat(math.Cos(lat*math.Pi/180.0), 0.2)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// IdentifyGWRCandidates finds register buildings near a WGS84 point using a
// metric tolerance window expressed in degrees.
func (c *Client) IdentifyGWRCandidates(ctx context.Context, lat, lon, toleranceM float64) ([]map[string]any, error) {
	cosLat := mathCos(lat)
	marginLat := maxFloat(toleranceM/111320.0, 0.0015)
	marginLon := maxFloat(toleranceM/(111320.0*cosLat), 0.0015)

	params := url.Values{}
	params.Set("geometry", fmt.Sprintf("%.8f,%.8f", lon, lat))
	params.Set("geometryType", "esriGeometryPoint")
	params.Set("imageDisplay", "500,500,96")
	params.Set("mapExtent", fmt.Sprintf("%.8f,%.8f,%.8f,%.8f", lon-marginLon, lat-marginLat, lon+marginLon, lat+marginLat))
	params.Set("tolerance", "10")
	params.Set("layers", "all:"+LayerGWR)
	params.Set("sr", "4326")
	params.Set("returnGeometry", "true")
	params.Set("geometryFormat", "geojson")
	params.Set("lang", "de")
	params.Set("f", "json")

	rawURL := identifyURL + "?" + params.Encode()
	data, err := c.trackedGetJSON(ctx, "geoadmin_gwr", rawURL, false)
	if err != nil || data == nil {
		return nil, err
	}
	var out []map[string]any
	for _, item := range utils.AsList(data["results"]) {
		if m := utils.AsMap(item); m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}
