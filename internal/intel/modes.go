package intel

// ModeSettings tunes how wide and deep the enrichment layers go.
type ModeSettings struct {
	EnableExternal bool
	POIRadiusM     int
	POILimit       int
	TenantLimit    int
	IncidentLimit  int
	NewsFocus      string
}

// Modes lists the supported intelligence modes. Unknown modes fall back to
// basic, which keeps all external lookups off.
var Modes = []string{"basic", "extended", "risk"}

func ValidMode(mode string) bool {
	for _, m := range Modes {
		if m == mode {
			return true
		}
	}
	return false
}

func SettingsFor(mode string) ModeSettings {
	switch mode {
	case "risk":
		return ModeSettings{
			EnableExternal: true,
			POIRadiusM:     280,
			POILimit:       140,
			TenantLimit:    14,
			IncidentLimit:  12,
			NewsFocus:      "address_and_incident",
		}
	case "extended":
		return ModeSettings{
			EnableExternal: true,
			POIRadiusM:     190,
			POILimit:       90,
			TenantLimit:    10,
			IncidentLimit:  8,
			NewsFocus:      "address_and_incident",
		}
	default:
		return ModeSettings{
			EnableExternal: false,
			POIRadiusM:     180,
			POILimit:       80,
			TenantLimit:    10,
			IncidentLimit:  6,
			NewsFocus:      "address_only",
		}
	}
}

// AdaptiveFetch widens the POI radius when the first pass comes back thin.
type AdaptiveFetch struct {
	ThinThreshold int
	GrowthFactor  float64
	MaxSteps      int
	MaxRadiusM    int
}

func DefaultAdaptiveFetch() AdaptiveFetch {
	return AdaptiveFetch{
		ThinThreshold: 18,
		GrowthFactor:  1.6,
		MaxSteps:      2,
		MaxRadiusM:    900,
	}
}
