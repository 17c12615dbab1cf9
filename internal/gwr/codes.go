// Package gwr decodes Eidg. Gebäude- und Wohnungsregister code values into
// their German catalog labels (BFS Merkmalskatalog v4.2).
package gwr

import (
	"fmt"
	"strconv"
	"strings"
)

// GKLAS - Gebäudeklasse.
var GKLAS = map[int]string{
	1110: "Gebäude mit einer Wohnung",
	1121: "Gebäude mit zwei Wohnungen",
	1122: "Gebäude mit drei oder mehr Wohnungen",
	1130: "Wohngebäude für Gemeinschaften",
	1211: "Hotelgebäude",
	1212: "Andere Hotelgebäude (Hospize, Herbergen)",
	1220: "Industrie- und Gewerbegebäude",
	1230: "Büro- und Verwaltungsgebäude",
	1231: "Bürogebäude",
	1241: "Gross- und Detailhandelsgebäude",
	1251: "Restaurants und Bars",
	1261: "Kulturgebäude",
	1262: "Museen und Bibliotheken",
	1263: "Schul- und Hochschulgebäude",
	1264: "Spital- und Heimgebäude",
	1265: "Sportgebäude",
	1271: "Landwirtschaftliche Betriebsgebäude",
	1272: "Gebäude der Forstwirtschaft",
	1273: "Gartenbaugebäude",
	1274: "Andere landwirtschaftliche Gebäude",
	1275: "Tierhaltungsgebäude",
	1276: "Lagergebäude",
	1277: "Gebäude für den Pflanzenbau",
	1278: "Fahrzeugunterkünfte",
}

// GKAT - Gebäudekategorie.
var GKAT = map[int]string{
	1010: "Gebäude mit ausschliesslicher Wohnnutzung",
	1020: "Gebäude mit Wohnnutzung und anderen Nutzungen",
	1030: "Gebäude ohne Wohnnutzung mit Übernachtungsmöglichkeit",
	1040: "Gebäude mit teilweiser Wohnnutzung",
	1060: "Gebäude mit ausschliesslich betrieblicher Nutzung",
	1080: "Sonstige Gebäude (nicht bewohnt)",
}

// GSTAT - Gebäudestatus.
var GSTAT = map[int]string{
	1001: "Projektiert",
	1002: "Bewilligt",
	1003: "Im Bau",
	1004: "Bestehend",
	1005: "Nicht nutzbar",
	1007: "Abgebrochen",
	1008: "Nicht realisiert",
	1009: "Unbekannt",
}

// GWAERZH - Wärmeerzeuger Heizung.
var GWAERZH = map[int]string{
	7400: "Kein Wärmeerzeuger",
	7410: "Wärmepumpe für ein Gebäude",
	7411: "Wärmepumpe für mehrere Gebäude",
	7420: "Thermische Solaranlage für ein Gebäude",
	7421: "Thermische Solaranlage für mehrere Gebäude",
	7430: "Heizkessel (generisch) für ein Gebäude",
	7431: "Heizkessel (generisch) für mehrere Gebäude",
	7432: "Heizkessel nicht kondensierend für ein Gebäude",
	7433: "Heizkessel nicht kondensierend für mehrere Gebäude",
	7434: "Heizkessel kondensierend für ein Gebäude",
	7435: "Heizkessel kondensierend für mehrere Gebäude",
	7436: "Ofen",
	7440: "Wärmekraftkopplungsanlage für ein Gebäude",
	7441: "Wärmekraftkopplungsanlage für mehrere Gebäude",
	7450: "Elektrospeicher-Zentralheizung für ein Gebäude",
	7451: "Elektrospeicher-Zentralheizung für mehrere Gebäude",
	7452: "Elektro direkt",
	7460: "Wärmetauscher (inkl. Fernwärme) für ein Gebäude",
	7461: "Wärmetauscher (inkl. Fernwärme) für mehrere Gebäude",
	7499: "Andere",
}

// GWAERZW - Wärmeerzeuger Warmwasser.
var GWAERZW = map[int]string{
	7600: "Kein Wärmeerzeuger",
	7610: "Wärmepumpe für ein Gebäude",
	7611: "Wärmepumpe für mehrere Gebäude",
	7620: "Thermische Solaranlage für ein Gebäude",
	7621: "Thermische Solaranlage für mehrere Gebäude",
	7630: "Heizkessel (generisch) für ein Gebäude",
	7631: "Heizkessel (generisch) für mehrere Gebäude",
	7632: "Heizkessel nicht kondensierend für ein Gebäude",
	7633: "Heizkessel nicht kondensierend für mehrere Gebäude",
	7634: "Heizkessel kondensierend für ein Gebäude",
	7635: "Heizkessel kondensierend für mehrere Gebäude",
	7636: "Durchlauferhitzer",
	7640: "Wärmekraftkopplungsanlage für ein Gebäude",
	7641: "Wärmekraftkopplungsanlage für mehrere Gebäude",
	7650: "Elektroboiler für ein Gebäude",
	7651: "Elektroboiler für mehrere Gebäude",
	7652: "Elektro direkt",
	7660: "Wärmetauscher (inkl. Fernwärme) für ein Gebäude",
	7661: "Wärmetauscher (inkl. Fernwärme) für mehrere Gebäude",
	7699: "Andere",
}

// GWAERZ combines heating and hot-water generator codes for callers that see
// either.
var GWAERZ = func() map[int]string {
	m := make(map[int]string, len(GWAERZH)+len(GWAERZW))
	for k, v := range GWAERZH {
		m[k] = v
	}
	for k, v := range GWAERZW {
		m[k] = v
	}
	return m
}()

// GENH - Energie-/Wärmequelle. Describes the primary energy carrier, not the
// auxiliary energy (a heat pump decodes to Luft/Erdwärme, not Strom).
var GENH = map[int]string{
	7500: "Keine",
	7501: "Luft",
	7510: "Erdwärme (generisch)",
	7511: "Erdwärmesonde",
	7512: "Erdregister",
	7513: "Wasser (Grundwasser, Oberflächenwasser, Abwasser)",
	7520: "Gas",
	7530: "Heizöl",
	7540: "Holz (generisch)",
	7541: "Holz (Stückholz)",
	7542: "Holz (Pellets)",
	7543: "Holz (Schnitzel)",
	7550: "Abwärme (innerhalb des Gebäudes)",
	7560: "Elektrizität",
	7570: "Sonne (thermisch)",
	7580: "Fernwärme (generisch)",
	7581: "Fernwärme (Hochtemperatur)",
	7582: "Fernwärme (Niedertemperatur)",
	7598: "Unbestimmt",
	7599: "Andere",
}

// DWST - Wohnungsstatus.
var DWST = map[int]string{
	3001: "Projektiert",
	3002: "Bewilligt",
	3003: "Im Bau",
	3004: "Bestehend",
	3005: "Nicht nutzbar",
	3007: "Abgebrochen",
	3008: "Nicht realisiert",
	3009: "Unbekannt",
}

// Decode resolves a code value against a table. Non-numeric input is
// returned as-is; unknown numeric codes fall back to "Code <n>".
func Decode(code any, table map[int]string) string {
	if code == nil {
		return ""
	}
	n, ok := asInt(code)
	if !ok {
		return fmt.Sprintf("%v", code)
	}
	if label, ok := table[n]; ok {
		return label
	}
	return fmt.Sprintf("Code %d", n)
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f), true
		}
	}
	return 0, false
}

// SummarizeBuilding renders a readable German summary from raw GWR
// attributes as returned by the building registry feature endpoint.
func SummarizeBuilding(attrs map[string]any) map[string]any {
	decodeKey := func(key string, table map[int]string) any {
		v, ok := attrs[key]
		if !ok || v == nil {
			return nil
		}
		return Decode(v, table)
	}

	heizung := describeGenerators(attrs, "gwaerzh", "genh", 7400)
	warmwasser := describeGenerators(attrs, "gwaerzw", "genw", 7600)

	return map[string]any{
		"status":          decodeKey("gstat", GSTAT),
		"kategorie":       decodeKey("gkat", GKAT),
		"klasse":          decodeKey("gklas", GKLAS),
		"baujahr":         attrs["gbauj"],
		"stockwerke":      attrs["gastw"],
		"grundflaeche_m2": attrs["garea"],
		"heizung":         nilIfEmptyList(heizung),
		"warmwasser":      nilIfEmptyList(warmwasser),
	}
}

// describeGenerators collects the first and second heat generators with their
// energy carriers, skipping the "no generator" sentinel.
func describeGenerators(attrs map[string]any, genPrefix, enePrefix string, noneCode int) []string {
	var out []string
	for i := 1; i <= 2; i++ {
		gen, hasGen := attrs[fmt.Sprintf("%s%d", genPrefix, i)]
		if !hasGen || gen == nil {
			continue
		}
		if n, ok := asInt(gen); ok && n == noneCode {
			continue
		}
		text := Decode(gen, GWAERZ)
		if ene, ok := attrs[fmt.Sprintf("%s%d", enePrefix, i)]; ok && ene != nil {
			if n, isNum := asInt(ene); !isNum || n != 7500 {
				if eneText := Decode(ene, GENH); eneText != "" {
					text = fmt.Sprintf("%s (%s)", text, eneText)
				}
			}
		}
		out = append(out, text)
	}
	return out
}

func nilIfEmptyList(values []string) any {
	if len(values) == 0 {
		return nil
	}
	return values
}
