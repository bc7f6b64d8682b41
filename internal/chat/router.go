package chat

import (
	"fmt"
	"strings"

	"github.com/kassym/agrozone/internal/features"
)

// Router is the deterministic fallback responder. Categories are evaluated
// in a fixed priority order and the first match wins; message text can match
// several categories' keyword sets, so the order is a contract. Every
// handler is a pure function of the structured context and performs no
// network or collaborator calls.
type Router struct {
	rules []rule
}

type rule struct {
	name    string
	match   func(msg string, words map[string]bool) bool
	respond func(ctx Context) string
}

// NewRouter builds the fixed rule table.
func NewRouter() *Router {
	return &Router{rules: []rule{
		{"crop", keywords("crop", "crops", "plant", "planting", "harvest", "seed", "sowing", "variety", "yield", "grow", "growing"), respondCrop},
		{"soil", keywords("soil", "ph", "acidity", "acidic", "alkaline", "loam", "clay", "sandy"), respondSoil},
		{"weather", keywords("weather", "climate", "forecast", "frost", "heat", "temperature", "rain", "rainfall"), respondWeather},
		{"sensor", keywords("sensor", "sensors", "iot", "device", "reading", "readings"), respondSensor},
		{"water", keywords("water", "irrigation", "moisture", "drought", "drainage", "watering"), respondWater},
		{"pest", keywords("pest", "pests", "disease", "insect", "fungus", "weed", "weeds"), respondPest},
		{"fertilizer", keywords("fertilizer", "fertiliser", "npk", "nitrogen", "phosphorus", "potassium", "nutrient", "nutrients", "compost", "manure"), respondFertilizer},
		{"machinery", keywords("tractor", "harvester", "machinery", "equipment", "sprayer", "drone", "planter"), respondMachinery},
		{"market", keywords("price", "prices", "market", "demand", "supply", "profit", "cost", "sell", "selling"), respondMarket},
		{"sustainability", keywords("sustainable", "sustainability", "organic", "conservation", "biodiversity", "carbon", "rotation"), respondSustainability},
		{"time", keywords("when", "timing", "season", "seasonal", "month", "calendar", "schedule"), respondTiming},
		{"measurement", matchPhrases("how much", "how many", "how often", "what rate", "dosage", "quantity", "amount"), respondMeasurement},
		{"summary", keywords("summary", "summarize", "overview", "status", "recommend", "recommendation", "suggestion", "advice"), respondSummary},
		{"help", matchHelp, respondHelp},
		{"greeting", matchGreeting, respondGreeting},
		{"fallback", func(string, map[string]bool) bool { return true }, respondFallback},
	}}
}

// Respond returns the first matching category's reply. The terminal fallback
// always matches, so the result is never empty for any input.
func (r *Router) Respond(ctx Context) string {
	lower := strings.ToLower(ctx.UserMessage)
	words := tokenize(lower)
	for _, rl := range r.rules {
		if rl.match(lower, words) {
			return rl.respond(ctx)
		}
	}
	// Unreachable: the fallback rule matches everything.
	return respondFallback(ctx)
}

func keywords(kws ...string) func(string, map[string]bool) bool {
	return func(_ string, words map[string]bool) bool {
		for _, kw := range kws {
			if words[kw] {
				return true
			}
		}
		return false
	}
}

func matchPhrases(phrases ...string) func(string, map[string]bool) bool {
	return func(lower string, _ map[string]bool) bool {
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				return true
			}
		}
		return false
	}
}

func matchHelp(lower string, words map[string]bool) bool {
	return words["help"] || strings.Contains(lower, "what can you")
}

// matchGreeting fires only when the whole message is a greeting, so "hello,
// what should I plant" still reaches the crop handler first.
func matchGreeting(lower string, _ map[string]bool) bool {
	trimmed := strings.Trim(strings.TrimSpace(lower), "!.?,")
	switch trimmed {
	case "hi", "hello", "hey", "greetings", "good morning", "good afternoon", "good evening":
		return true
	}
	return false
}

// --- handlers ---

func respondCrop(ctx Context) string {
	if ctx.Recommendation != nil && len(ctx.Recommendation.Crops) > 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "Based on the latest analysis for %s, the recommended crops are:\n", zoneLabel(ctx))
		for _, c := range ctx.Recommendation.Crops {
			fmt.Fprintf(&b, "%d. %s (%.1f%% suitability)\n", c.Rank, c.CropName, c.ScorePercent)
		}
		fmt.Fprintf(&b, "Current season: %s. Risk level: %s.", ctx.Season, ctx.Risks.Level)
		return b.String()
	}
	return fmt.Sprintf("No crop recommendation has been generated for %s yet. "+
		"Trigger one from the recommendations page once sensor data for the desired window is available.", zoneLabel(ctx))
}

func respondSoil(ctx Context) string {
	vec := ctx.Features
	if vec == nil || vec.NoData {
		return "No soil data is available for this zone yet. Check that the soil sensors are online and reporting."
	}
	var parts []string
	if fs, ok := vec.Stat(features.FieldPH); ok {
		parts = append(parts, fmt.Sprintf("pH %.1f (%s)", fs.Mean, vec.PHCategory))
	}
	if fs, ok := vec.Stat(features.FieldNitrogen); ok {
		parts = append(parts, fmt.Sprintf("nitrogen %.1f mg/kg", fs.Mean))
	}
	if fs, ok := vec.Stat(features.FieldPhosphorus); ok {
		parts = append(parts, fmt.Sprintf("phosphorus %.1f mg/kg", fs.Mean))
	}
	if fs, ok := vec.Stat(features.FieldPotassium); ok {
		parts = append(parts, fmt.Sprintf("potassium %.1f mg/kg", fs.Mean))
	}
	if len(parts) == 0 {
		return "Soil sensors have not reported pH or nutrient values for this zone yet."
	}
	return fmt.Sprintf("Current soil conditions for %s: %s. Data quality grade: %s.",
		zoneLabel(ctx), strings.Join(parts, ", "), ctx.Quality.Grade)
}

func respondWeather(ctx Context) string {
	if desc, ok := externalString(ctx, "description"); ok {
		reply := fmt.Sprintf("Current conditions for %s: %s", zoneLabel(ctx), desc)
		if t, ok := externalNumber(ctx, "temperature"); ok {
			reply += fmt.Sprintf(", %.1f°C", t)
		}
		if h, ok := externalNumber(ctx, "humidity"); ok {
			reply += fmt.Sprintf(", humidity %.0f%%", h)
		}
		return reply + fmt.Sprintf(". Season: %s.", ctx.Season)
	}
	if vec := ctx.Features; vec != nil {
		if fs, ok := vec.Stat(features.FieldTemperature); ok {
			return fmt.Sprintf("No live forecast is available, but sensors report an average temperature of %.1f°C over the last window. Season: %s.",
				fs.Mean, ctx.Season)
		}
	}
	return fmt.Sprintf("No weather data is available for %s right now. It is currently %s; monitor the local forecast before field operations.",
		zoneLabel(ctx), strings.ToLower(ctx.Season))
}

func respondSensor(ctx Context) string {
	vec := ctx.Features
	if vec == nil || vec.NoData {
		return "No sensor readings have been collected for this zone in the selected window. Verify the devices are online and their tags are assigned to this zone."
	}
	total := 0
	reported := 0
	for _, f := range features.NumericFields {
		total++
		if _, ok := vec.Stat(f); ok {
			reported++
		}
	}
	return fmt.Sprintf("Sensors for %s are reporting %d of %d tracked fields at %.1f readings/hour over a %.1f-hour window. Data quality: %d/100 (grade %s).",
		zoneLabel(ctx), reported, total, vec.ReadingsPerHour, vec.DurationHours, ctx.Quality.Score, ctx.Quality.Grade)
}

func respondWater(ctx Context) string {
	if vec := ctx.Features; vec != nil {
		if fs, ok := vec.Stat(features.FieldSoilMoisture); ok {
			return fmt.Sprintf("Soil moisture for %s averages %.1f%% (%s). "+
				"Keep moisture in the 20-40%% band for most field crops and adjust irrigation scheduling to the %s season.",
				zoneLabel(ctx), fs.Mean, vec.MoistureCategory, strings.ToLower(ctx.Season))
		}
	}
	return "No soil moisture data is available. Proper irrigation timing depends on live moisture readings; verify the moisture sensors first."
}

func respondPest(ctx Context) string {
	crops := ctx.CropNames()
	if len(crops) > 0 {
		return fmt.Sprintf("For %s, integrated pest management is the safest default: scout fields weekly, rotate modes of action, and treat only past thresholds. Current risk level for the zone is %s.",
			strings.Join(crops, ", "), ctx.Risks.Level)
	}
	return "Integrated pest management is recommended: regular scouting, preventive rotation, and targeted treatment based on the zone's environmental conditions."
}

func respondFertilizer(ctx Context) string {
	vec := ctx.Features
	if vec == nil || vec.NoData {
		return "Fertilizer rates should be based on soil test results; no nutrient readings are available for this zone yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Nutrient status for %s:", zoneLabel(ctx))
	for _, f := range []string{features.FieldNitrogen, features.FieldPhosphorus, features.FieldPotassium} {
		if fs, ok := vec.Stat(f); ok {
			fmt.Fprintf(&b, " %s %.1f mg/kg,", f, fs.Mean)
		}
	}
	reply := strings.TrimSuffix(b.String(), ",")
	if np := vec.NPRatio; np != nil {
		reply += fmt.Sprintf(". N/P ratio is %.2f", *np)
	}
	for _, r := range ctx.Risks.Risks {
		if strings.Contains(r.Description, "nitrogen") || strings.Contains(r.Description, "phosphorus") {
			reply += ". " + r.Mitigation
		}
	}
	return reply + "."
}

func respondMachinery(ctx Context) string {
	return fmt.Sprintf("Machinery planning depends on the crop and season. It is %s; schedule maintenance ahead of the next field operation and match equipment to the recommended crops%s.",
		strings.ToLower(ctx.Season), cropSuffix(ctx))
}

func respondMarket(ctx Context) string {
	return fmt.Sprintf("Market advice is outside the live data this assistant holds, but crop choice%s should weigh local demand and input costs alongside the suitability ranking. Check regional price boards before committing acreage.",
		cropSuffix(ctx))
}

func respondSustainability(ctx Context) string {
	return fmt.Sprintf("For sustainable management in %s conditions: rotate crops to preserve soil structure, maintain organic matter, and use the zone's sensor data to avoid over-application of water and fertilizer. Risk level is currently %s.",
		strings.ToLower(ctx.Season), ctx.Risks.Level)
}

func respondTiming(ctx Context) string {
	planting := "Spring and early summer are the main planting windows"
	if ctx.Season == "Spring" || ctx.Season == "Summer" {
		planting = "The current season supports planting"
	}
	return fmt.Sprintf("It is currently %s. %s for most recommended crops%s; harvest timing varies by variety.",
		ctx.Season, planting, cropSuffix(ctx))
}

func respondMeasurement(ctx Context) string {
	if vec := ctx.Features; vec != nil && !vec.NoData {
		return fmt.Sprintf("Application rates should be derived from the measured levels, not fixed amounts. The zone's current means are the baseline (data quality %d/100); agronomic rates depend on the target crop's removal rates.",
			ctx.Quality.Score)
	}
	return "Exact quantities depend on measured soil levels, and no recent measurements are available for this zone. Collect a fresh sensor window first."
}

func respondSummary(ctx Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Zone %s summary — season: %s; data quality: %d/100 (grade %s); risk level: %s.",
		zoneLabel(ctx), ctx.Season, ctx.Quality.Score, ctx.Quality.Grade, ctx.Risks.Level)
	if ctx.Recommendation != nil && len(ctx.Recommendation.Crops) > 0 {
		top := ctx.Recommendation.Crops[0]
		fmt.Fprintf(&b, " Top recommendation: %s at %.1f%% suitability (status: %s).",
			top.CropName, top.ScorePercent, ctx.Recommendation.Status)
	} else {
		b.WriteString(" No recommendation has been generated yet.")
	}
	return b.String()
}

func respondHelp(ctx Context) string {
	return "You can ask about the zone's crop recommendation, soil conditions, moisture and irrigation, nutrients and fertilizer, weather, sensors, pests, timing, or request an overall summary."
}

func respondGreeting(ctx Context) string {
	return fmt.Sprintf("Hello! I can answer questions about %s — its crop recommendation, soil and sensor data, and seasonal risks. What would you like to know?", zoneLabel(ctx))
}

// respondFallback is the terminal rule: it lists the data categories that
// are actually available for the zone, or asks the user to verify data
// collection when nothing is.
func respondFallback(ctx Context) string {
	var available []string
	if ctx.Recommendation != nil && len(ctx.Recommendation.Crops) > 0 {
		available = append(available, "crop recommendations")
	}
	if vec := ctx.Features; vec != nil && !vec.NoData {
		if _, ok := vec.Stat(features.FieldPH); ok {
			available = append(available, "soil conditions")
		}
		if _, ok := vec.Stat(features.FieldSoilMoisture); ok {
			available = append(available, "moisture readings")
		}
		available = append(available, "sensor statistics")
	}
	if len(ctx.External) > 0 {
		available = append(available, "weather context")
	}

	if len(available) == 0 {
		return "I could not match that question to any data held for this zone, and no sensor data has been collected yet. Please verify that data collection is running, then ask again."
	}
	return fmt.Sprintf("I could not match that question to a specific topic. For this zone I currently have: %s. Try asking about one of those.",
		strings.Join(available, ", "))
}

// --- helpers ---

func zoneLabel(ctx Context) string {
	if ctx.ZoneName != "" {
		return ctx.ZoneName
	}
	if ctx.ZoneID != "" {
		return "zone " + ctx.ZoneID
	}
	return "this zone"
}

func cropSuffix(ctx Context) string {
	if crops := ctx.CropNames(); len(crops) > 0 {
		return " (" + strings.Join(crops, ", ") + ")"
	}
	return ""
}

func externalString(ctx Context, key string) (string, bool) {
	v, ok := ctx.External[key].(string)
	return v, ok && v != ""
}

func externalNumber(ctx Context, key string) (float64, bool) {
	switch v := ctx.External[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
