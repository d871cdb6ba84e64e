package population

import (
	"encoding/json"
	"time"

	"popwatch/pkg/models"
)

// Reconcile merges one result per source into the canonical record for
// worldID. results must hold an entry for every source name in order,
// with the no-data sentinel standing in for failed or disabled sources.
//
// Reconciliation never fails: partial or total source failure is an
// expected steady state, so the worst outcome is a record with a nil
// payload, which is still cached like any other.
func Reconcile(worldID int, order []string, results map[string]models.SourceResult) models.WorldRecord {
	debug := models.DebugPayload{
		Raw:            make(map[string]json.RawMessage, len(order)),
		Timings:        make(map[string]*models.Timings, len(order)),
		LastFetchTimes: make(map[string]time.Time, len(order)),
	}
	for _, name := range order {
		r := results[name]
		debug.Raw[name] = r.Raw
		debug.Timings[name] = r.Timings
		debug.LastFetchTimes[name] = r.FetchedAt
	}

	// A total of zero or below is the sentinel for "no usable data"; it is
	// excluded from every aggregate rather than counted as an empty world.
	var totals []int
	for _, name := range order {
		if t := results[name].Population.Total; t > 0 {
			totals = append(totals, t)
		}
	}

	if len(totals) == 0 {
		if worldID != models.JaegerWorldID {
			return models.WorldRecord{World: nil, Debug: debug}
		}

		// Jaeger is assumed up but empty when nobody reports it: it is an
		// event server that legitimately sits at zero for weeks.
		services := make(map[string]int, len(order))
		for _, name := range order {
			services[name] = 0
		}
		return models.WorldRecord{
			World: &models.WorldPayload{
				ID:       worldID,
				Average:  0,
				Factions: models.Factions{},
				Services: services,
			},
			Debug: debug,
		}
	}

	services := make(map[string]int, len(order))
	for _, name := range order {
		services[name] = results[name].Population.Total
	}

	return models.WorldRecord{
		World: &models.WorldPayload{
			ID:      worldID,
			Average: avgOf(totals),
			Factions: models.Factions{
				NC: factionAvg(order, results, func(p models.Population) *int { return p.NC }),
				TR: factionAvg(order, results, func(p models.Population) *int { return p.TR }),
				VS: factionAvg(order, results, func(p models.Population) *int { return p.VS }),
			},
			Services: services,
		},
		Debug: debug,
	}
}

// avgOf is a floor-divided integer mean. Floor rather than round is a
// deliberate, reproducible bias: {100, 101} averages to 100.
func avgOf(values []int) int {
	sum := 0
	for _, v := range values {
		sum += v
	}
	return sum / len(values)
}

// factionAvg averages one faction figure over the sources that both carry a
// usable total and report that particular faction. A source missing one
// faction does not affect the other keys or other sources' contributions.
func factionAvg(order []string, results map[string]models.SourceResult, pick func(models.Population) *int) int {
	var values []int
	for _, name := range order {
		p := results[name].Population
		if p.Total <= 0 {
			continue
		}
		if v := pick(p); v != nil {
			values = append(values, *v)
		}
	}
	if len(values) == 0 {
		return 0
	}
	return avgOf(values)
}
