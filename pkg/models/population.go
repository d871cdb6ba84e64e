package models

import (
	"encoding/json"
	"time"
)

// Population is one provider's measurement for a single world.
//
// Total is the authoritative figure per provider. The per-faction splits are
// pointers because some providers (voidwell) count players without being able
// to attribute them to a faction; a nil pointer means "this provider did not
// report that faction", which is different from reporting zero.
type Population struct {
	Total int  `json:"total"`
	NC    *int `json:"nc"`
	TR    *int `json:"tr"`
	VS    *int `json:"vs"`
}

// Timings records when a source adapter entered, how long the upstream call
// took, and when it exited, all in Unix milliseconds.
type Timings struct {
	Enter    int64 `json:"enter"`
	Upstream int64 `json:"upstream"`
	Exit     int64 `json:"exit"`
}

// SourceResult is what a single source adapter produces for one world on one
// invocation. Raw keeps the provider's own JSON for the debug view only.
// Results are never mutated after creation; the next fetch cycle supersedes
// them.
type SourceResult struct {
	Population Population      `json:"population"`
	Raw        json.RawMessage `json:"raw"`
	FetchedAt  time.Time       `json:"fetchedAt"`
	Timings    *Timings        `json:"timings,omitempty"`
}

// Factions is the reconciled per-faction average across sources.
type Factions struct {
	NC int `json:"nc"`
	TR int `json:"tr"`
	VS int `json:"vs"`
}

// WorldPayload is the canonical reconciled record for one world.
//
// Services keeps each source's raw total exactly as returned, including the
// -1 sentinel for a failed or disabled source. Only the aggregate math
// excludes sentinels; the per-service view keeps them for transparency.
type WorldPayload struct {
	ID       int            `json:"id"`
	Average  int            `json:"average"`
	Factions Factions       `json:"factions"`
	Services map[string]int `json:"services"`
}

// DebugPayload carries per-source diagnostics alongside a reconciled record.
// It is always assembled but only surfaced when a caller asks for it.
type DebugPayload struct {
	Raw            map[string]json.RawMessage `json:"raw"`
	Timings        map[string]*Timings        `json:"timings"`
	LastFetchTimes map[string]time.Time       `json:"lastFetchTimes"`
}

// WorldRecord is the unit stored in the world cache: the reconciled payload
// (nil when no source had data) plus its debug companion.
type WorldRecord struct {
	World *WorldPayload `json:"world"`
	Debug DebugPayload  `json:"debug"`
}

// AllWorldIDs is the fixed enumeration of tracked worlds, in the order bulk
// responses are returned. Worlds are not discovered dynamically.
var AllWorldIDs = []int{1, 10, 13, 17, 19, 40, 1000, 2000}

// JaegerWorldID is the one world that is assumed to always exist even when
// every source reports nothing for it: Jaeger is an event server that sits
// empty most of the time, so "no data" there means a genuine zero, not an
// outage.
const JaegerWorldID = 19
