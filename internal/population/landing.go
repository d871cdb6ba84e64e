package population

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const landingText = `Aggregate Planetside 2 World Population

## Methodology

This service aggregates population data from the following sources:
- https://saerro.ps2.live/
- https://ps2.fisu.pw/
- https://wt.honu.pw/
- https://voidwell.com/ (caveat: no factions, non-standard counting method)
- https://census.lithafalcon.cc/ (caveat: no PS4 worlds, no Jaeger)

Each world's population is the floor-divided mean of every source that
currently has usable data for it. A source reporting -1 had no data and is
excluded from the math but kept in the per-service view.

## Routes

GET /population/:id - Get one world by ID

  {
    "id": 17,
    "average": 285,
    "factions": { "nc": 91, "tr": 92, "vs": 91 },
    "services": {
      "saerro": 282,
      "fisu": 271,
      "honu": 292,
      "voidwell": 298,
      "sanctuary": 281
    }
  }

  Query parameters:

    ?debug=1 - Adds the raw per-source payloads, per-source request timings
               and last fetch times to the response.

  Worlds: 1 (Connery), 10 (Miller), 13 (Cobalt), 17 (Emerald), 19 (Jaeger),
          40 (SolTech), 1000 (Genudine), 2000 (Ceres)

GET /population/all - Get all worlds, in the order above.

GET /population~/flags - Effective feature flags.

GET /population~/health - Upstream reachability; 502 when every source is down.

Responses are cached for up to 3 minutes. A 404 with
{"error": "No data available"} means no source currently knows the world.
`

func (h *Handler) landing(c *gin.Context) {
	c.String(http.StatusOK, landingText)
}
