package population

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"popwatch/pkg/models"
	"popwatch/pkg/utils"
)

type Handler struct {
	Svc *Service
	Cfg utils.Config

	healthClient *http.Client
}

func NewHandler(svc *Service, cfg utils.Config) *Handler {
	return &Handler{
		Svc:          svc,
		Cfg:          cfg,
		healthClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusSeeOther, "/population/")
	})

	pop := r.Group("/population")
	pop.GET("/", h.landing)
	pop.GET("/all", h.all)
	pop.GET("/:id", h.one)

	meta := r.Group("/population~")
	meta.GET("/flags", h.flags)
	meta.GET("/health", h.health)
}

// noData is the uniform "we know nothing about this world" response. It is
// a legitimate outcome, not a server fault, hence 404 over 5xx.
func noData(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "No data available"})
}

func (h *Handler) one(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		noData(c)
		return
	}

	rec := h.Svc.GetWorld(c.Request.Context(), id)
	if rec.World == nil {
		noData(c)
		return
	}

	if c.Query("debug") != "" {
		c.JSON(http.StatusOK, struct {
			models.WorldPayload
			models.DebugPayload
		}{*rec.World, rec.Debug})
		return
	}

	c.JSON(http.StatusOK, rec.World)
}

func (h *Handler) all(c *gin.Context) {
	if c.Query("debug") != "" {
		c.JSON(http.StatusOK, h.Svc.GetAll(c.Request.Context()))
		return
	}

	c.JSON(http.StatusOK, h.Svc.SnapshotAll(c.Request.Context()))
}

func (h *Handler) flags(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"disableSaerro":    h.Cfg.DisableSaerro,
		"disableFisu":      h.Cfg.DisableFisu,
		"disableHonu":      h.Cfg.DisableHonu,
		"disableVoidwell":  h.Cfg.DisableVoidwell,
		"disableSanctuary": h.Cfg.DisableSanctuary,
		"enableKiwi":       h.Cfg.EnableKiwi,
		"voidwellUsePS4":   h.Cfg.VoidwellUsePS4,
		"fisuUsePS4EU":     h.Cfg.FisuUsePS4EU,
		"disableCache":     h.Svc.CacheDisabled(),
	})
}

// healthEndpoints are probed as-is; a 200 means the provider is reachable.
var healthEndpoints = map[string]string{
	"saerro":    "https://saerro.ps2.live/health",
	"fisu":      "https://ps2.fisu.pw",
	"honu":      "https://wt.honu.pw/api/health",
	"voidwell":  "https://voidwell.com/",
	"sanctuary": "https://census.lithafalcon.cc",
}

func (h *Handler) health(c *gin.Context) {
	ctx := c.Request.Context()

	type probe struct {
		name string
		up   bool
	}
	ch := make(chan probe, len(healthEndpoints))

	var g errgroup.Group
	for name, url := range healthEndpoints {
		name, url := name, url
		g.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				ch <- probe{name, false}
				return nil
			}
			res, err := h.healthClient.Do(req)
			if err != nil {
				ch <- probe{name, false}
				return nil
			}
			res.Body.Close()
			ch <- probe{name, res.StatusCode == http.StatusOK}
			return nil
		})
	}
	_ = g.Wait()
	close(ch)

	anyUp := false
	body := gin.H{}
	for p := range ch {
		body[p.name] = p.up
		anyUp = anyUp || p.up
	}

	status := http.StatusOK
	if !anyUp {
		status = http.StatusBadGateway
	}
	c.JSON(status, body)
}
