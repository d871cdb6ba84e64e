package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"popwatch/internal/population"
	"popwatch/internal/sources"
	"popwatch/pkg/cache"
	"popwatch/pkg/database"
	"popwatch/pkg/utils"
)

func main() {
	cfg := utils.LoadConfig()

	dbCfg := database.DefaultConfig()
	db := database.MustOpen(dbCfg)
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	// Two independent cache namespaces over the same table: raw provider
	// bulk payloads and reconciled world records never share keys.
	sourceCache := cache.New(db, "source:", cfg.DisableCache)
	worldCache := cache.New(db, "world:", cfg.DisableCache)

	srcs := []sources.Source{
		sources.NewSaerro(),
		sources.NewFisu(cfg.FisuUsePS4EU),
		sources.NewHonu(),
		sources.NewVoidwell(cfg.VoidwellUsePS4),
		sources.NewSanctuary(),
	}
	disabled := map[string]bool{
		"saerro":    cfg.DisableSaerro,
		"fisu":      cfg.DisableFisu,
		"honu":      cfg.DisableHonu,
		"voidwell":  cfg.DisableVoidwell,
		"sanctuary": cfg.DisableSanctuary,
	}
	if cfg.EnableKiwi {
		srcs = append(srcs, sources.NewKiwi())
	}

	svc := population.NewService(srcs, disabled, sourceCache, worldCache)
	handler := population.NewHandler(svc, cfg)

	router := gin.Default()

	// Optional: avoid "trusted all proxies" warning
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	router.Use(corsAndRequestID())

	handler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "not_ready",
				"db_error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": dbCfg.Path})
	})

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("population API listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("shutdown signal received: %s", sig)
	case err := <-errCh:
		log.Printf("server error: %v", err)
	}

	log.Println("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	log.Println("server stopped")
}

// corsAndRequestID tags every response with a request ID, the permissive
// CORS headers the public API has always carried, and an x-timing header
// with the elapsed handling time.
func corsAndRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", id)
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")

		// headers flush with the first body write, so the timing stamp has
		// to ride a wrapping writer instead of running after c.Next()
		c.Writer = &timingWriter{ResponseWriter: c.Writer, start: time.Now()}
		c.Next()
	}
}

// timingWriter stamps X-Timing just before the response headers go out.
type timingWriter struct {
	gin.ResponseWriter
	start   time.Time
	stamped bool
}

func (w *timingWriter) stamp() {
	if w.stamped {
		return
	}
	w.stamped = true
	w.Header().Set("X-Timing", fmt.Sprintf("%dms", time.Since(w.start).Milliseconds()))
}

func (w *timingWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) Write(b []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(b)
}

func (w *timingWriter) WriteString(s string) (int, error) {
	w.stamp()
	return w.ResponseWriter.WriteString(s)
}
