// Package httpserver implements the metrics HTTP surface of spec §6: a
// GET /metrics endpoint serving Prometheus text format on
// general.metrics_laddr:general.metrics_port. Spec §1 lists "the metrics
// HTTP exposition endpoint" as an external interface only; this package is
// the minimal concrete home it's given, the same way internal/store is
// given one for the document database driver.
//
// Grounded on the teacher's own admin web server stack (core/web), which
// assembles gin with the same middleware set wired here: ginprom for the
// Prometheus handler itself, gin-contrib/cors and gin-contrib/size, the
// danielkov/gin-helmet and unrolled/secure header hardening pair, and
// ulule/limiter for request-rate limiting the scrape endpoint.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Depado/ginprom"
	"github.com/danielkov/gin-helmet"
	"github.com/gin-contrib/cors"
	ginsize "github.com/gin-contrib/size"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	limiter "github.com/ulule/limiter"
	lmemory "github.com/ulule/limiter/drivers/store/memory"
	"github.com/unrolled/secure"

	"github.com/mrzigha/evm-indexer/internal/config"
	"github.com/mrzigha/evm-indexer/internal/logger"
)

// maxRequestBytes caps the body size of any request to the metrics surface;
// there's no legitimate POST body here, but gin-contrib/size is the
// teacher's standing defense against oversized request bodies on every
// admin-web route, applied here too.
const maxRequestBytes = 1 << 20 // 1MiB

// scrapeRateLimit caps /metrics scrape requests per source IP.
const scrapeRateLimit = "60-M"

// Server exposes the Prometheus text-format metrics endpoint described in
// spec §6.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// New builds the gin engine and binds it to cfg.MetricsLaddr:cfg.MetricsPort.
// It does not start listening; call Run.
func New(cfg config.GeneralConfig, log *logger.Logger) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetTrustedProxies(nil)

	router.Use(cors.Default())
	router.Use(ginsize.RequestSizeLimiter(maxRequestBytes))
	router.Use(ginhelmet.Default())

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	})
	router.Use(func(c *gin.Context) {
		if err := secureMiddleware.Process(c.Writer, c.Request); err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Next()
	})

	router.Use(scrapeRateLimiter(log))

	p := ginprom.New(
		ginprom.Engine(router),
		ginprom.Subsystem("indexer_http"),
		ginprom.Path("/metrics"),
	)
	router.Use(p.Instrument())

	addr := fmt.Sprintf("%s:%d", cfg.MetricsLaddr, cfg.MetricsPort)
	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: router},
		log:        log,
	}, nil
}

// scrapeRateLimiter builds a gin middleware rejecting requests over
// scrapeRateLimit per source IP, backed by an in-memory ulule/limiter store.
// The rate limit guards the metrics endpoint itself from being hammered,
// the same defensive posture the teacher's admin web server applies to
// every route via its own ulule/limiter wiring.
func scrapeRateLimiter(log *logger.Logger) gin.HandlerFunc {
	rate, err := limiter.NewRateFromFormatted(scrapeRateLimit)
	if err != nil {
		log.Fatal(errors.Wrap(err, "parsing metrics scrape rate"))
	}
	store := lmemory.NewStore()
	lim := limiter.NewLimiter(store, rate)

	return func(c *gin.Context) {
		key := c.ClientIP()
		ctx, err := lim.Get(key)
		if err != nil {
			log.Warnw("rate limiter check failed, allowing request", "error", err)
			c.Next()
			return
		}
		if ctx.Reached {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}

// Run starts serving until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutting down metrics server")
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
