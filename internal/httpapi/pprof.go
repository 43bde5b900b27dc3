package httpapi

import (
	hpprof "net/http/pprof"
	"runtime"

	"github.com/gin-gonic/gin"

	logx "expirybot/pkg/logx"
)

const pprofPrefix = "/debug/pprof"

// PprofConfig mounts the runtime profiler under /debug/pprof, behind the API key.
type PprofConfig struct {
	Enabled              bool
	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

// applyRuntimeRates sets the profiling rates. 0 keeps the Go default.
func applyRuntimeRates(cfg PprofConfig) {
	if cfg.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
	if cfg.MemProfileRate > 0 {
		runtime.MemProfileRate = cfg.MemProfileRate
	}
}

func (s *Server) mountPprof(r *gin.Engine) {
	if !s.cfg.Pprof.Enabled {
		return
	}
	applyRuntimeRates(s.cfg.Pprof)

	g := r.Group(pprofPrefix, s.auth())
	g.GET("/", gin.WrapF(hpprof.Index))
	g.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
	g.GET("/profile", gin.WrapF(hpprof.Profile))
	g.POST("/symbol", gin.WrapF(hpprof.Symbol))
	g.GET("/symbol", gin.WrapF(hpprof.Symbol))
	g.GET("/trace", gin.WrapF(hpprof.Trace))
	// Named profiles: heap, goroutine, allocs, block, mutex, threadcreate.
	g.GET("/:profile", func(c *gin.Context) {
		hpprof.Handler(c.Param("profile")).ServeHTTP(c.Writer, c.Request)
	})
	s.log.Warn("pprof endpoints enabled", logx.String("prefix", pprofPrefix))
}
