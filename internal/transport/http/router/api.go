package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"postboard/internal/core/auth"
	"postboard/internal/core/cache"
	"postboard/internal/repo"
	mdw "postboard/internal/transport/http/middleware"
	resp "postboard/internal/transport/http/response"
)

// NewAPIEngine builds the full HTTP surface. cache may be nil when redis
// is not configured; the hot-post lookup then goes straight to the store.
func NewAPIEngine(l *zap.Logger, db *gorm.DB, jwter *auth.JWTer, c *cache.Cache) *gin.Engine {
	r := gin.New()
	// Lets request deadlines from the timeout middleware reach the store
	// through db.WithContext.
	r.ContextWithFallback = true

	r.Use(
		mdw.RequestID(),
		mdw.RateLimit(200, 400),
		mdw.ConcurrencyLimit(300),
		mdw.MaxBodyBytes(1<<20),
		mdw.Timeout(10*time.Second),
		ginzap.RecoveryWithZap(l, true),
		mdw.Metrics(),
		mdw.AccessLog(l),
		cors.Default(),
	)

	r.GET("/health", func(g *gin.Context) { g.JSON(http.StatusOK, gin.H{"ok": 1}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Root listing of all user rows, as the service has always done.
	r.GET("/", func(g *gin.Context) {
		users, err := repo.NewUserRepo(db.WithContext(g)).List()
		if err != nil {
			g.JSON(http.StatusInternalServerError, resp.Error(resp.CodeServerError, "db error"))
			return
		}
		g.JSON(http.StatusOK, resp.OK(users))
	})

	// Public: registration and login, with a tighter per-client budget
	// against credential stuffing.
	mountUserActions(r.Group("/users", mdw.RateLimitPerIP(10, 20)), db, jwter)

	// Everything under /posts sits behind the token gate.
	posts := r.Group("/posts")
	posts.Use(mdw.AuthToken(jwter))
	mountPostActions(posts, db, c)

	return r
}
