package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/openshelf/openshelf"
	"github.com/openshelf/openshelf/api/middleware"
	"github.com/openshelf/openshelf/config"
)

type Api struct {
	shelf  *openshelf.Openshelf
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/works", a.CreateSyntheticWork)
	router.GET("/works/:id", a.GetWork)
	router.GET("/search", a.SearchWorks)

	router.GET("/editions/:isbn", a.LookupEdition)
	router.POST("/editions/batch", a.BatchEnrich)

	router.POST("/resolve", a.ResolveWork)

	router.POST("/enrichment-tasks", a.EnqueueEnrichmentTask)
	router.GET("/enrichment-tasks/:id", a.GetEnrichmentTask)
	router.GET("/dead-tasks", a.ListDeadTasks)
	router.POST("/dead-tasks/:id/retry", a.RetryDeadTask)

	router.POST("/enhancer/run", a.TriggerEnhancer)

	router.GET("/providers/quota", a.GetQuotaState)
	router.GET("/providers/resolvers", a.GetResolverStates)

	router.GET("/backup", a.BackupDB)
	router.GET("/backup-s3", a.BackupDBS3)

	return a.router
}

func NewAPI(shelf *openshelf.Openshelf) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware("openshelf"))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{shelf: shelf, router: r}
}
