package api

import (
	"github.com/larkpull/larkpull/internal/api/controllers"
	"github.com/larkpull/larkpull/internal/app"
	"github.com/larkpull/larkpull/internal/batch"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

func RegisterRoutes(e *echo.Echo, appCtx *app.Context, runner *batch.Manager) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			appCtx.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	batchCtrl := &controllers.BatchController{App: appCtx, Runner: runner}

	e.POST("/api/batches", batchCtrl.Launch)
	e.GET("/api/batches", batchCtrl.List)
	e.GET("/api/batches/:id", batchCtrl.Get)
	e.GET("/api/batches/:id/results", batchCtrl.Results)
	e.DELETE("/api/batches/:id", batchCtrl.Cancel)
	e.GET("/api/status", batchCtrl.Status)

	e.GET("/metrics", func(c *echo.Context) error {
		appCtx.Metrics.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})
}
