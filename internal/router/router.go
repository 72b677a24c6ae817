package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/handler"
	"github.com/stemsi/exstem-session-engine/internal/middleware"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt    *handler.AttemptHandler
	WS         *handler.WSHandler
	Session    *handler.SessionHandler
	Submission *handler.SubmissionHandler
	Monitor    *handler.MonitorHandler
	System     *handler.SystemHandler
}

// Limiters throttle the chatty student endpoints.
type Limiters struct {
	Answers    *middleware.RateLimiter
	Violations *middleware.RateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiters *Limiters,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// Restrict to AllowedOrigins when set; allow all otherwise (dev).
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality:   middleware.DefaultBrotliConfig.Quality,
		MinLength: middleware.DefaultBrotliConfig.MinLength,
		SkipPaths: []string{"/ws/"},
	}))

	router.GET("/health", handlers.System.Health)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.NoStore(),
		middleware.RequireUUIDParams("id", "question_id"),
	)
	{
		studentAPI.GET("/submissions", handlers.Attempt.ListSubmissions)
		studentAPI.GET("/submissions/:id", handlers.Attempt.Open)
		studentAPI.GET("/submissions/:id/timer", handlers.Attempt.Timer)
		studentAPI.PUT("/submissions/:id/answers/:question_id",
			limiters.Answers.Middleware(),
			handlers.Attempt.SaveAnswer,
		)
		studentAPI.POST("/submissions/:id/violations",
			limiters.Violations.Middleware(),
			handlers.Attempt.ReportViolation,
		)
		studentAPI.POST("/submissions/:id/finish", handlers.Attempt.Finish)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService), middleware.RequireUUIDParams("id"))
	{
		ws.GET("/student/submissions/:id/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Admin Group (Staff JWT + RBAC) ─────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireStaffJWT(authService), middleware.RequireUUIDParams("id"))
	{
		// Session lifecycle
		adminAPI.POST("/sessions/:id/activate",
			middleware.RequirePermission(model.PermissionSessionsActivate),
			handlers.Session.Activate,
		)
		adminAPI.POST("/sessions/:id/close",
			middleware.RequirePermission(model.PermissionSessionsClose),
			handlers.Session.Close,
		)
		adminAPI.POST("/sessions/:id/expire",
			middleware.RequirePermission(model.PermissionSessionsClose),
			handlers.Session.Expire,
		)
		adminAPI.POST("/sessions/:id/publish",
			middleware.RequirePermission(model.PermissionGradesPublish),
			handlers.Session.Publish,
		)

		// Live monitor
		adminAPI.GET("/sessions/:id/snapshot",
			middleware.RequirePermission(model.PermissionSessionsMonitor),
			handlers.Monitor.Snapshot,
		)
		adminAPI.GET("/sessions/:id/monitor",
			middleware.RequirePermission(model.PermissionSessionsMonitor),
			handlers.Monitor.MonitorSessionSSE,
		)

		// Single submission
		adminAPI.GET("/submissions/:id",
			middleware.RequireAnyPermission(model.PermissionGradesWrite, model.PermissionSessionsMonitor),
			handlers.Submission.Review,
		)
		adminAPI.GET("/submissions/:id/timer",
			middleware.RequireAnyPermission(model.PermissionAttemptsExtend, model.PermissionSessionsMonitor),
			handlers.Submission.Timer,
		)
		adminAPI.POST("/submissions/:id/bonus-time",
			middleware.RequirePermission(model.PermissionAttemptsExtend),
			handlers.Submission.GrantBonusTime,
		)
		adminAPI.POST("/submissions/:id/grades",
			middleware.RequirePermission(model.PermissionGradesWrite),
			handlers.Submission.ApplyGrades,
		)
		adminAPI.POST("/submissions/:id/recompute",
			middleware.RequirePermission(model.PermissionGradesWrite),
			handlers.Submission.Recompute,
		)

		// System
		adminAPI.GET("/system/metrics",
			middleware.RequirePermission(model.PermissionSystemRead),
			handlers.System.SystemMetricsSSE,
		)
	}

	return router
}
