package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/marches-api/internal/middleware"
	"github.com/noah-isme/marches-api/internal/models"
)

// Router bundles the handlers mounted under the API prefix.
type Router struct {
	Auth          *AuthHandler
	Tenders       *TenderHandler
	Dossiers      *DossierHandler
	Notifications *NotificationHandler
	Imports       *ImportHandler
	Documents     *DocumentHandler
	Metrics       *MetricsHandler

	Tokens middleware.TokenValidator
	Audit  middleware.AuditWriter
	Logger *zap.Logger
}

// Register mounts every route on api.
func (rt *Router) Register(api *gin.RouterGroup) {
	auth := api.Group("/auth")
	auth.POST("/login", rt.Auth.Login)
	auth.POST("/refresh", rt.Auth.Refresh)

	// signed token stands in for the bearer header
	api.GET("/documents/:id/download",
		middleware.Audit(rt.Audit, rt.Logger, models.AuditActionDocumentDownload, "document"),
		rt.Documents.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(rt.Tokens))

	secured.POST("/auth/logout", rt.Auth.Logout)
	secured.POST("/auth/change-password", rt.Auth.ChangePassword)
	secured.GET("/auth/me", rt.Auth.Me)
	secured.GET("/metrics/summary", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin), rt.Metrics.Summary)

	view := middleware.RequireCapability(models.CapTenderView)
	tenders := secured.Group("/tenders")
	tenders.GET("", view, rt.Tenders.List)
	tenders.GET("/stats", view, rt.Tenders.Stats)
	tenders.GET("/export", view, middleware.Audit(rt.Audit, rt.Logger, models.AuditActionExport, "tender"), rt.Tenders.Export)
	tenders.GET("/:id", view, rt.Tenders.Get)
	tenders.GET("/:id/history", view, rt.Tenders.History)
	tenders.GET("/:id/dossiers", view, rt.Tenders.Dossiers)

	intake := middleware.RequireCapability(models.CapTenderIntake)
	tenders.POST("/:id/select", intake, rt.Tenders.Select)
	tenders.POST("/:id/accept", intake, rt.Tenders.Accept)
	tenders.POST("/:id/reject", intake, rt.Tenders.Reject)
	tenders.POST("/:id/promote", middleware.RequireCapability(models.CapTenderPromote), rt.Tenders.Promote)

	decide := middleware.RequireCapability(models.CapDirectorDecision)
	tenders.POST("/:id/decision/accept", decide, rt.Tenders.DecisionAccept)
	tenders.POST("/:id/decision/refuse", decide, rt.Tenders.DecisionRefuse)
	tenders.POST("/:id/cancel", middleware.RequireCapability(models.CapTenderCancel), rt.Tenders.Cancel)

	manage := middleware.RequireCapability(models.CapDossierManage)
	secured.GET("/dossiers/:id/tasks", manage, rt.Dossiers.Tasks)
	secured.PATCH("/tasks/:id/status", manage, rt.Dossiers.UpdateTaskStatus)
	secured.GET("/tasks/:id/assignments", manage, rt.Dossiers.Assignments)
	secured.POST("/tasks/:id/assignments", manage, rt.Dossiers.Assign)
	secured.DELETE("/assignments/:id", manage, rt.Dossiers.Unassign)

	notifications := secured.Group("/notifications")
	notifications.GET("", rt.Notifications.List)
	notifications.GET("/unread-count", rt.Notifications.UnreadCount)
	notifications.POST("/:id/read", rt.Notifications.MarkRead)
	notifications.POST("/read-all", rt.Notifications.MarkAllRead)

	imports := middleware.RequireCapability(models.CapImport)
	secured.POST("/imports/marches", imports, rt.Imports.Import)
	secured.GET("/scripts", imports, rt.Imports.Scripts)
	secured.GET("/scripts/progress", imports, rt.Imports.Progress)
	secured.POST("/scripts/:id/launch", imports, rt.Imports.Launch)

	docs := secured.Group("/documents", middleware.RequireCapability(models.CapDocuments))
	docs.POST("", rt.Documents.Upload)
	docs.GET("", rt.Documents.List)
	docs.GET("/:id", rt.Documents.Get)
	docs.POST("/:id/renew", rt.Documents.Renew)
	docs.GET("/:id/download-url", rt.Documents.DownloadURL)
}
