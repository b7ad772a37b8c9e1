package router

import (
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/handler"
	"github.com/noah-isme/hostel-api/internal/middleware"
	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/internal/service"
	"github.com/noah-isme/hostel-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/hostel-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/hostel-api/pkg/middleware/requestid"
)

// Options carries the HTTP surface settings.
type Options struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	LoginAttempts  int
	LoginWindow    time.Duration
}

// Dependencies are the handlers and shared collaborators mounted by New.
type Dependencies struct {
	Logger   *zap.Logger
	Metrics  *service.MetricsService
	Tokens   middleware.TokenValidator
	Audit    middleware.AuditWriter
	Counter  middleware.WindowCounter
	Handlers Handlers
}

// Handlers groups the HTTP handlers.
type Handlers struct {
	Auth          *handler.AuthHandler
	Users         *handler.UserHandler
	Hostels       *handler.HostelHandler
	Students      *handler.StudentHandler
	Attendance    *handler.AttendanceHandler
	Analytics     *handler.AnalyticsHandler
	Leaves        *handler.LeaveHandler
	Mess          *handler.MessHandler
	Notifications *handler.NotificationHandler
	Ops           *handler.MetricsHandler
}

// New builds the gin engine with every route registered.
func New(opts Options, deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(opts.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.WithResponseMeta())

	h := deps.Handlers
	r.GET("/health", h.Ops.Health)
	r.GET("/ready", h.Ops.Ready)
	r.GET("/metrics", h.Ops.Prometheus)
	if opts.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(opts.APIPrefix)
	registerAuth(api, opts, deps)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.Tokens))
	registerUsers(secured, deps)
	registerHostels(secured, deps)
	registerStudents(secured, deps)
	registerAttendance(secured, deps)
	registerLeaves(api, secured, deps)
	registerMess(secured, deps)
	registerNotifications(secured, deps)

	secured.GET("/analytics/system", middleware.Admins(), h.Analytics.System)
	return r
}

func audit(deps Dependencies, action, resource string) gin.HandlerFunc {
	return middleware.Audit(deps.Audit, deps.Logger, action, resource)
}

func registerAuth(api *gin.RouterGroup, opts Options, deps Dependencies) {
	h := deps.Handlers.Auth
	auth := api.Group("/auth")
	auth.POST("/login", middleware.RateLimit(deps.Counter, deps.Logger, "login", opts.LoginAttempts, opts.LoginWindow), h.Login)
	auth.POST("/refresh", h.Refresh)

	authed := auth.Group("")
	authed.Use(middleware.JWT(deps.Tokens))
	authed.POST("/logout", h.Logout)
	authed.POST("/logout-all", h.LogoutAll)
	authed.GET("/sessions", h.Sessions)
	authed.DELETE("/sessions/:id", h.RevokeSession)
	authed.POST("/change-password", h.ChangePassword)
	authed.GET("/me", h.Me)
}

func registerUsers(secured *gin.RouterGroup, deps Dependencies) {
	h := deps.Handlers.Users
	users := secured.Group("/users")
	users.GET("", middleware.Admins(), h.List)
	users.GET("/:id", middleware.RBAC(string(models.RoleSuperAdmin), string(models.RoleAdmin), middleware.SelfParam), h.Get)
	users.POST("", middleware.Admins(), h.Create)
	users.PUT("/:id", middleware.RBAC(string(models.RoleSuperAdmin), string(models.RoleAdmin), middleware.SelfParam), h.Update)
	users.DELETE("/:id", middleware.RequireRoles(models.RoleSuperAdmin), h.Delete)
}

func registerHostels(secured *gin.RouterGroup, deps Dependencies) {
	h := deps.Handlers
	hostels := secured.Group("/hostels")
	hostels.GET("", h.Hostels.List)
	hostels.GET("/:id", h.Hostels.Get)
	hostels.POST("", middleware.Admins(), audit(deps, "HOSTEL_CREATE", "hostel"), h.Hostels.Create)
	hostels.PUT("/:id", middleware.Admins(), audit(deps, "HOSTEL_UPDATE", "hostel"), h.Hostels.Update)

	hostels.POST("/:id/attendance/bulk", middleware.Staff(), h.Attendance.BulkMark)
	hostels.GET("/:id/attendance-policy", middleware.Staff(), h.Attendance.GetPolicy)
	hostels.PUT("/:id/attendance-policy", middleware.Admins(), audit(deps, "ATTENDANCE_POLICY_UPSERT", "attendance_policy"), h.Attendance.UpsertPolicy)
	hostels.POST("/:id/attendance-policy/evaluate", middleware.Staff(), h.Attendance.EvaluatePolicy)

	hostels.GET("/:id/analytics/overview", middleware.Staff(), h.Analytics.Overview)
	hostels.GET("/:id/analytics/risk", middleware.Staff(), h.Analytics.RiskScores)
	hostels.GET("/:id/reports/attendance", middleware.Staff(), audit(deps, "ATTENDANCE_REPORT_EXPORT", "hostel"), h.Analytics.Export)

	hostels.GET("/:id/leave-workflow/:leaveType", middleware.Staff(), h.Leaves.ListSteps)
	hostels.PUT("/:id/leave-workflow/:leaveType", middleware.Admins(), h.Leaves.ReplaceSteps)

	hostels.GET("/:id/mess/daily", h.Mess.Daily)
	hostels.GET("/:id/mess/weekly", h.Mess.Weekly)
	hostels.GET("/:id/mess/weekly.ics", h.Mess.Calendar)
}

func registerStudents(secured *gin.RouterGroup, deps Dependencies) {
	h := deps.Handlers
	students := secured.Group("/students")
	students.GET("", middleware.Staff(), h.Students.List)
	students.GET("/me", h.Students.Me)
	students.GET("/:id", middleware.Staff(), h.Students.Get)
	students.POST("", middleware.Admins(), audit(deps, "STUDENT_CREATE", "student"), h.Students.Create)
	students.PUT("/:id", middleware.Admins(), audit(deps, "STUDENT_UPDATE", "student"), h.Students.Update)
	students.DELETE("/:id", middleware.Admins(), audit(deps, "STUDENT_DEACTIVATE", "student"), h.Students.Delete)

	students.GET("/:id/attendance", middleware.Staff(), h.Attendance.StudentHistory)
	students.GET("/:id/attendance/summary", middleware.Staff(), h.Attendance.StudentSummary)
	students.GET("/:id/leave-balances", h.Leaves.Balances)
}

func registerAttendance(secured *gin.RouterGroup, deps Dependencies) {
	h := deps.Handlers.Attendance
	attendance := secured.Group("/attendance")
	attendance.Use(middleware.Staff())
	attendance.GET("", h.List)
	attendance.POST("", h.Mark)
	attendance.GET("/alerts", h.ListAlerts)
	attendance.POST("/alerts", h.CreateAlert)
	attendance.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
	attendance.POST("/alerts/:id/resolve", h.ResolveAlert)
	attendance.GET("/:id", h.Get)
	attendance.PATCH("/:id", h.Correct)
	attendance.POST("/:id/checkout", h.CheckOut)
}

func registerLeaves(api, secured *gin.RouterGroup, deps Dependencies) {
	h := deps.Handlers.Leaves
	// Signed tokens authorise downloads on their own.
	api.GET("/leaves/attachments/:token", h.DownloadAttachment)

	leaves := secured.Group("/leaves")
	leaves.GET("", h.List)
	leaves.POST("", middleware.RequireRoles(models.RoleStudent), h.Apply)
	leaves.GET("/pending", middleware.Staff(), h.Pending)
	leaves.GET("/:id", h.Get)
	leaves.POST("/:id/approve", middleware.Staff(), h.Approve)
	leaves.POST("/:id/reject", middleware.Staff(), h.Reject)
	leaves.POST("/:id/cancel", h.Cancel)
	leaves.POST("/:id/attachment", middleware.RequireRoles(models.RoleStudent), h.UploadAttachment)
	leaves.GET("/:id/attachment", h.AttachmentURL)

	secured.PUT("/leave-balances", middleware.Admins(), h.AllocateBalance)
}

func registerMess(secured *gin.RouterGroup, deps Dependencies) {
	h := deps.Handlers.Mess
	mess := secured.Group("/mess/menus")
	mess.PUT("", middleware.Staff(), h.UpsertMenu)
	mess.GET("/:id", h.GetMenu)
	mess.DELETE("/:id", middleware.Staff(), h.DeleteMenu)
	mess.POST("/:id/feedback", middleware.RequireRoles(models.RoleStudent), h.SubmitFeedback)
	mess.GET("/:id/feedback", middleware.Staff(), h.ListFeedback)
	mess.GET("/:id/feedback/summary", h.FeedbackSummary)
}

func registerNotifications(secured *gin.RouterGroup, deps Dependencies) {
	h := deps.Handlers.Notifications
	notifications := secured.Group("/notifications")
	notifications.POST("", middleware.Staff(), h.Send)
	notifications.GET("/me", h.Inbox)
	notifications.POST("/read-all", h.MarkAllRead)
	notifications.POST("/:id/read", h.MarkRead)
}
