package main

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"groupdrop/internal/auth"
	"groupdrop/internal/db"
	"groupdrop/internal/handlers"
	"groupdrop/internal/mail"
	"groupdrop/internal/membership"
	"groupdrop/internal/push"
	"groupdrop/internal/ws"
	"groupdrop/pkg/config"
	"groupdrop/pkg/i18n"
)

func __(key string) string {
	return i18n.Translate(key)
}

func rateLimitMiddleware(limiterInstance *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		limiterContext, err := limiterInstance.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": __("rate limiter error")})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiterContext.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", limiterContext.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", limiterContext.Reset))

		if limiterContext.Reached {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": __("rate limit exceeded")})
			c.Abort()
			return
		}

		c.Next()
	}
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w responseBodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w responseBodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func serverErrorLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		blw := &responseBodyWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Printf(
				"HTTP %d %s %s ip=%s duration=%s errors=%q response=%q",
				c.Writer.Status(),
				c.Request.Method,
				c.Request.URL.Path,
				c.ClientIP(),
				time.Since(start).Truncate(time.Millisecond),
				c.Errors.ByType(gin.ErrorTypeAny).String(),
				strings.TrimSpace(blw.body.String()),
			)
		}
	}
}

func panicRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Printf(
			"panic recovered method=%s path=%s ip=%s error=%v\n%s",
			c.Request.Method,
			c.Request.URL.Path,
			c.ClientIP(),
			recovered,
			debug.Stack(),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": __("internal server error")})
	})
}

func main() {
	cfg := config.Load()

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1:]); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	if err := runServer(cfg); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func runCommand(cfg *config.Config, args []string) error {
	command := args[0]

	switch command {
	case "status":
		return runStatus(cfg, os.Stdout, args[1:])
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(out *os.File) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  groupdrop           Start the web server")
	fmt.Fprintln(out, "  groupdrop status    Show application statistics")
	fmt.Fprintln(out, "  groupdrop status --json")
}

func runServer(cfg *config.Config) error {
	// Ensure data directories exist
	os.MkdirAll(cfg.FileStoragePath, 0755)

	// Initialize database
	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	// Initialize services
	authSvc := auth.New(database.GetConn(), cfg.JWTSecret)
	memberSvc := membership.NewService(database.GetConn())
	mailer := mail.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	notifier := push.NewNotifier(database.GetConn(), cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authSvc, memberSvc, mailer, cfg.BaseURL)
	groupHandler := handlers.NewGroupHandler(memberSvc, authSvc)
	msgHandler := handlers.NewMessageHandler(memberSvc, hub, notifier, cfg.FileStoragePath, cfg.MaxUploadSize)

	// Setup router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(serverErrorLogger())
	router.Use(gin.Logger())
	router.Use(panicRecovery())
	router.MaxMultipartMemory = cfg.MaxUploadSize

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", cfg.CORSOrigins)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	globalLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 100})
	router.Use(rateLimitMiddleware(globalLimiter))

	// Public endpoints
	api := router.Group("/api")
	{
		signupLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 2})
		loginLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 10})
		joinLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 10})

		api.POST("/auth/signup", rateLimitMiddleware(signupLimiter), authHandler.Signup)
		api.POST("/auth/login", rateLimitMiddleware(loginLimiter), authHandler.Login)
		api.POST("/auth/forgot-password", rateLimitMiddleware(loginLimiter), authHandler.ForgotPassword)
		api.POST("/auth/reset-password", rateLimitMiddleware(loginLimiter), authHandler.ResetPassword)

		// Join works signed-in or anonymous; anonymous callers get a guest token
		api.POST("/groups/join", rateLimitMiddleware(joinLimiter), groupHandler.JoinGroup)

		api.GET("/push/vapid-key", msgHandler.VAPIDPublicKey)
	}

	// Endpoints open to accounts and guest grants
	shared := api.Group("")
	shared.Use(authHandler.AuthMiddleware())
	{
		shared.GET("/groups/:id", groupHandler.GetGroup)
		shared.GET("/files/:fileID", msgHandler.DownloadFile)
	}

	// Account-only endpoints
	protected := api.Group("")
	protected.Use(authHandler.AuthMiddleware(), handlers.RequireUser())
	{
		protected.GET("/profile", authHandler.GetMyProfile)
		protected.DELETE("/profile", authHandler.DeleteAccount)

		protected.POST("/groups", groupHandler.CreateGroup)
		protected.GET("/groups", groupHandler.ListMyGroups)
		protected.POST("/groups/:id/leave", groupHandler.LeaveGroup)
		protected.DELETE("/groups/:id", groupHandler.DeleteGroup)
		protected.DELETE("/groups/:id/members/:userID", groupHandler.RemoveMember)
		protected.POST("/groups/:id/members/:userID/promote", groupHandler.PromoteMember)
		protected.POST("/groups/:id/members/:userID/demote", groupHandler.DemoteMember)

		protected.POST("/groups/:id/messages", msgHandler.PostMessage)
		protected.GET("/groups/:id/pending", msgHandler.ListPendingMessages)
		protected.POST("/groups/:id/messages/:messageID/approve", msgHandler.ApproveMessage)
		protected.POST("/groups/:id/messages/:messageID/reject", msgHandler.RejectMessage)

		protected.POST("/groups/:id/files/:fileID/save", msgHandler.SaveToPersonalStorage)
		protected.GET("/groups/:id/storage", msgHandler.ListPersonalStorage)

		protected.POST("/push/subscribe", msgHandler.SubscribePush)
	}

	// WebSocket endpoint
	router.GET("/ws", authHandler.AuthMiddleware(), handlers.RequireUser(), hub.HandleWebSocket)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": __("not found")})
	})

	// Start server
	addr := fmt.Sprintf("0.0.0.0:%s", cfg.Port)
	log.Printf("Starting server on %s", addr)

	// Setup graceful shutdown
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigint
		log.Println("\nShutting down gracefully...")
		os.Exit(0)
	}()

	if err := router.Run(addr); err != nil {
		return err
	}

	return nil
}
