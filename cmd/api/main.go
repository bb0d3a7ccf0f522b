package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/kv"
	"rollcall/internal/ledger"
	"rollcall/internal/metrics"
	"rollcall/internal/qrpayload"
	"rollcall/internal/queue"
	"rollcall/internal/rotation"
	"rollcall/internal/session"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

// newStore builds the configured kv backend. The returned redis handle is
// nil unless the backend (or the queue) needs one.
func newStore(cfg config.App) (kv.Store, *kv.Redis, func(), error) {
	switch cfg.KVBackend {
	case "redis":
		r := kv.NewRedis(cfg.RedisAddr, "")
		return r, r, func() {}, nil
	case "postgres":
		p, err := kv.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return p, nil, func() { _ = p.Close() }, nil
	default:
		return kv.NewMemory(), nil, func() {}, nil
	}
}

func runHTTP(cfg config.App) error {
	store, redisKV, closeStore, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.QueueBackend == "redis" && redisKV == nil {
		redisKV = kv.NewRedis(cfg.RedisAddr, "")
	}
	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(redisKV.Client, "")
	} else {
		q = queue.NewInMemory(64)
	}

	eng := rotation.New(cfg.SlotDuration, cfg.CodeLength)
	reg := session.NewRegistry(store, cfg.SessionTTL)
	gate := session.NewGate(reg, eng)
	led := ledger.New(store, cfg.MinDwell)
	svc := attendance.NewService(gate, led, q)

	sched := rotation.NewScheduler(eng)
	defer sched.StopAll()

	ctx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()
	go presenceLoop(ctx, cfg, reg, led)
	go purgeLoop(ctx, cfg, reg, led)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		redisHealthy := true
		if redisKV != nil {
			redisHealthy = redisKV.Healthy(c.Request.Context())
			if !redisHealthy {
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, gin.H{"status": "ok", "kv": cfg.KVBackend, "redis": redisHealthy})
	})

	r.POST("/v1/admin/login", func(c *gin.Context) {
		var req struct {
			Key string `json:"key" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if cfg.AdminKey == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin login not configured"})
			return
		}
		if req.Key != cfg.AdminKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "wrong key"})
			return
		}
		token, exp, err := auth.Issue("admin", "admin", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": token, "expires_at": exp.Unix()})
	})

	admin := r.Group("/v1/admin", auth.AdminAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	admin.POST("/sessions", func(c *gin.Context) {
		var req struct {
			Label string `json:"label" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := reg.Create(c.Request.Context(), req.Label)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		metrics.SessionsCreated.Inc()

		// Log every rotation so the displayed code can be recovered from
		// the journal if the admin page is closed.
		secret := sess.Code
		sched.Arm(secret, func() {
			log.Printf("session %s rotated, code %s-%s", secret, secret, eng.DisplayCode(secret, time.Now()))
		})

		c.JSON(http.StatusCreated, sessionView(cfg, eng, sess))
	})

	admin.GET("/sessions/current", func(c *gin.Context) {
		today := time.Now().Format(session.DateLayout)
		sess, err := reg.Current(c.Request.Context(), today)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if sess == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
			return
		}
		present, err := led.Present(c.Request.Context(), today, sess.Code)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		view := sessionView(cfg, eng, *sess)
		view["present_count"] = len(present)
		c.JSON(http.StatusOK, view)
	})

	admin.POST("/sessions/:code/end", func(c *gin.Context) {
		code := c.Param("code")
		if err := reg.End(c.Request.Context(), code); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		sched.Cancel(code)
		c.JSON(http.StatusOK, gin.H{"status": "ended"})
	})

	admin.GET("/presence", func(c *gin.Context) {
		today := time.Now().Format(session.DateLayout)
		code := c.Query("code")
		if code == "" {
			sess, err := reg.Current(c.Request.Context(), today)
			if err != nil || sess == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
				return
			}
			code = sess.Code
		}
		records, err := led.Records(c.Request.Context(), today, code)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		present := 0
		for _, rec := range records {
			if rec.Present() {
				present++
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"session":       code,
			"date":          today,
			"present_count": present,
			"records":       records,
		})
	})

	admin.POST("/checkout", func(c *gin.Context) {
		var req struct {
			StudentID   string `json:"student_id" binding:"required"`
			SessionCode string `json:"session_code"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var sess *session.Session
		var err error
		if req.SessionCode != "" {
			sess, err = reg.Find(c.Request.Context(), req.SessionCode)
		} else {
			sess, err = reg.Current(c.Request.Context(), time.Now().Format(session.DateLayout))
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if sess == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		res, err := svc.ManualCheckOut(c.Request.Context(), sess, req.StudentID)
		if err != nil {
			writeAttemptError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "checked_out", "record": res.Record})
	})

	r.POST("/v1/checkins", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			Code      string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := svc.CheckIn(c.Request.Context(), req.StudentID, req.Code)
		if errors.Is(err, ledger.ErrAlreadyCheckedIn) {
			c.JSON(http.StatusOK, gin.H{"status": "already_checked_in", "record": res.Record})
			return
		}
		if err != nil {
			writeAttemptError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"status":  "checked_in",
			"session": res.Session.Label,
			"record":  res.Record,
		})
	})

	r.POST("/v1/checkouts", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			Code      string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := svc.CheckOut(c.Request.Context(), req.StudentID, req.Code)
		if err != nil {
			writeAttemptError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "checked_out", "record": res.Record})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	cancelBackground()
	sched.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}
	log.Println("Server exited")
	return nil
}

// sessionView renders a session plus its live rotating-code material.
func sessionView(cfg config.App, eng *rotation.Engine, sess session.Session) gin.H {
	now := time.Now()
	code := eng.DisplayCode(sess.Code, now)
	var qrURL string
	var err error
	if cfg.EmbedSyncToken && cfg.GitHubToken != "" {
		qrURL, err = qrpayload.BuildWithCredential(cfg.CheckinBaseURL, sess.Code, code, cfg.GitHubToken)
	} else {
		qrURL, err = qrpayload.Build(cfg.CheckinBaseURL, sess.Code, code)
	}
	if err != nil {
		log.Printf("qr payload build failed: %v", err)
	}
	return gin.H{
		"session":       sess,
		"rotating_code": code,
		"display_code":  sess.Code + "-" + code,
		"qr_payload":    qrURL,
		"next_rotation": eng.NextRotation(now),
	}
}

func writeAttemptError(c *gin.Context, err error) {
	reason := attendance.Reason(err)
	status := http.StatusBadRequest
	switch reason {
	case "not_checked_in", "already_checked_out", "dwell_time_not_met":
		status = http.StatusConflict
	case "internal":
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error(), "reason": reason})
}

// presenceLoop refreshes the live present count on a short cadence,
// independent of code rotation.
func presenceLoop(ctx context.Context, cfg config.App, reg *session.Registry, led *ledger.Ledger) {
	ticker := time.NewTicker(cfg.PresenceRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			today := time.Now().Format(session.DateLayout)
			sess, err := reg.Current(ctx, today)
			if err != nil || sess == nil {
				continue
			}
			present, err := led.Present(ctx, today, sess.Code)
			if err != nil {
				log.Printf("presence refresh failed: %v", err)
				continue
			}
			log.Printf("session %s: %d present", sess.Code, len(present))
		}
	}
}

// purgeLoop sweeps hard-expired sessions out of the registry and drops
// ledger date buckets past the retention window.
func purgeLoop(ctx context.Context, cfg config.App, reg *session.Registry, led *ledger.Ledger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := reg.PurgeExpired(ctx); err != nil {
				log.Printf("session purge failed: %v", err)
			} else if n > 0 {
				log.Printf("purged %d expired sessions", n)
			}
			cutoff := time.Now().AddDate(0, 0, -cfg.RetentionDays).Format(session.DateLayout)
			if err := led.PurgeDate(ctx, cutoff); err != nil {
				log.Printf("ledger purge for %s failed: %v", cutoff, err)
			}
		}
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
