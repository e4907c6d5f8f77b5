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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/support-portal-api/internal/config"
	"github.com/yourusername/support-portal-api/internal/handler"
	"github.com/yourusername/support-portal-api/internal/middleware"
	pgRepo "github.com/yourusername/support-portal-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/support-portal-api/internal/repository/redis"
	"github.com/yourusername/support-portal-api/internal/service"
	"github.com/yourusername/support-portal-api/pkg/auth"
	"github.com/yourusername/support-portal-api/pkg/database"
)

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(1)
	}

	// Применяем миграции
	if err := database.MigrateDB(db); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к Redis
	redisClient, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	log.Println("Successfully connected to Redis")

	// Инициализируем репозитории
	userRepo := pgRepo.NewUserRepo(db)
	otpRepo := pgRepo.NewOtpRepo(db)
	deviceRepo := pgRepo.NewDeviceRepo(db)

	sessionRepo, err := pgRepo.NewSessionRepo(db)
	if err != nil {
		log.Printf("Failed to initialize SessionRepo: %v", err)
		os.Exit(1)
	}

	cacheRepo, err := redisRepo.NewCacheRepo(redisClient)
	if err != nil {
		log.Printf("Failed to initialize CacheRepo: %v", err)
		os.Exit(1)
	}
	counterRepo, err := redisRepo.NewCounterRepo(redisClient)
	if err != nil {
		log.Printf("Failed to initialize CounterRepo: %v", err)
		os.Exit(1)
	}

	// Сервис доставки почты
	var emailService service.EmailService
	switch cfg.Email.Provider {
	case "resend":
		emailService, err = service.NewResendEmailService(cfg.Email.APIKey, cfg.Email.From)
		if err != nil {
			log.Printf("Failed to initialize ResendEmailService: %v", err)
			os.Exit(1)
		}
	default:
		log.Println("Email provider is 'noop': otp codes are logged, not delivered")
		emailService = &service.NoopEmailService{}
	}

	// JWT для access-токенов
	jwtService, err := auth.NewJWTService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpirationHrs)*time.Hour)
	if err != nil {
		log.Printf("Failed to initialize JWTService: %v", err)
		os.Exit(1)
	}

	// Доменные сервисы
	otpService, err := service.NewOtpService(
		otpRepo,
		emailService,
		cacheRepo,
		cfg.Otp.OtpTTL(),
		cfg.Otp.ResendSuppression(),
		cfg.Otp.Secret,
	)
	if err != nil {
		log.Printf("Failed to initialize OtpService: %v", err)
		os.Exit(1)
	}

	rateLimiter, err := service.NewRateLimitPolicy(counterRepo, cfg.RateLimit)
	if err != nil {
		log.Printf("Failed to initialize RateLimitPolicy: %v", err)
		os.Exit(1)
	}

	deviceTrust, err := service.NewDeviceTrustService(deviceRepo, cfg.DeviceTrust.TrustWindow(), cfg.DeviceTrust.SubnetPrefixBits)
	if err != nil {
		log.Printf("Failed to initialize DeviceTrustService: %v", err)
		os.Exit(1)
	}

	resetSessions, err := service.NewResetSessionStore(cacheRepo, time.Duration(cfg.Reset.SessionTTLMinutes)*time.Minute)
	if err != nil {
		log.Printf("Failed to initialize ResetSessionStore: %v", err)
		os.Exit(1)
	}

	resetService, err := service.NewPasswordResetService(userRepo, sessionRepo, otpService, rateLimiter, resetSessions)
	if err != nil {
		log.Printf("Failed to initialize PasswordResetService: %v", err)
		os.Exit(1)
	}

	authService, err := service.NewAuthService(userRepo, sessionRepo, deviceTrust, otpService, rateLimiter, jwtService)
	if err != nil {
		log.Printf("Failed to initialize AuthService: %v", err)
		os.Exit(1)
	}

	// Обработчики
	passwordHandler := handler.NewPasswordHandler(resetService)
	authHandler := handler.NewAuthHandler(authService)
	deviceHandler := handler.NewDeviceHandler(deviceTrust)
	authMiddleware := middleware.NewAuthMiddleware(jwtService, sessionRepo)

	// Роутер
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Device-Fingerprint"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	api := router.Group("/api")
	{
		password := api.Group("/password")
		{
			password.POST("/request", passwordHandler.Request)
			password.GET("/verify", passwordHandler.VerifyPage)
			password.GET("/status", passwordHandler.Status)
			password.POST("/verify", passwordHandler.Verify)
			password.POST("/reset", passwordHandler.Reset)
			password.POST("/resend", passwordHandler.Resend)
		}

		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/login/verify", authHandler.LoginVerify)
		}

		devices := api.Group("/devices")
		devices.Use(authMiddleware.RequireAuth())
		{
			devices.GET("", deviceHandler.List)
			devices.GET("/stats", deviceHandler.Stats)
			devices.POST("/:id/revoke", deviceHandler.Revoke)
		}
	}

	// Фоновая очистка: отзыв устройств с истекшим доверием и удаление
	// мертвых сессий. Пропуск цикла безопасен — чтение и так трактует
	// истекшее доверие как недоверенное.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := deviceTrust.CleanupExpired(); err != nil {
					log.Printf("Device cleanup failed: %v", err)
				}
				if _, err := authService.CleanupSessions(); err != nil {
					log.Printf("Session cleanup failed: %v", err)
				}
			}
		}
	}()

	// Настраиваем HTTP сервер с тайм-аутами для защиты от slow client attacks
	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	readTimeout := cfg.Server.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10
	}
	writeTimeout := cfg.Server.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10
	}
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  time.Duration(readTimeout) * time.Second,
		WriteTimeout: time.Duration(writeTimeout) * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Starting server on port %s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited properly")
}
