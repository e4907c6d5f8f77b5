package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config хранит все настройки приложения
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Otp         OtpConfig
	RateLimit   RateLimitConfig
	DeviceTrust DeviceTrustConfig
	Email       EmailConfig
	Reset       ResetConfig
}

// ServerConfig содержит настройки HTTP сервера
type ServerConfig struct {
	Port         string
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig содержит настройки подключения к PostgreSQL
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig содержит унифицированные настройки подключения к Redis
// Поддерживает режимы: single, sentinel, cluster
type RedisConfig struct {
	// Mode: Режим работы Redis ("single", "sentinel", "cluster"). По умолчанию "single".
	Mode string `mapstructure:"mode"`

	// Addrs: Список адресов Redis (хост:порт). Используется для всех режимов.
	Addrs []string `mapstructure:"addrs"`

	// Addr: Альтернативный адрес для режима 'single'.
	Addr string `mapstructure:"addr"`

	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// MasterName: Имя мастер-сервера Redis (только для режима "sentinel")
	MasterName string `mapstructure:"master_name"`

	MaxRetries      int `mapstructure:"max_retries"`
	MinRetryBackoff int `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff int `mapstructure:"max_retry_backoff"`
}

// JWTConfig содержит настройки JWT для access-токенов
type JWTConfig struct {
	Secret        string `mapstructure:"secret"`
	ExpirationHrs int    `mapstructure:"expirationHrs"`
}

// OtpConfig содержит настройки одноразовых кодов.
// Максимальное число попыток намеренно не настраивается — это константа.
type OtpConfig struct {
	// Secret: Ключ HMAC-SHA256 для хеширования кодов. Обязателен.
	Secret string `mapstructure:"secret"`

	// TTLMinutes: Время жизни кода в минутах. По умолчанию 5.
	TTLMinutes int `mapstructure:"ttl_minutes"`

	// ResendSuppressionSec: Окно подавления повторной отправки на email. По умолчанию 30.
	ResendSuppressionSec int `mapstructure:"resend_suppression_sec"`
}

// RateLimitWindow — один именованный лимит: количество за окно
type RateLimitWindow struct {
	Limit     int `mapstructure:"limit"`
	WindowSec int `mapstructure:"window_sec"`
}

// RateLimitConfig содержит окна rate limiting для потока сброса пароля
type RateLimitConfig struct {
	ResetRequest RateLimitWindow `mapstructure:"reset_request"`
	VerifyIP     RateLimitWindow `mapstructure:"verify_ip"`
	VerifyUser   RateLimitWindow `mapstructure:"verify_user"`
	Resend       RateLimitWindow `mapstructure:"resend"`
}

// DeviceTrustConfig содержит настройки доверенных устройств
type DeviceTrustConfig struct {
	// TrustDays: Скользящее окно доверия в днях. По умолчанию 90.
	TrustDays int `mapstructure:"trust_days"`

	// SubnetPrefixBits: Длина префикса для сравнения подсетей IPv4. По умолчанию 24.
	SubnetPrefixBits int `mapstructure:"subnet_prefix_bits"`
}

// EmailConfig содержит настройки доставки почты
type EmailConfig struct {
	// Provider: "resend" или "noop" (для разработки)
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	From     string `mapstructure:"from"`
}

// ResetConfig содержит настройки сессии сброса пароля
type ResetConfig struct {
	// SessionTTLMinutes: Время жизни состояния сессии сброса в Redis. По умолчанию 15.
	SessionTTLMinutes int `mapstructure:"session_ttl_minutes"`
}

// PostgresConnectionString формирует строку подключения к PostgreSQL
func (d *DatabaseConfig) PostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// OtpTTL возвращает время жизни кода как Duration
func (o *OtpConfig) OtpTTL() time.Duration {
	minutes := o.TTLMinutes
	if minutes <= 0 {
		minutes = 5
	}
	return time.Duration(minutes) * time.Minute
}

// ResendSuppression возвращает окно подавления повторной отправки
func (o *OtpConfig) ResendSuppression() time.Duration {
	sec := o.ResendSuppressionSec
	if sec <= 0 {
		sec = 30
	}
	return time.Duration(sec) * time.Second
}

// TrustWindow возвращает окно доверия как Duration
func (d *DeviceTrustConfig) TrustWindow() time.Duration {
	days := d.TrustDays
	if days <= 0 {
		days = 90
	}
	return time.Duration(days) * 24 * time.Hour
}

// Load загружает конфигурацию из файла
func Load(configPath string) (*Config, error) {
	vip := viper.New() // Используем новый экземпляр Viper, чтобы избежать глобального состояния

	// Значения по умолчанию для окон rate limiting
	vip.SetDefault("ratelimit.reset_request.limit", 3)
	vip.SetDefault("ratelimit.reset_request.window_sec", 60)
	vip.SetDefault("ratelimit.verify_ip.limit", 15)
	vip.SetDefault("ratelimit.verify_ip.window_sec", 30)
	vip.SetDefault("ratelimit.verify_user.limit", 5)
	vip.SetDefault("ratelimit.verify_user.window_sec", 30)
	vip.SetDefault("ratelimit.resend.limit", 5)
	vip.SetDefault("ratelimit.resend.window_sec", 30)

	vip.SetDefault("otp.ttl_minutes", 5)
	vip.SetDefault("otp.resend_suppression_sec", 30)
	vip.SetDefault("devicetrust.trust_days", 90)
	vip.SetDefault("devicetrust.subnet_prefix_bits", 24)
	vip.SetDefault("reset.session_ttl_minutes", 15)
	vip.SetDefault("email.provider", "noop")

	// Привязываем переменные окружения ЯВНО
	vip.BindEnv("database.host", "DATABASE_HOST")
	vip.BindEnv("database.port", "DATABASE_PORT")
	vip.BindEnv("database.user", "DATABASE_USER")
	vip.BindEnv("database.password", "DATABASE_PASSWORD")
	vip.BindEnv("database.dbname", "DATABASE_DBNAME")
	vip.BindEnv("database.sslmode", "DATABASE_SSLMODE")

	vip.BindEnv("redis.mode", "REDIS_MODE")
	vip.BindEnv("redis.addrs", "REDIS_ADDRS")
	vip.BindEnv("redis.addr", "REDIS_ADDR")
	vip.BindEnv("redis.password", "REDIS_PASSWORD")
	vip.BindEnv("redis.db", "REDIS_DB")
	vip.BindEnv("redis.master_name", "REDIS_MASTER_NAME")

	vip.BindEnv("jwt.secret", "JWT_SECRET")
	vip.BindEnv("jwt.expirationHrs", "JWT_EXPIRATIONHRS")

	vip.BindEnv("otp.secret", "OTP_SECRET")
	vip.BindEnv("otp.ttl_minutes", "OTP_TTL_MINUTES")
	vip.BindEnv("otp.resend_suppression_sec", "OTP_RESEND_SUPPRESSION_SEC")

	vip.BindEnv("devicetrust.trust_days", "DEVICETRUST_TRUST_DAYS")
	vip.BindEnv("devicetrust.subnet_prefix_bits", "DEVICETRUST_SUBNET_PREFIX_BITS")

	vip.BindEnv("email.provider", "EMAIL_PROVIDER")
	vip.BindEnv("email.api_key", "EMAIL_API_KEY")
	vip.BindEnv("email.from", "EMAIL_FROM")

	vip.BindEnv("reset.session_ttl_minutes", "RESET_SESSION_TTL_MINUTES")

	vip.BindEnv("server.port", "SERVER_PORT")

	// Путь к файлу конфигурации (не страшно, если его нет — есть BindEnv)
	if configPath != "" {
		vip.SetConfigFile(configPath)
		if err := vip.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				log.Printf("Файл конфигурации '%s' не найден, используются переменные окружения/умолчания.", configPath)
			} else {
				log.Printf("Предупреждение: не удалось прочитать файл конфигурации '%s': %v", configPath, err)
			}
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if os.Getenv("GIN_MODE") != "release" {
		log.Printf("--- Загруженные значения конфигурации ---")
		log.Printf("Database Host: %s", cfg.Database.Host)
		log.Printf("Database Name: %s", cfg.Database.DBName)
		log.Printf("Redis Addr: %s", cfg.Redis.Addr)
		log.Printf("Redis Mode: %s", cfg.Redis.Mode)
		log.Printf("OTP Secret Set: %t", cfg.Otp.Secret != "")
		log.Printf("OTP TTL Minutes: %d", cfg.Otp.TTLMinutes)
		log.Printf("Trust Days: %d", cfg.DeviceTrust.TrustDays)
		log.Printf("Email Provider: %s", cfg.Email.Provider)
		log.Printf("Server Port: %s", cfg.Server.Port)
		log.Printf("-----------------------------------------")
	}

	// Проверка обязательных параметров.
	// Секрет HMAC обязателен всегда: без него коды нельзя ни выпускать, ни проверять.
	if cfg.Otp.Secret == "" {
		return nil, fmt.Errorf("OTP HMAC secret is required in config (check OTP_SECRET env var)")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT secret is required in config (check JWT_SECRET env var)")
	}
	if cfg.Database.Host == "" || cfg.Database.DBName == "" || cfg.Database.User == "" {
		return nil, fmt.Errorf("database configuration (host, dbname, user) is incomplete in config (check DATABASE_HOST, DATABASE_DBNAME, DATABASE_USER env vars)")
	}
	if cfg.Email.Provider == "resend" && cfg.Email.APIKey == "" {
		return nil, fmt.Errorf("email provider 'resend' requires api key (check EMAIL_API_KEY env var)")
	}

	return &cfg, nil
}
