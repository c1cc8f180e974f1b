package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Support  SupportConfig
	Telegram TelegramConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	Version            string
	LogFilePath        string
	WsLogFilePath      string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	JwtSecret          string
	InstanceID         string
}

type DatabaseConfig struct {
	Driver     string // "postgres" or "memory"
	Connection string
}

type SupportConfig struct {
	Capacity          int
	HistoryLimit      int
	MaxMessageLength  int
	MessagesPerMinute int
	ActorIdleTimeout  time.Duration
	SendBufferSize    int
	EventBus          string // "gochannel" or "nats"
}

type TelegramConfig struct {
	BotToken      string
	GroupChatID   int64
	WebhookSecret string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	hostname, _ := os.Hostname()

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			Version:            getEnv("APP_VERSION", "dev"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			WsLogFilePath:      getEnv("WS_LOG_FILE_PATH", "logs/support-ws.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
			JwtSecret:          getEnv("JWT_SECRET", ""),
			InstanceID:         getEnv("INSTANCE_ID", hostname),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("STORE_DRIVER", "postgres"),
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Support: SupportConfig{
			Capacity:          getEnvAsInt("SUPPORT_CAPACITY", 1),
			HistoryLimit:      getEnvAsInt("SUPPORT_HISTORY_LIMIT", 50),
			MaxMessageLength:  getEnvAsInt("SUPPORT_MAX_MESSAGE_LENGTH", 2000),
			MessagesPerMinute: getEnvAsInt("SUPPORT_MESSAGES_PER_MINUTE", 30),
			ActorIdleTimeout:  getEnvAsDuration("SUPPORT_ACTOR_IDLE_TIMEOUT", 5*time.Minute),
			SendBufferSize:    getEnvAsInt("SUPPORT_SEND_BUFFER", 256),
			EventBus:          getEnv("SUPPORT_EVENT_BUS", "gochannel"),
		},
		Telegram: TelegramConfig{
			BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
			GroupChatID:   getEnvAsInt64("TELEGRAM_GROUP_CHAT_ID", 0),
			WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		},
	}
}

func (a AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseInt(strValue, 10, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
