package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	Server Server
	Store  Store
	Redis  Redis
	Kafka  Kafka
	Remote Remote
	Observ Observability
	Engine Engine
}

type Server struct {
	Port string
	Env  string
}

type Store struct {
	SQLitePath string
}

type Redis struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type Kafka struct {
	Enabled       bool
	Brokers       []string
	TopicOrder    string
	ConsumerGroup string
}

type Remote struct {
	BaseURL string
	Timeout time.Duration
}

type Observability struct {
	JaegerEndpoint string
}

type Engine struct {
	ActorID      string
	CartTTL      time.Duration
	RetryBudget  int
	SyncInterval time.Duration
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	remoteTimeout, _ := strconv.Atoi(getEnv("REMOTE_TIMEOUT_SECONDS", "10"))
	cartTTL, _ := strconv.Atoi(getEnv("CART_TTL_MINUTES", "30"))
	retryBudget, _ := strconv.Atoi(getEnv("SEQUENCE_RETRY_BUDGET", "8"))
	syncInterval, _ := strconv.Atoi(getEnv("SYNC_INTERVAL_SECONDS", "30"))

	cfg := &Config{
		Server: Server{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Store: Store{
			SQLitePath: getEnv("STORE_PATH", "pos.db"),
		},
		Redis: Redis{
			Enabled:  getEnv("REDIS_ADDR", "") != "",
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: Kafka{
			Enabled:       getEnv("KAFKA_BROKERS", "") != "",
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicOrder:    getEnv("KAFKA_TOPIC_ORDER_EVENTS", "order-events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "pos-engine-group"),
		},
		Remote: Remote{
			BaseURL: getEnv("REMOTE_BASE_URL", "http://localhost:9000"),
			Timeout: time.Duration(remoteTimeout) * time.Second,
		},
		Observ: Observability{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		},
		Engine: Engine{
			// Every process is its own actor; tabs sharing a store must
			// not share an actor id.
			ActorID:      getEnv("ACTOR_ID", uuid.New().String()),
			CartTTL:      time.Duration(cartTTL) * time.Minute,
			RetryBudget:  retryBudget,
			SyncInterval: time.Duration(syncInterval) * time.Second,
		},
	}

	log.Printf("Config loaded: env=%s, port=%s, actor=%s", cfg.Server.Env, cfg.Server.Port, cfg.Engine.ActorID)
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
