package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"funnelboard-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"60"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,OPTIONS"`

	// Bitrix24 OAuth
	BitrixOAuthURL       string `env:"BITRIX_OAUTH_URL" env-default:"https://oauth.bitrix.info/oauth/token/"`
	BitrixClientID       string `env:"BITRIX_CLIENT_ID" env-default:""`
	BitrixClientSecret   string `env:"BITRIX_CLIENT_SECRET" env-default:""`
	BitrixRefreshToken   string `env:"BITRIX_REFRESH_TOKEN" env-default:""`
	BitrixClientEndpoint string `env:"BITRIX_CLIENT_ENDPOINT" env-default:""`

	// Bitrix24 request shaping
	BitrixPageSize           int           `env:"BITRIX_PAGE_SIZE" env-default:"50"`
	BitrixMaxLeadOffset      int           `env:"BITRIX_MAX_LEAD_OFFSET" env-default:"10000"`
	BitrixMaxDealOffset      int           `env:"BITRIX_MAX_DEAL_OFFSET" env-default:"5000"`
	BitrixContactBatchSize   int           `env:"BITRIX_CONTACT_BATCH_SIZE" env-default:"50"`
	BitrixContactConcurrency int           `env:"BITRIX_CONTACT_CONCURRENCY" env-default:"4"`
	BitrixRequestTimeout     time.Duration `env:"BITRIX_REQUEST_TIMEOUT" env-default:"25s"`

	// Sales funnel identity ("Договор" funnel, won stage = sale)
	SalesCategoryID string `env:"SALES_CATEGORY_ID" env-default:"31"`
	SalesWonStageID string `env:"SALES_WON_STAGE_ID" env-default:"C31:WON"`

	// Source dictionary cache
	SourceCacheTTL time.Duration `env:"SOURCE_CACHE_TTL" env-default:"10m"`

	// PostgreSQL (source dictionary)
	DatabaseHost                string        `env:"DB_HOST" env-default:""`
	DatabasePort                int           `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string        `env:"DB_NAME" env-default:"funnelboard"`
	DatabaseSSLMode             string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`

	// Kafka Producer (report/alert events; disabled when no brokers configured)
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:""`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"funnel-events"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Alerting thresholds
	LowConversionThreshold float64 `env:"LOW_CONVERSION_THRESHOLD" env-default:"5"`
	HighJunkThreshold      float64 `env:"HIGH_JUNK_THRESHOLD" env-default:"70"`
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}
