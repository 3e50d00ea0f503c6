// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
// 只有 cmd/server 会读取它，其余组件通过构造函数拿到各自的配置段。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
	Completion    CompletionConfig    `mapstructure:"completion"`
	Quota         QuotaConfig         `mapstructure:"quota"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port         string `mapstructure:"port"`
	Mode         string `mapstructure:"mode"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
	SeedDir      string `mapstructure:"seed_dir"`
	SeedProject  string `mapstructure:"seed_project"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	// AdminKey 用于签发项目 token，为空时关闭签发接口。
	AdminKey string `mapstructure:"admin_key"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL      string `mapstructure:"server_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxTextBytes   int64  `mapstructure:"max_text_bytes"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Dimensions        int     `mapstructure:"dimensions"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Model          string              `mapstructure:"model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// IngestionConfig 控制摄取批次的并发度、快照与视图刷新。
type IngestionConfig struct {
	Concurrency      int      `mapstructure:"concurrency"`
	SnapshotMaxBytes int      `mapstructure:"snapshot_max_bytes"`
	MaxEntryBytes    int64    `mapstructure:"max_entry_bytes"`
	ChunkSize        int      `mapstructure:"chunk_size"`
	ChunkOverlap     int      `mapstructure:"chunk_overlap"`
	RefreshViews     []string `mapstructure:"refresh_views"`
	Include          []string `mapstructure:"include"`
	Exclude          []string `mapstructure:"exclude"`
}

// CompletionConfig 控制上下文组装与流式转发。
type CompletionConfig struct {
	Separator             string  `mapstructure:"separator"`
	IDontKnowMessage      string  `mapstructure:"i_dont_know_message"`
	NewlineSuppressChunks int     `mapstructure:"newline_suppress_chunks"`
	ContextTokenBudget    int     `mapstructure:"context_token_budget"`
	MatchCount            int     `mapstructure:"match_count"`
	MatchThreshold        float64 `mapstructure:"match_threshold"`
	PromptTemplate        string  `mapstructure:"prompt_template"`
	CharsPerToken         int     `mapstructure:"chars_per_token"`
}

// QuotaConfig 项目级别的 token 配额，0 表示不限制。
type QuotaConfig struct {
	ContentTokens    int64 `mapstructure:"content_tokens"`
	CompletionTokens int64 `mapstructure:"completion_tokens"`
}

// RateLimitConfig 固定窗口限流配置。
type RateLimitConfig struct {
	Requests      int `mapstructure:"requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_body_bytes", 50*1024*1024)
	v.SetDefault("server.seed_dir", "initfile")
	v.SetDefault("kafka.group_id", "pai-context-go-consumer")
	v.SetDefault("elasticsearch.index_name", "file_sections")
	v.SetDefault("embedding.dimensions", 2048)
	v.SetDefault("embedding.requests_per_second", 5)
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("ingestion.concurrency", 5)
	v.SetDefault("ingestion.snapshot_max_bytes", 4*1024*1024)
	v.SetDefault("ingestion.max_entry_bytes", 10*1024*1024)
	v.SetDefault("ingestion.chunk_size", 1000)
	v.SetDefault("ingestion.chunk_overlap", 100)
	v.SetDefault("completion.separator", "___START_RESPONSE_STREAM___")
	v.SetDefault("completion.i_dont_know_message", "Sorry, I am not sure how to answer that.")
	v.SetDefault("completion.newline_suppress_chunks", 2)
	v.SetDefault("completion.context_token_budget", 1500)
	v.SetDefault("completion.match_count", 10)
	v.SetDefault("completion.match_threshold", 0.5)
	v.SetDefault("completion.chars_per_token", 4)
	v.SetDefault("ratelimit.requests", 60)
	v.SetDefault("ratelimit.window_seconds", 60)
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 敏感字段可以通过 PAI_ 前缀的环境变量覆盖，例如 PAI_LLM_API_KEY。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}

// Load 读取配置文件并返回解析后的结构体。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}
