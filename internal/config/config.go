// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	LLM      LLMConfig      `mapstructure:"llm"`
	AI       AIConfig       `mapstructure:"ai"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储会话令牌校验相关的配置。令牌由 CMS 的会话服务签发。
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时不投递用量事件。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// LLMConfig 存储大语言模型服务商的配置。
type LLMConfig struct {
	TimeoutSeconds int             `mapstructure:"timeout_seconds"`
	Anthropic      AnthropicConfig `mapstructure:"anthropic"`
	OpenAI         OpenAIConfig    `mapstructure:"openai"`
}

// AnthropicConfig 是支持视觉输入的文本模型服务商配置。
type AnthropicConfig struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	DefaultModel string `mapstructure:"default_model"`
	MaxTokens    int    `mapstructure:"max_tokens"`
}

// OpenAIConfig 是支持语音转写的服务商配置。
type OpenAIConfig struct {
	APIKey             string `mapstructure:"api_key"`
	BaseURL            string `mapstructure:"base_url"`
	ChatModel          string `mapstructure:"chat_model"`
	TranscriptionModel string `mapstructure:"transcription_model"`
}

// AIConfig 配置创作助手的行为参数。
type AIConfig struct {
	ReadyMarker          string         `mapstructure:"ready_marker"`
	DefaultContextWindow int            `mapstructure:"default_context_window"`
	ContextWindows       map[string]int `mapstructure:"context_windows"`
	MaxImageBytes        int64          `mapstructure:"max_image_bytes"`
	CompactKeepLast      int            `mapstructure:"compact_keep_last"`
	PublishedPagesLimit  int            `mapstructure:"published_pages_limit"`
	AdminBaseURL         string         `mapstructure:"admin_base_url"`
	MediaBaseURL         string         `mapstructure:"media_base_url"`
}

// Init 初始化配置加载：先加载 .env（若存在），再读取 YAML 文件，环境变量可覆盖同名键。
func Init(configPath string) {
	_ = godotenv.Load()

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("kafka.topic", "ai-usage-events")
	viper.SetDefault("kafka.group_id", "cms-assistant-usage")
	viper.SetDefault("llm.timeout_seconds", 120)
	viper.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")
	viper.SetDefault("llm.anthropic.default_model", "claude-sonnet-4-5")
	viper.SetDefault("llm.anthropic.max_tokens", 8192)
	viper.SetDefault("llm.openai.transcription_model", "whisper-1")
	viper.SetDefault("ai.ready_marker", "[[READY_TO_GENERATE]]")
	viper.SetDefault("ai.default_context_window", 100000)
	viper.SetDefault("ai.max_image_bytes", 5*1024*1024)
	viper.SetDefault("ai.compact_keep_last", 4)
	viper.SetDefault("ai.published_pages_limit", 50)
	viper.SetDefault("ai.admin_base_url", "/admin")
	viper.SetDefault("ai.media_base_url", "/api/v1/ai/media")
}
