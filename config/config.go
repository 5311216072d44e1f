package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	OSS        OSSConfig        `mapstructure:"oss"`
	S3         S3Config         `mapstructure:"s3"`
	Queue      QueueConfig      `mapstructure:"queue"`
	KeepAlive  KeepAliveConfig  `mapstructure:"keepalive"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql | sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Enabled Redis 是否配置
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type ChatConfig struct {
	Modes              []string `mapstructure:"modes"`
	DefaultMode        string   `mapstructure:"default_mode"`
	MaxTextLength      int      `mapstructure:"max_text_length"`
	HistoryLimit       int      `mapstructure:"history_limit"`         // 生成上下文时读取的历史条数
	DefaultVoiceSecond int      `mapstructure:"default_voice_seconds"` // 未提供时长时的默认语音秒数
	MaxVoiceSeconds    int      `mapstructure:"max_voice_seconds"`
	AssistantName      string   `mapstructure:"assistant_name"`
	DebugLogs          bool     `mapstructure:"debug_logs"`
}

type QuotaConfig struct {
	GuestModeLimit       int `mapstructure:"guest_mode_limit"`
	FreeModeLimit        int `mapstructure:"free_mode_limit"`
	FreeDailyVoiceSecond int `mapstructure:"free_daily_voice_seconds"`
	ChatPerMinute        int `mapstructure:"chat_per_minute"`
	GuestChatPerMinute   int `mapstructure:"guest_chat_per_minute"`
}

type ProvidersConfig struct {
	Order          []string       `mapstructure:"order"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	Groq           GroqConfig     `mapstructure:"groq"`
	External       ExternalConfig `mapstructure:"external"`
	Gemini         GeminiConfig   `mapstructure:"gemini"`
	FreeBudget     ProviderBudget `mapstructure:"free_budget"`
	PremiumBudget  ProviderBudget `mapstructure:"premium_budget"`
	ExternalBudget ProviderBudget `mapstructure:"external_budget"`
	ImageKeywords  []string       `mapstructure:"image_keywords"`
}

type GroqConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type ExternalConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	Endpoint     string `mapstructure:"endpoint"`
	APIKey       string `mapstructure:"api_key"`
	ClientSecret string `mapstructure:"client_secret"`
}

type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	APIVersion     string `mapstructure:"api_version"`
	ChatModel      string `mapstructure:"chat_model"`
	ImageModel     string `mapstructure:"image_model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// ProviderBudget 单个 provider 的历史窗口和 token 预算
type ProviderBudget struct {
	HistoryWindow  int `mapstructure:"history_window"`
	MaxTokens      int `mapstructure:"max_tokens"`
	VoiceMaxTokens int `mapstructure:"voice_max_tokens"`
}

type MemoryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	TopK     int    `mapstructure:"top_k"`
	Embedder string `mapstructure:"embedder"` // gemini | openai
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Model    string `mapstructure:"model"`
}

type EncryptionConfig struct {
	KeySeed string `mapstructure:"key_seed"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
}

type QueueConfig struct {
	MemoryQueue string `mapstructure:"memory_queue"`
	MaxWorkers  int    `mapstructure:"max_workers"`
}

type KeepAliveConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
	HistoryLimit    int  `mapstructure:"history_limit"`
}

var defaultModes = []string{"Lovely", "Horror", "Shayari", "Chill", "Possessive", "Naughty", "Mystic"}

// ApplyDefaults 填充未配置项的默认值
func (c *Config) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}

	if len(c.Chat.Modes) == 0 {
		c.Chat.Modes = append([]string(nil), defaultModes...)
	}
	if c.Chat.DefaultMode == "" {
		c.Chat.DefaultMode = c.Chat.Modes[0]
	}
	if c.Chat.MaxTextLength <= 0 {
		c.Chat.MaxTextLength = 4000
	}
	if c.Chat.HistoryLimit <= 0 {
		c.Chat.HistoryLimit = 12
	}
	if c.Chat.DefaultVoiceSecond <= 0 {
		c.Chat.DefaultVoiceSecond = 60
	}
	if c.Chat.MaxVoiceSeconds <= 0 {
		c.Chat.MaxVoiceSeconds = 600
	}
	if c.Chat.AssistantName == "" {
		c.Chat.AssistantName = "Kanchana"
	}

	if c.Quota.GuestModeLimit <= 0 {
		c.Quota.GuestModeLimit = 7
	}
	if c.Quota.FreeModeLimit <= 0 {
		c.Quota.FreeModeLimit = 10
	}
	if c.Quota.FreeDailyVoiceSecond <= 0 {
		c.Quota.FreeDailyVoiceSecond = 300
	}
	if c.Quota.ChatPerMinute <= 0 {
		c.Quota.ChatPerMinute = 45
	}
	if c.Quota.GuestChatPerMinute <= 0 {
		c.Quota.GuestChatPerMinute = 15
	}

	p := &c.Providers
	if len(p.Order) == 0 {
		p.Order = []string{"groq", "kanchana_external"}
	}
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = 30
	}
	if p.Groq.BaseURL == "" {
		p.Groq.BaseURL = "https://api.groq.com/openai/v1"
	}
	if p.Groq.Model == "" {
		p.Groq.Model = "llama-3.1-8b-instant"
	}
	if p.External.BaseURL == "" {
		p.External.BaseURL = "https://kanchana-ai-model.onrender.com"
	}
	if p.External.Endpoint == "" {
		p.External.Endpoint = "/v1/chat"
	}
	if p.Gemini.BaseURL == "" {
		p.Gemini.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if p.Gemini.APIVersion == "" {
		p.Gemini.APIVersion = "v1beta"
	}
	if p.Gemini.ChatModel == "" {
		p.Gemini.ChatModel = "gemini-2.0-flash"
	}
	if p.Gemini.ImageModel == "" {
		p.Gemini.ImageModel = "gemini-2.5-flash-image"
	}
	if p.Gemini.EmbeddingModel == "" {
		p.Gemini.EmbeddingModel = "text-embedding-004"
	}
	fillBudget(&p.FreeBudget, ProviderBudget{HistoryWindow: 6, MaxTokens: 260, VoiceMaxTokens: 96})
	fillBudget(&p.PremiumBudget, ProviderBudget{HistoryWindow: 10, MaxTokens: 420, VoiceMaxTokens: 140})
	fillBudget(&p.ExternalBudget, ProviderBudget{HistoryWindow: 10, MaxTokens: 240, VoiceMaxTokens: 96})

	if c.Memory.TopK <= 0 {
		c.Memory.TopK = 4
	}
	if c.Memory.Embedder == "" {
		c.Memory.Embedder = "gemini"
	}

	if c.Queue.MemoryQueue == "" {
		c.Queue.MemoryQueue = "memory_index_queue"
	}
	if c.Queue.MaxWorkers <= 0 {
		c.Queue.MaxWorkers = 2
	}

	if c.KeepAlive.IntervalSeconds < 10 {
		c.KeepAlive.IntervalSeconds = 30
	}
	switch {
	case c.KeepAlive.HistoryLimit == 0:
		c.KeepAlive.HistoryLimit = 6
	case c.KeepAlive.HistoryLimit < 2:
		c.KeepAlive.HistoryLimit = 2
	case c.KeepAlive.HistoryLimit > 12:
		c.KeepAlive.HistoryLimit = 12
	}

	if c.JWT.ExpireHours <= 0 {
		c.JWT.ExpireHours = 24 * 7
	}
}

func fillBudget(b *ProviderBudget, def ProviderBudget) {
	if b.HistoryWindow <= 0 {
		b.HistoryWindow = def.HistoryWindow
	}
	if b.MaxTokens <= 0 {
		b.MaxTokens = def.MaxTokens
	}
	if b.VoiceMaxTokens <= 0 {
		b.VoiceMaxTokens = def.VoiceMaxTokens
	}
}

// IsValidMode 判断模式是否在允许列表中
func (c ChatConfig) IsValidMode(mode string) bool {
	for _, m := range c.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}
