package config

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/personachat/backend/internal/llm/compat"
)

const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Persona PersonaConfig
	Auth    AuthConfig
	Session SessionConfig
}

// Load 从环境变量与密钥文件加载配置。
func Load() (*Config, error) {
	secrets, err := LoadSecrets(getEnvOrDefault("SECRETS_FILE", ".streamlit/secrets.toml"))
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig(secrets)
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		Persona: loadPersonaConfig(),
		Auth:    auth,
		Session: session,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider       string
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
	RequestTimeout time.Duration
}

// Enabled 表示是否提供了必需的密钥与模型名。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && c.hasCredentials()
}

func (c AIConfig) hasCredentials() bool {
	if c.Provider == ProviderArk {
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	}
	return c.APIKey != ""
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.hasCredentials() {
		return nil, fmt.Errorf("API key not found for provider %q: set %s in the secrets file or environment", c.Provider, apiKeyName(c.Provider))
	}
	if c.Model == "" {
		return nil, fmt.Errorf("model name not set for provider %q: set MODEL_NAME", c.Provider)
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	switch c.Provider {
	case ProviderArk:
		var timeout *time.Duration
		if c.RequestTimeout > 0 {
			timeout = &c.RequestTimeout
		}
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.BaseURL,
			Region:      c.Region,
			APIKey:      c.APIKey,
			AccessKey:   c.AccessKey,
			SecretKey:   c.SecretKey,
			Model:       c.Model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			TopP:        topP,
			Timeout:     timeout,
		})
	case ProviderGroq, ProviderOpenAI:
		return compat.NewChatModel(compat.Config{
			APIKey:      c.APIKey,
			BaseURL:     c.BaseURL,
			Model:       c.Model,
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   maxTokens,
			HTTPClient:  &http.Client{Timeout: c.RequestTimeout},
		})
	default:
		return nil, fmt.Errorf("unsupported MODEL_PROVIDER %q", c.Provider)
	}
}

var providerDefaults = map[string]struct {
	apiKey  string
	model   string
	baseURL string
}{
	ProviderGroq:   {apiKey: "GROQ_API_KEY", model: "llama3-8b-8192", baseURL: "https://api.groq.com/openai/v1"},
	ProviderOpenAI: {apiKey: "OPENAI_API_KEY", model: "gpt-4o-mini", baseURL: "https://api.openai.com/v1"},
	ProviderArk:    {apiKey: "ARK_API_KEY", model: "", baseURL: "https://ark.cn-beijing.volces.com/api/v3"},
}

func apiKeyName(provider string) string {
	if d, ok := providerDefaults[provider]; ok {
		return d.apiKey
	}
	return "API_KEY"
}

func loadAIConfig(secrets Secrets) (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("MODEL_PROVIDER", ProviderGroq))
	defaults, ok := providerDefaults[provider]
	if !ok {
		return AIConfig{}, fmt.Errorf("invalid MODEL_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("MODEL_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("MODEL_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("MODEL_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("MODEL_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("AI_REQUEST_TIMEOUT", 60*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider:       provider,
		APIKey:         secrets.Lookup(defaults.apiKey),
		AccessKey:      secrets.Lookup("ARK_ACCESS_KEY"),
		SecretKey:      secrets.Lookup("ARK_SECRET_KEY"),
		Model:          getEnvOrDefault("MODEL_NAME", defaults.model),
		BaseURL:        getEnvOrDefault("MODEL_BASE_URL", defaults.baseURL),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
		RequestTimeout: timeout,
	}, nil
}

// PersonaConfig 描述角色文件位置。
type PersonaConfig struct {
	File      string
	NotesFile string
}

func loadPersonaConfig() PersonaConfig {
	notes, set := os.LookupEnv("PERSONA_NOTES_FILE")
	if !set {
		notes = "globalPersonaNote.txt"
	}
	return PersonaConfig{
		File:      getEnvOrDefault("PERSONA_FILE", "personas.txt"),
		NotesFile: strings.TrimSpace(notes),
	}
}

// AuthConfig 描述访问令牌校验配置。VerifyURL 为空时不启用访问控制。
type AuthConfig struct {
	VerifyURL string
	LoginURL  string
	Timeout   time.Duration
	Retries   int
}

// Enabled 表示是否启用访问控制。
func (c AuthConfig) Enabled() bool {
	return c.VerifyURL != ""
}

func loadAuthConfig() (AuthConfig, error) {
	timeout, err := parseDurationEnv("AUTH_TIMEOUT", 10*time.Second)
	if err != nil {
		return AuthConfig{}, err
	}

	retries := 1
	if override, err := parseOptionalIntEnv("AUTH_RETRIES"); err != nil {
		return AuthConfig{}, err
	} else if override != nil {
		if *override < 0 {
			retries = 0
		} else {
			retries = *override
		}
	}

	cfg := AuthConfig{
		VerifyURL: strings.TrimSpace(os.Getenv("AUTH_VERIFY_URL")),
		LoginURL:  strings.TrimSpace(os.Getenv("AUTH_LOGIN_URL")),
		Timeout:   timeout,
		Retries:   retries,
	}
	if cfg.Enabled() && cfg.LoginURL == "" {
		return AuthConfig{}, fmt.Errorf("AUTH_LOGIN_URL is required when AUTH_VERIFY_URL is set")
	}
	return cfg, nil
}

// SessionConfig 描述浏览器会话配置。
type SessionConfig struct {
	CookieName   string
	TTL          time.Duration
	SecureCookie bool
}

func loadSessionConfig() (SessionConfig, error) {
	ttl, err := parseDurationEnv("SESSION_TTL", 2*time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}

	secure, err := parseBoolEnv("SESSION_SECURE_COOKIE", false)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		CookieName:   getEnvOrDefault("SESSION_COOKIE_NAME", "persona_session"),
		TTL:          ttl,
		SecureCookie: secure,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
