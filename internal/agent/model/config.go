package model

import "time"

// ================ Config ================
type ConversationConfig struct {
	TTL           string `envconfig:"CONVERSATION_TTL" default:"30m"`
	MaxIterations int    `envconfig:"CONVERSATION_MAX_ITERATIONS" default:"10"`
	ContextTokens int    `envconfig:"CONVERSATION_CONTEXT_TOKENS" default:"6000"`
	TurnTimeout   string `envconfig:"CONVERSATION_TURN_TIMEOUT" default:"60s"`
	DefaultUserID string `envconfig:"CONVERSATION_DEFAULT_USER_ID"`
}

// TTLDuration parses TTL, falling back to 30 minutes.
func (c ConversationConfig) TTLDuration() time.Duration {
	return parseDuration(c.TTL, 30*time.Minute)
}

// TurnTimeoutDuration parses TurnTimeout, falling back to one minute.
func (c ConversationConfig) TurnTimeoutDuration() time.Duration {
	return parseDuration(c.TurnTimeout, time.Minute)
}

type ChatModelConfig struct {
	APIKey  string `envconfig:"GEMINI_API_KEY"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	SalesModel       string  `envconfig:"SALES_MODEL" default:"gemini-2.5-flash"`
	SalesMaxTokens   int     `envconfig:"SALES_MAX_TOKENS" default:"2000"`
	SalesTemperature float32 `envconfig:"SALES_TEMPERATURE" default:"0.3"`

	SupportModel       string  `envconfig:"SUPPORT_MODEL" default:"gemini-2.5-flash"`
	SupportMaxTokens   int     `envconfig:"SUPPORT_MAX_TOKENS" default:"2000"`
	SupportTemperature float32 `envconfig:"SUPPORT_TEMPERATURE" default:"0.2"`
}

// Offline reports whether no completion provider is configured.
func (c ChatModelConfig) Offline() bool { return c.APIKey == "" }

type EmbeddingConfig struct {
	Provider   string `envconfig:"EMBEDDING_PROVIDER" default:"hash"`
	Model      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	Dimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"256"`
}

type SearchConfig struct {
	CatalogDir       string `envconfig:"CATALOG_DIR" default:"./dataset"`
	MaxResults       int    `envconfig:"SEARCH_MAX_RESULTS" default:"20"`
	SemanticDefaultK int    `envconfig:"SEARCH_SEMANTIC_DEFAULT_K" default:"5"`
}

type PromptConfig struct {
	StoreName string `envconfig:"PROMPT_STORE_NAME" default:"FreshCart"`
	StoreType string `envconfig:"PROMPT_STORE_TYPE" default:"online grocery store"`
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
