package config

// Role names for the three upstream endpoints.
const (
	RoleMeta = "meta"
	RoleA    = "a"
	RoleB    = "b"
)

// EndpointConfig defines one upstream OpenAI-compatible endpoint.
// Prices are per 1K tokens; they are configuration, not code.
type EndpointConfig struct {
	// Display name used in logs, stats, and audit entries.
	Name string `yaml:"name"`

	// Base URL of the OpenAI-compatible API (without /chat/completions).
	BaseURL string `yaml:"base_url"`

	// Environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Model identifier sent with every request.
	Model string `yaml:"model"`

	// InputPrice and OutputPrice are the unit prices per 1K tokens.
	InputPrice  float64 `yaml:"input_price"`
	OutputPrice float64 `yaml:"output_price"`
}

// EndpointsConfig groups the three logical endpoints.
type EndpointsConfig struct {
	Meta EndpointConfig `yaml:"meta"`
	A    EndpointConfig `yaml:"a"`
	B    EndpointConfig `yaml:"b"`
}

// DefaultEndpoints returns the built-in endpoint set with the Jan-2025
// pricing table.
func DefaultEndpoints() EndpointsConfig {
	return EndpointsConfig{
		Meta: EndpointConfig{
			Name:        "DeepSeek",
			BaseURL:     "https://api.deepseek.com/v1",
			APIKeyEnv:   "DEEPSEEK_API_KEY",
			Model:       "deepseek-chat",
			InputPrice:  0.001,
			OutputPrice: 0.002,
		},
		A: EndpointConfig{
			Name:        "Kimi",
			BaseURL:     "https://api.moonshot.cn/v1",
			APIKeyEnv:   "MOONSHOT_API_KEY",
			Model:       "moonshot-v1-8k",
			InputPrice:  0.012,
			OutputPrice: 0.012,
		},
		B: EndpointConfig{
			Name:        "Qwen",
			BaseURL:     "https://dashscope.aliyuncs.com/compatible-mode/v1",
			APIKeyEnv:   "QWEN_API_KEY",
			Model:       "qwen-plus",
			InputPrice:  0.0008,
			OutputPrice: 0.002,
		},
	}
}
