// Package resolve maps a configured provider name onto a constructed
// castellan.Provider.
package resolve

import (
	"fmt"

	"github.com/castellan-ai/castellan"
	"github.com/castellan-ai/castellan/provider/gemini"
	"github.com/castellan-ai/castellan/provider/openaicompat"
)

// Provider builds the provider named in config. Recognized names:
// "gemini", "openai", "openrouter". Unknown names are an error so a
// typo in config fails fast instead of silently falling back.
func Provider(name, apiKey, model string) (castellan.Provider, error) {
	switch name {
	case "gemini":
		return gemini.New(apiKey, model), nil
	case "openai":
		return openaicompat.New("https://api.openai.com/v1", apiKey, model), nil
	case "openrouter":
		return openaicompat.New("https://openrouter.ai/api/v1", apiKey, model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
