package global

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/viper"
)

// Configuration keys recognized from environment/.env files. All are
// optional; defaults are set in setDefaults.
const (
	KeyOllamaTimeout        = "ollama_timeout"
	KeyOllamaMaxArticles    = "ollama_max_articles"
	KeyOllamaTotalTimeout   = "ollama_total_timeout"
	KeyScraperRespectRobots = "scraper_respect_robots"
	KeyMaxConcurrentScrapes = "max_concurrent_scrapes"
	KeyScraperDelay         = "scraper_delay"
	KeySessionTTLHours      = "session_ttl_hours"
	KeyQueryWeights         = "query_weights"
	KeyMinRelevance         = "min_relevance"

	KeyLLMProvider    = "llm_provider"
	KeyLLMModel       = "llm_model"
	KeyLLMBaseURL     = "llm_base_url"
	KeyLLMAPIKey      = "llm_api_key"
	KeyHTTPHost       = "http_host"
	KeyHTTPPort       = "http_port"
	KeySourcesFile    = "sources_file"
	KeyOtelEndpoint   = "otel_collector_endpoint"
	KeyFetchTimeout   = "fetch_timeout"
	KeyFetchRetries   = "fetch_retries"
	KeyFetchUserAgent = "fetch_user_agent"
)

// QueryWeights holds the relevance component weights. They must sum
// to 1.0 within ±0.01.
type QueryWeights struct {
	Text      float64 `json:"text"`
	Location  float64 `json:"location"`
	Date      float64 `json:"date"`
	EventType float64 `json:"event_type"`
}

func (w QueryWeights) Validate() error {
	sum := w.Text + w.Location + w.Date + w.EventType
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("query weights must sum to 1.0 (±0.01), got %.3f", sum)
	}
	return nil
}

// SearchConfig holds the tunables of the search pipeline.
type SearchConfig struct {
	OllamaTimeout        time.Duration `json:"ollama_timeout"`
	OllamaMaxArticles    int           `json:"ollama_max_articles"`
	OllamaTotalTimeout   time.Duration `json:"ollama_total_timeout"`
	ScraperRespectRobots bool          `json:"scraper_respect_robots"`
	MaxConcurrentScrapes int           `json:"max_concurrent_scrapes"`
	ScraperDelay         float64       `json:"scraper_delay"`
	SessionTTL           time.Duration `json:"session_ttl"`
	Weights              QueryWeights  `json:"query_weights"`
	MinRelevance         float64       `json:"min_relevance"`
	FetchTimeout         time.Duration `json:"fetch_timeout"`
	FetchRetries         int           `json:"fetch_retries"`
	FetchUserAgent       string        `json:"fetch_user_agent"`
}

// LLMConfig selects and configures the generation provider.
type LLMConfig struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	BaseURL  string        `json:"base_url"`
	APIKey   string        `json:"api_key"`
	Timeout  time.Duration `json:"timeout"`
}

// ServerConfig configures the HTTP shell.
type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	SourcesFile string `json:"sources_file"`
	OtelTarget  string `json:"otel_collector_endpoint"`
}

func setDefaults() {
	viper.SetDefault(KeyOllamaTimeout, 120)
	viper.SetDefault(KeyOllamaMaxArticles, 5)
	viper.SetDefault(KeyOllamaTotalTimeout, 480)
	viper.SetDefault(KeyScraperRespectRobots, false)
	viper.SetDefault(KeyMaxConcurrentScrapes, 5)
	viper.SetDefault(KeyScraperDelay, 1.0)
	viper.SetDefault(KeySessionTTLHours, 24)
	viper.SetDefault(KeyQueryWeights, []float64{0.40, 0.25, 0.20, 0.15})
	viper.SetDefault(KeyMinRelevance, 0.30)

	viper.SetDefault(KeyLLMProvider, "ollama")
	viper.SetDefault(KeyLLMModel, "llama3.1:8b")
	viper.SetDefault(KeyLLMBaseURL, "http://localhost:11434")
	viper.SetDefault(KeyHTTPHost, "0.0.0.0")
	viper.SetDefault(KeyHTTPPort, 8000)
	viper.SetDefault(KeySourcesFile, "configs/sources.json")
	viper.SetDefault(KeyFetchTimeout, 30)
	viper.SetDefault(KeyFetchRetries, 3)
	viper.SetDefault(KeyFetchUserAgent, "")
}

var search = NewSingleton[SearchConfig]()

// Search returns the singleton search pipeline configuration.
func Search() *SearchConfig {
	search.once.Do(func() {
		c := &SearchConfig{
			OllamaTimeout:        time.Duration(viper.GetInt(KeyOllamaTimeout)) * time.Second,
			OllamaMaxArticles:    viper.GetInt(KeyOllamaMaxArticles),
			OllamaTotalTimeout:   time.Duration(viper.GetInt(KeyOllamaTotalTimeout)) * time.Second,
			ScraperRespectRobots: viper.GetBool(KeyScraperRespectRobots),
			MaxConcurrentScrapes: viper.GetInt(KeyMaxConcurrentScrapes),
			ScraperDelay:         viper.GetFloat64(KeyScraperDelay),
			SessionTTL:           time.Duration(viper.GetInt(KeySessionTTLHours)) * time.Hour,
			MinRelevance:         viper.GetFloat64(KeyMinRelevance),
			FetchTimeout:         time.Duration(viper.GetInt(KeyFetchTimeout)) * time.Second,
			FetchRetries:         viper.GetInt(KeyFetchRetries),
			FetchUserAgent:       viper.GetString(KeyFetchUserAgent),
		}

		ws := viper.GetStringSlice(KeyQueryWeights)
		c.Weights = QueryWeights{Text: 0.40, Location: 0.25, Date: 0.20, EventType: 0.15}
		if len(ws) == 4 {
			var vals [4]float64
			ok := true
			for i, s := range ws {
				if _, err := fmt.Sscanf(s, "%f", &vals[i]); err != nil {
					ok = false
					break
				}
			}
			if ok {
				c.Weights = QueryWeights{Text: vals[0], Location: vals[1], Date: vals[2], EventType: vals[3]}
			}
		}

		if err := c.Weights.Validate(); err != nil {
			search.errs = append(search.errs, err)
			Logger.Error().Err(err).Msg("Search configuration validation failed")
			return
		}
		Logger.Info().
			Dur("ollama_timeout", c.OllamaTimeout).
			Int("ollama_max_articles", c.OllamaMaxArticles).
			Dur("ollama_total_timeout", c.OllamaTotalTimeout).
			Int("max_concurrent_scrapes", c.MaxConcurrentScrapes).
			Float64("min_relevance", c.MinRelevance).
			Msg("Search configuration loaded successfully")
		search.instance = c
	})

	if len(search.errs) > 0 {
		search.Panic("search configuration errors")
	}
	return search.instance
}

var llm = NewSingleton[LLMConfig]()

// LLM returns the singleton LLM provider configuration.
func LLM() *LLMConfig {
	llm.once.Do(func() {
		c := &LLMConfig{
			Provider: viper.GetString(KeyLLMProvider),
			Model:    viper.GetString(KeyLLMModel),
			BaseURL:  viper.GetString(KeyLLMBaseURL),
			APIKey:   viper.GetString(KeyLLMAPIKey),
			Timeout:  time.Duration(viper.GetInt(KeyOllamaTimeout)) * time.Second,
		}
		Logger.Info().
			Str("provider", c.Provider).
			Str("model", c.Model).
			Str("base_url", c.BaseURL).
			Msg("LLM configuration loaded successfully")
		llm.instance = c
	})

	if len(llm.errs) > 0 {
		llm.Panic("LLM configuration errors")
	}
	return llm.instance
}

// Server returns the HTTP shell configuration. It is read directly from
// viper on each call; the shell reads it once at startup.
func Server() ServerConfig {
	return ServerConfig{
		Host:        viper.GetString(KeyHTTPHost),
		Port:        viper.GetInt(KeyHTTPPort),
		SourcesFile: viper.GetString(KeySourcesFile),
		OtelTarget:  viper.GetString(KeyOtelEndpoint),
	}
}
