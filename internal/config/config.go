package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	State      StateConfig      `yaml:"state" mapstructure:"state"`
	Origin     OriginConfig     `yaml:"origin" mapstructure:"origin"`
	Directory  DirectoryConfig  `yaml:"directory" mapstructure:"directory"`
	Index      IndexConfig      `yaml:"index" mapstructure:"index"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Route      RouteConfig      `yaml:"route" mapstructure:"route"`
	HTTP       HTTPConfig       `yaml:"http" mapstructure:"http"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StateConfig identifies the state whose municipalities are enriched.
type StateConfig struct {
	Code             string `yaml:"code" mapstructure:"code" validate:"required,numeric"`
	Name             string `yaml:"name" mapstructure:"name" validate:"required"`
	Country          string `yaml:"country" mapstructure:"country" validate:"required"`
	ExpectedEntities int    `yaml:"expected_entities" mapstructure:"expected_entities" validate:"min=0"`
}

// OriginConfig names the fixed point every distance is measured from.
type OriginConfig struct {
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
}

// PolicyConfig is the pacing and retry discipline of one external service.
type PolicyConfig struct {
	MinIntervalMs    int `yaml:"min_interval_ms" mapstructure:"min_interval_ms" validate:"min=0"`
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=1,max=10"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"min=0"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"min=0"`
}

// DirectoryConfig configures the IBGE localities API.
type DirectoryConfig struct {
	URL          string `yaml:"url" mapstructure:"url" validate:"required"`
	PolicyConfig `yaml:",inline" mapstructure:",squash"`
}

// IndexConfig configures the HDI-M table scrape.
type IndexConfig struct {
	URL          string `yaml:"url" mapstructure:"url" validate:"required,url"`
	NameHeader   string `yaml:"name_header" mapstructure:"name_header" validate:"required"`
	ValueHeader  string `yaml:"value_header" mapstructure:"value_header" validate:"required"`
	PolicyConfig `yaml:",inline" mapstructure:",squash"`
}

// GeocodeConfig configures Nominatim and the query fallback chain.
type GeocodeConfig struct {
	URL          string   `yaml:"url" mapstructure:"url" validate:"required,url"`
	Queries      []string `yaml:"queries" mapstructure:"queries" validate:"required,min=1,dive,required,contains={name}"`
	PolicyConfig `yaml:",inline" mapstructure:",squash"`
}

// RouteConfig configures OSRM and the routing circuit breaker.
type RouteConfig struct {
	URL              string `yaml:"url" mapstructure:"url" validate:"required,url"`
	Profile          string `yaml:"profile" mapstructure:"profile" validate:"required"`
	Skip             bool   `yaml:"skip" mapstructure:"skip"`
	BreakerThreshold int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold" validate:"min=1"`
	PolicyConfig     `yaml:",inline" mapstructure:",squash"`
}

// HTTPConfig configures the shared outbound client.
type HTTPConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent" validate:"required"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=1"`
	HostRPS     float64 `yaml:"host_rps" mapstructure:"host_rps" validate:"gt=0"`
}

// CacheConfig configures the persistent lookup caches.
type CacheConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir" validate:"required"`
	Driver string `yaml:"driver" mapstructure:"driver" validate:"oneof=json sqlite"`
}

// OutputConfig configures the CSV output.
type OutputConfig struct {
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
}

// MonitoringConfig configures the end-of-run summary and its alerts.
type MonitoringConfig struct {
	Textfile                string  `yaml:"textfile" mapstructure:"textfile"`
	WebhookURL              string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	GeocodeFailureThreshold float64 `yaml:"geocode_failure_threshold" mapstructure:"geocode_failure_threshold" validate:"min=0,max=1"`
	IndexMissingThreshold   float64 `yaml:"index_missing_threshold" mapstructure:"index_missing_threshold" validate:"min=0,max=1"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MUNI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("state.code", "29")
	v.SetDefault("state.name", "Bahia")
	v.SetDefault("state.country", "Brasil")
	v.SetDefault("state.expected_entities", 417)
	v.SetDefault("origin.name", "Salvador")
	v.SetDefault("directory.url", "https://servicodados.ibge.gov.br/api/v1/localidades/estados/{state}/municipios")
	v.SetDefault("directory.max_attempts", 3)
	v.SetDefault("directory.initial_backoff_ms", 1000)
	v.SetDefault("directory.max_backoff_ms", 10000)
	v.SetDefault("index.url", "https://pt.wikipedia.org/wiki/Lista_de_munic%C3%ADpios_da_Bahia_por_IDH-M")
	v.SetDefault("index.name_header", "munic")
	v.SetDefault("index.value_header", "idh")
	v.SetDefault("index.max_attempts", 3)
	v.SetDefault("index.initial_backoff_ms", 1000)
	v.SetDefault("index.max_backoff_ms", 10000)
	v.SetDefault("geocode.url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geocode.queries", []string{
		"Prefeitura Municipal de {name}, {state}, {country}",
		"{name}, {state}, {country}",
		"{name}, {country}",
		"{name}",
	})
	v.SetDefault("geocode.min_interval_ms", 1500)
	v.SetDefault("geocode.max_attempts", 3)
	v.SetDefault("geocode.initial_backoff_ms", 2000)
	v.SetDefault("geocode.max_backoff_ms", 30000)
	v.SetDefault("route.url", "https://router.project-osrm.org")
	v.SetDefault("route.profile", "driving")
	v.SetDefault("route.skip", false)
	v.SetDefault("route.breaker_threshold", 10)
	v.SetDefault("route.min_interval_ms", 800)
	v.SetDefault("route.max_attempts", 3)
	v.SetDefault("route.initial_backoff_ms", 1000)
	v.SetDefault("route.max_backoff_ms", 15000)
	v.SetDefault("http.user_agent", "muni-enrich/1.0 (contact: set MUNI_HTTP_USER_AGENT)")
	v.SetDefault("http.timeout_secs", 60)
	v.SetDefault("http.host_rps", 2.0)
	v.SetDefault("cache.dir", ".cache_ba")
	v.SetDefault("cache.driver", "json")
	v.SetDefault("output.path", "distancias_bahia.csv")
	v.SetDefault("monitoring.textfile", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.geocode_failure_threshold", 0.05)
	v.SetDefault("monitoring.index_missing_threshold", 0.05)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	if !strings.Contains(c.Directory.URL, "{state}") {
		return eris.New("config: validate: directory.url must contain {state}")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
