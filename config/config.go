package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/jalad-shrimali/cdr-trace/locate"
)

// Config holds service configuration derived from the environment, an
// optional .env file and an optional YAML file.
type Config struct {
	HTTPAddr    string        `validate:"required"`
	OutputDir   string        `validate:"required"`
	UploadDir   string        `validate:"required"`
	WatchDir    string
	WatchSettle time.Duration `validate:"gte=0"`

	LookupURL         string        `validate:"required,url"`
	LookupMNC         int           `validate:"gte=0,lte=99"`
	LookupConcurrency int           `validate:"gte=1,lte=32"`
	LookupRate        float64       `validate:"gte=0"`
	LookupBurst       int           `validate:"gte=1"`
	LookupTimeout     time.Duration `validate:"gt=0"`
	LookupRetries     int           `validate:"gte=0,lte=10"`
	LookupBackoff     time.Duration `validate:"gt=0"`

	CellCachePath string
	LogLevel      string   `validate:"oneof=debug info warn error"`
	LogFormat     string   `validate:"oneof=json console"`
	CORSOrigins   []string `validate:"min=1"`

	// Tiles maps a display name to a tile URL template with {x} {y} {z}.
	Tiles map[string]string `validate:"min=1,dive,keys,required,endkeys,required"`
}

type fileConfig struct {
	HTTPAddr  string            `yaml:"http_addr"`
	OutputDir string            `yaml:"output_dir"`
	UploadDir string            `yaml:"upload_dir"`
	WatchDir  string            `yaml:"watch_dir"`
	CellCache string            `yaml:"cell_cache_path"`
	Lookup    lookupFileConfig  `yaml:"lookup"`
	Tiles     map[string]string `yaml:"tiles"`
}

type lookupFileConfig struct {
	URL         string   `yaml:"url"`
	MNC         *int     `yaml:"mnc"`
	Concurrency *int     `yaml:"concurrency"`
	Rate        *float64 `yaml:"rate"`
	Burst       *int     `yaml:"burst"`
	Retries     *int     `yaml:"retries"`
}

const (
	defaultAddr        = ":8080"
	defaultOutputDir   = "filtered"
	defaultUploadDir   = "uploads"
	defaultConcurrency = 2
	defaultRate        = 2.0
	defaultRetries     = 2
)

// DefaultTiles are the two AutoNavi layers offered when nothing is configured.
func DefaultTiles() map[string]string {
	return map[string]string{
		"高德-常规图": "http://wprd02.is.autonavi.com/appmaptile?x={x}&y={y}&z={z}&lang=zh_cn&size=1&scl=1&style=7",
		"高德-卫星图": "http://wprd02.is.autonavi.com/appmaptile?x={x}&y={y}&z={z}&lang=zh_cn&size=1&scl=1&style=6",
	}
}

// Load reads configuration, applies defaults and validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	var fc fileConfig
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, eris.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return Config{}, eris.Wrapf(err, "parse config %s", path)
		}
	}

	cfg := Config{
		HTTPAddr:      firstNonEmpty(os.Getenv("HTTP_ADDR"), fc.HTTPAddr, defaultAddr),
		OutputDir:     firstNonEmpty(os.Getenv("OUTPUT_DIR"), fc.OutputDir, defaultOutputDir),
		UploadDir:     firstNonEmpty(os.Getenv("UPLOAD_DIR"), fc.UploadDir, defaultUploadDir),
		WatchDir:      firstNonEmpty(os.Getenv("WATCH_DIR"), fc.WatchDir),
		LookupURL:     firstNonEmpty(os.Getenv("LOOKUP_URL"), fc.Lookup.URL, locate.DefaultBaseURL),
		CellCachePath: firstNonEmpty(os.Getenv("CELL_CACHE_PATH"), fc.CellCache),
		LogLevel:      strings.ToLower(firstNonEmpty(os.Getenv("LOG_LEVEL"), "info")),
		LogFormat:     strings.ToLower(firstNonEmpty(os.Getenv("LOG_FORMAT"), "json")),
		CORSOrigins:   splitList(firstNonEmpty(os.Getenv("CORS_ORIGINS"), "*")),
		Tiles:         fc.Tiles,
	}
	if !strings.Contains(cfg.HTTPAddr, ":") {
		cfg.HTTPAddr = ":" + cfg.HTTPAddr
	}
	if len(cfg.Tiles) == 0 {
		cfg.Tiles = DefaultTiles()
	}

	var err error
	if cfg.LookupMNC, err = intEnv("LOOKUP_MNC", deref(fc.Lookup.MNC, 0)); err != nil {
		return cfg, err
	}
	if cfg.LookupConcurrency, err = intEnv("LOOKUP_CONCURRENCY", deref(fc.Lookup.Concurrency, defaultConcurrency)); err != nil {
		return cfg, err
	}
	if cfg.LookupRate, err = floatEnv("LOOKUP_RATE", deref(fc.Lookup.Rate, defaultRate)); err != nil {
		return cfg, err
	}
	if cfg.LookupBurst, err = intEnv("LOOKUP_BURST", deref(fc.Lookup.Burst, 1)); err != nil {
		return cfg, err
	}
	if cfg.LookupRetries, err = intEnv("LOOKUP_RETRIES", deref(fc.Lookup.Retries, defaultRetries)); err != nil {
		return cfg, err
	}
	if cfg.LookupTimeout, err = durationEnv("LOOKUP_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.LookupBackoff, err = durationEnv("LOOKUP_BACKOFF", 500*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.WatchSettle, err = durationEnv("WATCH_SETTLE", 2*time.Second); err != nil {
		return cfg, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, eris.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// ResolverOptions maps the lookup settings onto locate.Options.
func (c Config) ResolverOptions() locate.Options {
	return locate.Options{
		Concurrency:   c.LookupConcurrency,
		RatePerSecond: c.LookupRate,
		Burst:         c.LookupBurst,
		Timeout:       c.LookupTimeout,
		Retries:       c.LookupRetries,
		Backoff:       c.LookupBackoff,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, eris.Wrapf(err, "invalid %s", key)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, eris.Wrapf(err, "invalid %s", key)
	}
	return f, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, eris.Wrapf(err, "invalid %s", key)
	}
	return d, nil
}
