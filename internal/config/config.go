package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/ocean-color-archive/internal/composite"
	"github.com/couchcryptid/ocean-color-archive/internal/domain"
	"github.com/couchcryptid/ocean-color-archive/internal/period"
)

// Job names accepted by JOB.
const (
	JobBin            = "bin"
	JobDailyComposite = "daily-composite"
	JobTimeComposite  = "time-composite"
	JobClimatology    = "climatology"
	JobAnomaly        = "anomaly"
	JobNRT            = "nrt"
)

const dateLayout = "2006-01-02"

// Config holds all service settings, populated from environment variables.
type Config struct {
	DataRoot        string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	Workers     int
	ItemTimeout time.Duration

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	Job       string
	Begin     time.Time
	End       time.Time
	Sensors   []string
	Variables []string
	Night     bool
	Overwrite bool

	Extent              domain.Extent
	Resolution          string
	Projection          string
	ProjectionCacheSize int
	GridSource          string // l3mapgen product whose georeference replaces Extent

	CompositeDelta    period.Delta
	CompositeFunction composite.Function
	AnomalyMethod     composite.AnomalyMethod
	ClimBeginYear     int
	ClimEndYear       int

	DayThreshold time.Duration
	MaxQuality   float64
	MaskFlags    []string // l2_flags names replacing every suite's default mask
}

// Load reads configuration from environment variables, applying defaults where unset.
// An optional dotenv file (ENV_FILE, default .env) is read first; variables
// already set in the environment take precedence over it.
func Load() (*Config, error) {
	if err := loadEnvFile(sharedcfg.EnvOrDefault("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataRoot:        sharedcfg.EnvOrDefault("DATA_ROOT", "./data"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		KafkaBrokers:    sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:      sharedcfg.EnvOrDefault("KAFKA_TOPIC", "ocean-color-products"),
		Job:             sharedcfg.EnvOrDefault("JOB", JobBin),
		Sensors:         parseList(sharedcfg.EnvOrDefault("SENSORS", "A,T,V")),
		Variables:       parseList(sharedcfg.EnvOrDefault("VARIABLES", "chlor_a")),
		Resolution:      sharedcfg.EnvOrDefault("RESOLUTION", "2km"),
		Projection:      sharedcfg.EnvOrDefault("PROJECTION", "+proj=laea +lat_0=18 +lon_0=-97"),
		GridSource:      strings.TrimSpace(sharedcfg.EnvOrDefault("GRID_SOURCE", "")),
		MaskFlags:       parseList(sharedcfg.EnvOrDefault("MASK_FLAGS", "")),
	}

	if cfg.Workers, err = parsePositiveInt("WORKERS", "4"); err != nil {
		return nil, err
	}
	if cfg.ProjectionCacheSize, err = parsePositiveInt("PROJECTION_CACHE_SIZE", "64"); err != nil {
		return nil, err
	}
	if cfg.ItemTimeout, err = parsePositiveDuration("ITEM_TIMEOUT", "30m"); err != nil {
		return nil, err
	}
	if cfg.DayThreshold, err = parseDuration("DAY_THRESHOLD", "12h"); err != nil {
		return nil, err
	}
	if cfg.KafkaEnabled, err = parseBool("KAFKA_ENABLED", "false"); err != nil {
		return nil, err
	}
	if cfg.Night, err = parseBool("NIGHT", "false"); err != nil {
		return nil, err
	}
	if cfg.Overwrite, err = parseBool("OVERWRITE", "false"); err != nil {
		return nil, err
	}
	if cfg.MaxQuality, err = parseFloat("MAX_QUALITY", "2"); err != nil {
		return nil, err
	}
	if cfg.Extent, err = parseExtent(); err != nil {
		return nil, err
	}
	if cfg.Begin, cfg.End, err = parseDateRange(); err != nil {
		return nil, err
	}

	if cfg.CompositeDelta, err = period.ParseDelta(sharedcfg.EnvOrDefault("COMPOSITE_DELTA", "8")); err != nil {
		return nil, fmt.Errorf("invalid COMPOSITE_DELTA: %w", err)
	}
	if cfg.CompositeFunction, err = composite.ParseFunction(sharedcfg.EnvOrDefault("COMPOSITE_FUNCTION", "mean")); err != nil {
		return nil, fmt.Errorf("invalid COMPOSITE_FUNCTION: %w", err)
	}
	if cfg.AnomalyMethod, err = composite.ParseAnomalyMethod(sharedcfg.EnvOrDefault("ANOMALY_METHOD", "logratio")); err != nil {
		return nil, fmt.Errorf("invalid ANOMALY_METHOD: %w", err)
	}
	if cfg.ClimBeginYear, err = parsePositiveInt("CLIM_BEGIN_YEAR", "2003"); err != nil {
		return nil, err
	}
	if cfg.ClimEndYear, err = parsePositiveInt("CLIM_END_YEAR", strconv.Itoa(cfg.End.Year()-1)); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Job {
	case JobBin, JobDailyComposite, JobTimeComposite, JobClimatology, JobAnomaly, JobNRT:
	default:
		return fmt.Errorf("invalid JOB %q", c.Job)
	}
	if c.DataRoot == "" {
		return errors.New("DATA_ROOT is required")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if c.KafkaEnabled && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required")
	}
	if len(c.Sensors) == 0 && (c.Job == JobBin || c.Job == JobNRT) {
		return errors.New("SENSORS is required")
	}
	if len(c.Variables) == 0 {
		return errors.New("VARIABLES is required")
	}
	if c.ClimEndYear < c.ClimBeginYear {
		return errors.New("invalid CLIM_END_YEAR: before CLIM_BEGIN_YEAR")
	}
	return nil
}

func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("invalid ENV_FILE %s: %w", path, err)
}

func parseList(value string) []string {
	return sharedcfg.ParseBrokers(value)
}

func parsePositiveInt(key, fallback string) (int, error) {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := parseDuration(key, fallback)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseBool(key, fallback string) (bool, error) {
	b, err := strconv.ParseBool(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return b, nil
}

func parseFloat(key, fallback string) (float64, error) {
	f, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, fallback), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}

func parseExtent() (domain.Extent, error) {
	var ext domain.Extent
	var err error
	if ext.South, err = parseFloat("SOUTH", "3"); err != nil {
		return ext, err
	}
	if ext.North, err = parseFloat("NORTH", "33"); err != nil {
		return ext, err
	}
	if ext.West, err = parseFloat("WEST", "-122"); err != nil {
		return ext, err
	}
	if ext.East, err = parseFloat("EAST", "-72"); err != nil {
		return ext, err
	}
	if ext.South >= ext.North || ext.West >= ext.East {
		return ext, errors.New("invalid extent: SOUTH must be below NORTH and WEST below EAST")
	}
	return ext, nil
}

// parseDateRange reads BEGIN and END; each defaults to today (UTC).
func parseDateRange() (time.Time, time.Time, error) {
	today := domain.Now().Format(dateLayout)
	begin, err := time.Parse(dateLayout, strings.TrimSpace(sharedcfg.EnvOrDefault("BEGIN", today)))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid BEGIN: want YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(sharedcfg.EnvOrDefault("END", today)))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid END: want YYYY-MM-DD")
	}
	if end.Before(begin) {
		return time.Time{}, time.Time{}, errors.New("invalid END: before BEGIN")
	}
	return begin, end, nil
}

// Dates returns every day from Begin to End inclusive.
func (c *Config) Dates() []time.Time {
	var dates []time.Time
	for d := c.Begin; !d.After(c.End); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}
