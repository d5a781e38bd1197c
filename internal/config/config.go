package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Backend names for STATE_BACKEND.
const (
	BackendS3    = "s3"
	BackendRedis = "redis"
)

// Common holds settings every binary reads.
type Common struct {
	// UpstreamURL overrides the coronavirus dashboard endpoint.
	UpstreamURL string `env:"UPSTREAM_URL" validate:"required,url"`
}

// Archive configures the optional Elasticsearch publication archive.
type Archive struct {
	ElasticsearchAddr  string `env:"ELASTICSEARCH_ADDR"`
	ElasticsearchIndex string `env:"ELASTICSEARCH_INDEX" validate:"required"`
}

// Enabled reports whether an archive address is set.
func (a Archive) Enabled() bool { return a.ElasticsearchAddr != "" }

// Events configures the optional Kafka publication topic.
type Events struct {
	KafkaBrokers []string `env:"KAFKA_BROKERS"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" validate:"required"`
}

// Enabled reports whether brokers are set.
func (e Events) Enabled() bool { return len(e.KafkaBrokers) > 0 }

// State selects where the freshness marker lives.
type State struct {
	Backend string `env:"STATE_BACKEND" validate:"oneof=s3 redis"`
	Bucket  string `env:"storage_bucket" validate:"required"`

	S3Region          string `env:"S3_REGION"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY" validate:"required_with=S3AccessKeyID"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL" validate:"omitempty,url"`

	RedisAddr     string `env:"REDIS_ADDR" validate:"required_if=Backend redis"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" validate:"gte=0"`
}

// Twitter holds the four OAuth1 credentials.
type Twitter struct {
	ConsumerKey    string `env:"oath_key" validate:"required"`
	ConsumerSecret string `env:"oath_secret" validate:"required"`
	AccessToken    string `env:"access_key" validate:"required"`
	AccessSecret   string `env:"access_secret" validate:"required"`
	APIURL         string `env:"TWITTER_API_URL" validate:"required,url"`
	UploadURL      string `env:"TWITTER_UPLOAD_URL" validate:"required,url"`
}

// Mastodon holds the bearer token and instance.
type Mastodon struct {
	Secret  string `env:"mastodon_secret" validate:"required"`
	BaseURL string `env:"MASTODON_URL" validate:"required,url"`
}

// Poster holds configuration for one publishing run.
type Poster struct {
	Common
	Twitter  Twitter
	Mastodon Mastodon
	State    State
	Archive  Archive
	Events   Events

	GraphFile       string        `env:"graph_file" validate:"required"`
	MetricsTextfile string        `env:"METRICS_TEXTFILE"`
	DedupeCapacity  int           `env:"DEDUPE_CAPACITY" validate:"gt=0"`
	DedupeTTL       time.Duration `env:"DEDUPE_TTL" validate:"gt=0"`
}

// Trigger describes the HTTP trigger server.
type Trigger struct {
	Poster
	BindAddr    string        `env:"TRIGGER_BIND_ADDR" validate:"required"`
	RunTimeout  time.Duration `env:"TRIGGER_RUN_TIMEOUT" validate:"gt=0"`
	DefaultPage int           `env:"TRIGGER_PAGE_SIZE" validate:"gt=0,ltefield=MaxPage"`
	MaxPage     int           `env:"TRIGGER_MAX_PAGE_SIZE" validate:"gt=0"`
}

// Retention configures the archive cleanup loop.
type Retention struct {
	Archive
	Interval  time.Duration `env:"RETENTION_CRON" validate:"gt=0"`
	MaxAge    time.Duration `env:"RETENTION_MAX_AGE" validate:"gt=0"`
	BatchSize int           `env:"RETENTION_BATCH_SIZE" validate:"gt=0"`
}

// LoadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadPoster builds a Poster config from environment variables.
func LoadPoster() (*Poster, error) {
	c := loadPoster()
	if err := check(c); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadTrigger builds a Trigger config from environment variables.
func LoadTrigger() (*Trigger, error) {
	c := &Trigger{
		Poster:      *loadPoster(),
		BindAddr:    getEnv("TRIGGER_BIND_ADDR", "0.0.0.0:8080"),
		RunTimeout:  getDuration("TRIGGER_RUN_TIMEOUT", "5m"),
		DefaultPage: getInt("TRIGGER_PAGE_SIZE", 20),
		MaxPage:     getInt("TRIGGER_MAX_PAGE_SIZE", 100),
	}
	if err := check(c); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	c := &Retention{
		Archive:   loadArchive(),
		Interval:  getDuration("RETENTION_CRON", "24h"),
		MaxAge:    getDuration("RETENTION_MAX_AGE", "8760h"),
		BatchSize: getInt("RETENTION_BATCH_SIZE", 500),
	}
	if !c.Enabled() {
		return nil, fmt.Errorf("ELASTICSEARCH_ADDR is required")
	}
	if err := check(c); err != nil {
		return nil, err
	}
	return c, nil
}

func loadPoster() *Poster {
	return &Poster{
		Common: Common{
			UpstreamURL: getEnv("UPSTREAM_URL", "https://api.coronavirus.data.gov.uk/v1/data"),
		},
		Twitter: Twitter{
			ConsumerKey:    getEnv("oath_key", ""),
			ConsumerSecret: getEnv("oath_secret", ""),
			AccessToken:    getEnv("access_key", ""),
			AccessSecret:   getEnv("access_secret", ""),
			APIURL:         getEnv("TWITTER_API_URL", "https://api.twitter.com/1.1"),
			UploadURL:      getEnv("TWITTER_UPLOAD_URL", "https://upload.twitter.com/1.1"),
		},
		Mastodon: Mastodon{
			Secret:  getEnv("mastodon_secret", ""),
			BaseURL: getEnv("MASTODON_URL", "https://mastodon.social"),
		},
		State: State{
			Backend:           strings.ToLower(getEnv("STATE_BACKEND", BackendS3)),
			Bucket:            getEnv("storage_bucket", ""),
			S3Region:          getEnv("S3_REGION", "us-east-1"),
			S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			S3EndpointURL:     getEnv("S3_ENDPOINT_URL", ""),
			RedisAddr:         getEnv("REDIS_ADDR", ""),
			RedisPassword:     getEnv("REDIS_PASSWORD", ""),
			RedisDB:           getInt("REDIS_DB", 0),
		},
		Archive: loadArchive(),
		Events: Events{
			KafkaBrokers: splitAndTrim(getEnv("KAFKA_BROKERS", "")),
			KafkaTopic:   getEnv("KAFKA_TOPIC", "child_deaths_published"),
		},
		GraphFile:       getEnv("graph_file", ""),
		MetricsTextfile: getEnv("METRICS_TEXTFILE", ""),
		DedupeCapacity:  getInt("DEDUPE_CAPACITY", 256),
		DedupeTTL:       getDuration("DEDUPE_TTL", "24h"),
	}
}

func loadArchive() Archive {
	return Archive{
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", ""),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "child_deaths_publications"),
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their environment variable.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("env")
	})
	return v
}

// check validates c and turns the first failure into a readable error.
func check(c any) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return fmt.Errorf("validate config: %w", err)
	}

	fe := errs[0]
	switch fe.Tag() {
	case "required", "required_if", "required_with":
		return fmt.Errorf("%s is required", fe.Field())
	case "url":
		return fmt.Errorf("%s must be a URL", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Errorf("%s must be positive", fe.Field())
	case "gte":
		return fmt.Errorf("%s cannot be negative", fe.Field())
	case "ltefield":
		return fmt.Errorf("%s cannot exceed %s", fe.Field(), "TRIGGER_MAX_PAGE_SIZE")
	default:
		return fmt.Errorf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
