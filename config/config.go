package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type GRPC struct {
	Addr string `yaml:"addr"`
	// CallTimeout guards unary calls that arrive without a deadline.
	CallTimeout time.Duration `yaml:"callTimeout"`
}

type HTTP struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
	PingEvery       time.Duration `yaml:"pingEvery"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // booth-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Room struct {
	EmptyTTL   time.Duration `yaml:"emptyTTL"`
	SweepEvery time.Duration `yaml:"sweepEvery"`
}

type Capture struct {
	Lead time.Duration `yaml:"lead"`
}

type Composite struct {
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queueSize"`
	FetchTimeout  time.Duration `yaml:"fetchTimeout"`
	JPEGQuality   int           `yaml:"jpegQuality"`
	DefaultLayout string        `yaml:"defaultLayout"`
	DefaultFilter string        `yaml:"defaultFilter"`
}

const (
	JobsMemory   = "memory"
	JobsPostgres = "postgres"
	JobsRedis    = "redis"

	StorageLocal = "local"
	StorageS3    = "s3"
)

type Jobs struct {
	Backend   string        `yaml:"backend"` // memory|postgres|redis
	ResultTTL time.Duration `yaml:"resultTTL"`
}

type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"maxConns"`
	MinConns        int32         `yaml:"minConns"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime time.Duration `yaml:"maxConnIdleTime"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type S3 struct {
	Region   string `yaml:"region"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"`
}

type Storage struct {
	Backend       string `yaml:"backend"` // local|s3
	Dir           string `yaml:"dir"`
	PublicBaseURL string `yaml:"publicBaseURL"`
	S3            S3     `yaml:"s3"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Logging   Logging   `yaml:"logging"`
	Room      Room      `yaml:"room"`
	Capture   Capture   `yaml:"capture"`
	Composite Composite `yaml:"composite"`
	Jobs      Jobs      `yaml:"jobs"`
	Postgres  Postgres  `yaml:"postgres"`
	Redis     Redis     `yaml:"redis"`
	Storage   Storage   `yaml:"storage"`
	CORS      CORS      `yaml:"cors"`
}

func LoadConfig() (*Config, error) {
	// optional .env with CONFIG_PATH / APP_ENV; real environment wins
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, validates it and fills defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}

	switch c.Jobs.Backend {
	case "":
		c.Jobs.Backend = JobsMemory
	case JobsMemory:
	case JobsPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for jobs.backend=postgres")
		}
	case JobsRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for jobs.backend=redis")
		}
	default:
		return fmt.Errorf("jobs.backend %q is not one of memory|postgres|redis", c.Jobs.Backend)
	}

	switch c.Storage.Backend {
	case "":
		c.Storage.Backend = StorageLocal
	case StorageLocal, StorageS3:
	default:
		return fmt.Errorf("storage.backend %q is not one of local|s3", c.Storage.Backend)
	}
	if c.Storage.Backend == StorageS3 && (c.Storage.S3.Bucket == "" || c.Storage.S3.Region == "") {
		return errors.New("storage.s3.bucket and storage.s3.region are required for storage.backend=s3")
	}
	if c.Storage.Backend == StorageLocal {
		if c.Storage.Dir == "" {
			c.Storage.Dir = "./data/assets"
		}
		if c.Storage.PublicBaseURL == "" {
			c.Storage.PublicBaseURL = "http://localhost" + c.HTTP.Addr + "/assets"
		}
	}

	if c.Composite.JPEGQuality < 0 || c.Composite.JPEGQuality > 100 {
		return errors.New("composite.jpegQuality must be within 1..100")
	}

	// defaults
	if c.Logging.Service == "" {
		c.Logging.Service = "booth-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}

	setDuration(&c.HTTP.ReadTimeout, 15*time.Second)
	setDuration(&c.HTTP.IdleTimeout, 60*time.Second)
	setDuration(&c.HTTP.RequestTimeout, 30*time.Second)
	setDuration(&c.HTTP.ShutdownTimeout, 10*time.Second)
	setDuration(&c.HTTP.PingEvery, 15*time.Second)
	if c.HTTP.MaxUploadBytes <= 0 {
		c.HTTP.MaxUploadBytes = 20 << 20
	}
	setDuration(&c.GRPC.CallTimeout, 10*time.Second)

	setDuration(&c.Room.EmptyTTL, 10*time.Minute)
	setDuration(&c.Room.SweepEvery, 10*time.Minute)
	setDuration(&c.Capture.Lead, 2000*time.Millisecond)

	if c.Composite.Workers <= 0 {
		c.Composite.Workers = 2
	}
	if c.Composite.QueueSize <= 0 {
		c.Composite.QueueSize = 64
	}
	if c.Composite.JPEGQuality == 0 {
		c.Composite.JPEGQuality = 92
	}
	setDuration(&c.Composite.FetchTimeout, 15*time.Second)
	if c.Composite.DefaultLayout == "" {
		c.Composite.DefaultLayout = "horizontal"
	}
	if c.Composite.DefaultFilter == "" {
		c.Composite.DefaultFilter = "polaroid"
	}
	setDuration(&c.Jobs.ResultTTL, 24*time.Hour)

	return nil
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}
