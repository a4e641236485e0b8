package configs

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	service "github.com/123bigmirros/electronic-grave/services"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"

	ClaimTransportDirect = "direct"
	ClaimTransportQueue  = "queue"
)

// Config is read from GRAVE_* environment variables, optionally seeded from
// a .env file.
type Config struct {
	HTTPAddr     string `env:"GRAVE_HTTP_ADDR"    envDefault:":4000"`
	GRPCAddr     string `env:"GRAVE_GRPC_ADDR"    envDefault:":50051"`
	AllowOrigins string `env:"GRAVE_CORS_ORIGINS" envDefault:"http://localhost:3000"`
	LogLevel     string `env:"GRAVE_LOG_LEVEL"    envDefault:"info"`
	LogFormat    string `env:"GRAVE_LOG_FORMAT"   envDefault:"json"`

	Store             string `env:"GRAVE_STORE"              envDefault:"sqlite"`
	SQLitePath        string `env:"GRAVE_SQLITE_PATH"        envDefault:"grave.db"`
	PostgresDSN       string `env:"GRAVE_POSTGRES_DSN"`
	MongoURI          string `env:"GRAVE_MONGO_URI"          envDefault:"mongodb://localhost:27017"`
	MongoDatabase     string `env:"GRAVE_MONGO_DATABASE"     envDefault:"grave"`
	MongoTransactions bool   `env:"GRAVE_MONGO_TRANSACTIONS" envDefault:"false"`

	// An empty RedisAddr disables visitor presence and the claim queue.
	RedisAddr     string        `env:"GRAVE_REDIS_ADDR"`
	RedisPassword string        `env:"GRAVE_REDIS_PASSWORD"`
	RedisDB       int           `env:"GRAVE_REDIS_DB"      envDefault:"0"`
	VisitorTTL    time.Duration `env:"GRAVE_VISITOR_TTL"   envDefault:"1h"`

	FateProbability float64       `env:"GRAVE_FATE_PROBABILITY" envDefault:"0.5"`
	ClaimSelection  string        `env:"GRAVE_CLAIM_SELECTION"  envDefault:"uniform"`
	ClaimTransport  string        `env:"GRAVE_CLAIM_TRANSPORT"  envDefault:"direct"`
	ClaimQueue      string        `env:"GRAVE_CLAIM_QUEUE"      envDefault:"grave:claims"`
	ClaimTimeout    time.Duration `env:"GRAVE_CLAIM_TIMEOUT"    envDefault:"5s"`
	ClaimWorkers    int           `env:"GRAVE_CLAIM_WORKERS"    envDefault:"1"`

	PublicSampleSize  int    `env:"GRAVE_PUBLIC_SAMPLE_SIZE"   envDefault:"20"`
	UploadDir         string `env:"GRAVE_UPLOAD_DIR"           envDefault:"uploads"`
	UploadMaxBytes    int    `env:"GRAVE_UPLOAD_MAX_BYTES"     envDefault:"10485760"`
	JWTPublicKeyDir   string `env:"JWT_PUBLIC_KEY_DIR"         envDefault:"keys"`
	TrustUserIDHeader bool   `env:"GRAVE_TRUST_USER_ID_HEADER" envDefault:"false"`

	ConsulAddress string `env:"CONSUL_ADDRESS"`
	ServiceName   string `env:"GRAVE_SERVICE_NAME"   envDefault:"electronic-grave"`
	AdvertiseHost string `env:"GRAVE_ADVERTISE_HOST" envDefault:"localhost"`
}

// Load reads the given .env files (".env" when none is named) and then the
// environment. Missing files are ignored; variables already set win.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreMongo:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return errors.New("GRAVE_POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	switch c.ClaimTransport {
	case ClaimTransportDirect:
	case ClaimTransportQueue:
		if c.RedisAddr == "" {
			return errors.New("GRAVE_REDIS_ADDR is required for the queue claim transport")
		}
		if c.ClaimTimeout <= 0 {
			return errors.New("GRAVE_CLAIM_TIMEOUT must be positive")
		}
	default:
		return fmt.Errorf("unknown claim transport %q", c.ClaimTransport)
	}

	if c.ClaimWorkers < 0 {
		return errors.New("GRAVE_CLAIM_WORKERS must not be negative")
	}
	return c.ClaimEngine().Validate()
}

func (c Config) ClaimEngine() service.ClaimEngineConfig {
	return service.ClaimEngineConfig{
		FateProbability: c.FateProbability,
		Selection:       service.SelectionStrategy(c.ClaimSelection),
	}
}
