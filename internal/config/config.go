// Package config loads process configuration from the environment and
// optional .env files.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// StorageOptions selects and configures the entity store.
type StorageOptions struct {
	Driver      string `env:"HEALTHCORE_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"HEALTHCORE_SQLITE_PATH" envDefault:"healthcore.db"`
	PostgresDSN string `env:"HEALTHCORE_POSTGRES_DSN" envDefault:"postgres://localhost/healthcore?sslmode=disable"`
}

// CacheOptions configures the redis read-through cache. An empty address
// disables caching.
type CacheOptions struct {
	RedisAddr     string        `env:"HEALTHCORE_REDIS_ADDR"`
	RedisPassword string        `env:"HEALTHCORE_REDIS_PASSWORD"`
	RedisDB       int           `env:"HEALTHCORE_REDIS_DB" envDefault:"0"`
	TTL           time.Duration `env:"HEALTHCORE_CACHE_TTL" envDefault:"1h"`
}

// TopicOptions names the topics entity changes are published on.
type TopicOptions struct {
	StockCreate           string `env:"STOCK_CONSUMER_BULK_CREATE_TOPIC" envDefault:"save-stock-topic"`
	StockUpdate           string `env:"STOCK_CONSUMER_BULK_UPDATE_TOPIC" envDefault:"update-stock-topic"`
	StockDelete           string `env:"STOCK_CONSUMER_BULK_DELETE_TOPIC" envDefault:"delete-stock-topic"`
	HouseholdCreate       string `env:"HOUSEHOLD_CONSUMER_BULK_CREATE_TOPIC" envDefault:"save-household-topic"`
	HouseholdUpdate       string `env:"HOUSEHOLD_CONSUMER_BULK_UPDATE_TOPIC" envDefault:"update-household-topic"`
	HouseholdDelete       string `env:"HOUSEHOLD_CONSUMER_BULK_DELETE_TOPIC" envDefault:"delete-household-topic"`
	HouseholdMemberCreate string `env:"HOUSEHOLD_MEMBER_CONSUMER_BULK_CREATE_TOPIC" envDefault:"save-household-member-topic"`
	HouseholdMemberUpdate string `env:"HOUSEHOLD_MEMBER_CONSUMER_BULK_UPDATE_TOPIC" envDefault:"update-household-member-topic"`
	HouseholdMemberDelete string `env:"HOUSEHOLD_MEMBER_CONSUMER_BULK_DELETE_TOPIC" envDefault:"delete-household-member-topic"`
	ProjectCreate         string `env:"PROJECT_CONSUMER_BULK_CREATE_TOPIC" envDefault:"save-project-topic"`
	ProjectUpdate         string `env:"PROJECT_CONSUMER_BULK_UPDATE_TOPIC" envDefault:"update-project-topic"`
	ProjectDelete         string `env:"PROJECT_CONSUMER_BULK_DELETE_TOPIC" envDefault:"delete-project-topic"`
	PlanCreate            string `env:"PLAN_CREATE_TOPIC" envDefault:"save-plan"`
	PlanUpdate            string `env:"PLAN_UPDATE_TOPIC" envDefault:"update-plan"`
}

// WorkflowOptions classifies workflow actions for auto-assignment.
type WorkflowOptions struct {
	Host                string   `env:"WORKFLOW_HOST" envDefault:"http://localhost:8280"`
	BusinessService     string   `env:"PLAN_ESTIMATION_BUSINESS_SERVICE" envDefault:"PLAN_ESTIMATION"`
	ModuleName          string   `env:"PLAN_ESTIMATION_MODULE_NAME" envDefault:"plan-service"`
	InitiateActions     []string `env:"WORKFLOW_INITIATE_ACTIONS" envDefault:"INITIATE"`
	IntermediateActions []string `env:"WORKFLOW_INTERMEDIATE_ACTIONS" envDefault:"FORWARD,APPROVE,VALIDATE"`
	SendBackActions     []string `env:"WORKFLOW_SEND_BACK_ACTIONS" envDefault:"SEND_BACK,SEND_BACK_FOR_CORRECTION"`
	ApproverRoles       []string `env:"PLAN_ESTIMATION_APPROVER_ROLES" envDefault:"PLAN_ESTIMATION_APPROVER,ROOT_PLAN_ESTIMATION_APPROVER"`
}

// ServiceHosts points at the external master-data services.
type ServiceHosts struct {
	MDMS         string        `env:"EGOV_MDMS_HOST" envDefault:"http://localhost:8094"`
	MDMSSeedFile string        `env:"HEALTHCORE_MDMS_SEED_FILE"`
	Boundary     string        `env:"EGOV_BOUNDARY_HOST" envDefault:"http://localhost:8081"`
	Facility     string        `env:"EGOV_FACILITY_HOST" envDefault:"http://localhost:8082"`
	Product      string        `env:"EGOV_PRODUCT_HOST" envDefault:"http://localhost:8083"`
	Individual   string        `env:"EGOV_INDIVIDUAL_HOST" envDefault:"http://localhost:8084"`
	User         string        `env:"EGOV_USER_HOST" envDefault:"http://localhost:8085"`
	Project      string        `env:"EGOV_PROJECT_HOST" envDefault:"http://localhost:8086"`
	Plan         string        `env:"EGOV_PLAN_HOST" envDefault:"http://localhost:8087"`
	Timeout      time.Duration `env:"EGOV_CLIENT_TIMEOUT" envDefault:"10s"`
}

// BlobOptions configures where ingestion workbooks are read and written.
type BlobOptions struct {
	Driver      string `env:"HEALTHCORE_BLOB_DRIVER" envDefault:"fs"`
	FSRoot      string `env:"HEALTHCORE_BLOB_FS_ROOT" envDefault:"./blobdata"`
	S3Bucket    string `env:"HEALTHCORE_BLOB_S3_BUCKET"`
	S3Region    string `env:"HEALTHCORE_BLOB_S3_REGION" envDefault:"us-east-1"`
	S3Endpoint  string `env:"HEALTHCORE_BLOB_S3_ENDPOINT"`
	S3PathStyle bool   `env:"HEALTHCORE_BLOB_S3_PATH_STYLE" envDefault:"false"`
}

// Config is the full process configuration.
type Config struct {
	Storage  StorageOptions
	Cache    CacheOptions
	Topics   TopicOptions
	Workflow WorkflowOptions
	Hosts    ServiceHosts
	Blob     BlobOptions

	ListenAddr string `env:"HEALTHCORE_LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"text"`

	// TraceFile receives one JSON line per traced service call. Empty
	// disables tracing.
	TraceFile string `env:"HEALTHCORE_TRACE_FILE"`
}

// LoadEnv loads whichever of envFiles exist into the process environment and
// reports how many were found.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads .env files (if present) and parses the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env", ".env.local"}
	}
	if _, err := LoadEnv(envFiles); err != nil {
		return nil, errors.Wrap(err, "load env files")
	}
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "fs", "s3", "memory":
	default:
		return errors.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.Blob.Driver == "s3" && c.Blob.S3Bucket == "" {
		return errors.New("HEALTHCORE_BLOB_S3_BUCKET required for s3 blob driver")
	}
	return nil
}

// LogrusLevel maps LogLevel onto a logrus level.
func (c *Config) LogrusLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger builds the process logger.
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogrusLevel())
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
