package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Static errors for configuration validation
var (
	ErrBucketRequired           = errors.New("bucket name is required")
	ErrLookbackMonthsInvalid    = errors.New("lookback months must be a positive integer")
	ErrQueryFolderInvalid       = errors.New("query folder is not an existing directory")
	ErrQueryTemplateInvalid     = errors.New("query template is not an existing file in the query folder")
	ErrDatabaseHostRequired     = errors.New("database host is required")
	ErrDatabaseUserRequired     = errors.New("database user is required")
	ErrDatabasePasswordRequired = errors.New("database password is required")
	ErrDatabaseNameRequired     = errors.New("database name is required")
	ErrDatabasePortInvalid      = errors.New("database port must be a positive integer")
	ErrGCPKeyInvalid            = errors.New("GCP key must be a JSON service-account credential")
)

const (
	defaultBucket        = "mpr-research-data-uploads"
	defaultQueryFolder   = "queries"
	defaultCourseQuery   = "courseQuery.sql"
	defaultRetrieveQuery = "retrieveQuery.sql"
)

// Config holds every externally supplied setting for one export run. It is
// built once from the process environment and never modified afterwards;
// components receive it by parameter rather than reading the environment
// themselves.
type Config struct {
	LogLevel  string
	LogFormat string

	Bucket         string
	LookbackMonths int
	QueryFolder    string
	CourseQuery    string
	RetrieveQuery  string

	Database DatabaseConfig

	// GCPKey is the raw service-account JSON from GCP_KEY. Validate checks
	// it parses; the storage client consumes it as-is.
	GCPKey string

	// Raw env text for the numeric fields, kept so validation errors can
	// report the offending value when the cast itself failed.
	lookbackRaw string
	portRaw     string
}

type DatabaseConfig struct {
	Host     string
	User     string
	Password string
	Name     string
	Port     int
}

// LoadConfig snapshots the process environment into a Config, applying
// defaults. Casting and validation happen in Validate so that one run can
// report every misconfiguration at once.
func LoadConfig() *Config {
	viper.SetDefault("LOG_LEVEL", "INFO")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("GCLOUD_BUCKET", defaultBucket)
	viper.SetDefault("NUMBER_OF_MONTHS", "4")
	viper.SetDefault("QUERY_FOLDER", defaultQueryFolder)
	viper.SetDefault("COURSE_QUERY", defaultCourseQuery)
	viper.SetDefault("RETRIEVE_QUERY", defaultRetrieveQuery)
	viper.SetDefault("DB_PORT", "3306")
	viper.AutomaticEnv()

	config := &Config{
		LogLevel:      strings.ToUpper(viper.GetString("LOG_LEVEL")),
		LogFormat:     viper.GetString("LOG_FORMAT"),
		Bucket:        viper.GetString("GCLOUD_BUCKET"),
		QueryFolder:   viper.GetString("QUERY_FOLDER"),
		CourseQuery:   viper.GetString("COURSE_QUERY"),
		RetrieveQuery: viper.GetString("RETRIEVE_QUERY"),
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Name:     viper.GetString("DB_NAME"),
		},
		GCPKey:      viper.GetString("GCP_KEY"),
		lookbackRaw: viper.GetString("NUMBER_OF_MONTHS"),
		portRaw:     viper.GetString("DB_PORT"),
	}

	// A failed cast leaves zero, which the positive-integer checks in
	// Validate reject together with the raw text.
	config.LookbackMonths, _ = strconv.Atoi(config.lookbackRaw)
	config.Database.Port, _ = strconv.Atoi(config.portRaw)

	return config
}

// Validate checks every field and aggregates all failures into one error so
// a single run surfaces every misconfiguration. LOG_LEVEL is exempt: an
// invalid level only produces a warning at logger setup.
func (c *Config) Validate() error {
	var errs []error

	if c.Bucket == "" {
		errs = append(errs, fmt.Errorf("%w (GCLOUD_BUCKET)", ErrBucketRequired))
	}

	if c.LookbackMonths <= 0 {
		errs = append(errs, fmt.Errorf("%w (NUMBER_OF_MONTHS): got %s",
			ErrLookbackMonthsInvalid, intFieldValue(c.lookbackRaw, c.LookbackMonths)))
	}

	if info, err := os.Stat(c.QueryFolder); err != nil || !info.IsDir() {
		errs = append(errs, fmt.Errorf("%w (QUERY_FOLDER): %q", ErrQueryFolderInvalid, c.QueryFolder))
	} else {
		// Filename checks only make sense against a valid folder.
		for _, query := range []struct{ envName, fileName string }{
			{"COURSE_QUERY", c.CourseQuery},
			{"RETRIEVE_QUERY", c.RetrieveQuery},
		} {
			path := filepath.Join(c.QueryFolder, query.fileName)
			if info, err := os.Stat(path); err != nil || info.IsDir() {
				errs = append(errs, fmt.Errorf("%w (%s): %q", ErrQueryTemplateInvalid, query.envName, query.fileName))
			}
		}
	}

	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("%w (DB_HOST)", ErrDatabaseHostRequired))
	}
	if c.Database.User == "" {
		errs = append(errs, fmt.Errorf("%w (DB_USER)", ErrDatabaseUserRequired))
	}
	if c.Database.Password == "" {
		errs = append(errs, fmt.Errorf("%w (DB_PASSWORD)", ErrDatabasePasswordRequired))
	}
	if c.Database.Name == "" {
		errs = append(errs, fmt.Errorf("%w (DB_NAME)", ErrDatabaseNameRequired))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("%w (DB_PORT): got %s",
			ErrDatabasePortInvalid, intFieldValue(c.portRaw, c.Database.Port)))
	}

	if c.GCPKey == "" {
		errs = append(errs, fmt.Errorf("%w (GCP_KEY): value is empty", ErrGCPKeyInvalid))
	} else {
		var key map[string]interface{}
		if err := json.Unmarshal([]byte(c.GCPKey), &key); err != nil {
			errs = append(errs, fmt.Errorf("%w (GCP_KEY): %v", ErrGCPKeyInvalid, err))
		}
	}

	return errors.Join(errs...)
}

// intFieldValue prefers the raw env text for error messages so a cast
// failure reports what the operator actually set.
func intFieldValue(raw string, parsed int) string {
	if raw != "" {
		return strconv.Quote(raw)
	}
	return strconv.Itoa(parsed)
}
