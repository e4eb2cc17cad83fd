package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/go-sql-driver/mysql"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tl-its-umich-edu/course-data-exporter/cmd/formatters"
)

// Static errors distinguishing the fatal outcomes the orchestrator must
// tell apart when choosing an exit message.
var (
	ErrNoCourses          = errors.New("no courses found in current configuration")
	ErrStorageConnection  = errors.New("storage connection failed")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrCourseIDColumn     = errors.New("retrieve query result has no CourseID column")
	ErrCourseColumnsShort = errors.New("course query result needs id and name columns")
)

// Course is one row of the course-list query: the partition key used to
// slice records and name output artifacts, plus its display label.
type Course struct {
	ID   int64
	Name string
}

// RecordTable holds every retrieved course-data row across all courses,
// read once and only filtered afterwards. Values are kept as the strings
// they serialize to; the CourseID column doubles as the filter key.
type RecordTable struct {
	Columns []string
	Rows    [][]string

	courseIDCol int
}

// RowsForCourse returns the rows whose CourseID equals id, in retrieval
// order. Rows tagged with an unknown course are simply never selected.
func (t *RecordTable) RowsForCourse(id int64) [][]string {
	key := strconv.FormatInt(id, 10)
	var matched [][]string
	for _, row := range t.Rows {
		if row[t.courseIDCol] == key {
			matched = append(matched, row)
		}
	}
	return matched
}

// RunStatus reports the two accumulated outcomes of the upload loop. The
// slicing step has no failure path of its own today; the flag is kept so
// the status shape matches what downstream alerting already expects.
type RunStatus struct {
	AllSliced bool
	AllSaved  bool
}

// Uploader stores one serialized artifact under a name, overwriting any
// existing object of that name.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) error
}

// bucketUploader writes artifacts into one GCS bucket. Each upload is a
// single atomic put; the object only becomes visible on a clean Close.
type bucketUploader struct {
	bucket *storage.BucketHandle
}

func (u *bucketUploader) Upload(ctx context.Context, name string, data []byte) error {
	w := u.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "text/tab-separated-values"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Exporter runs one export pass: connect, list courses, retrieve records,
// slice and upload. It holds no state between runs.
type Exporter struct {
	config        *Config
	db            *sql.DB
	storageClient *storage.Client
	uploader      Uploader
	logger        *slog.Logger
	tsv           *formatters.TSVFormatter
}

func NewExporter(config *Config, logger *slog.Logger) *Exporter {
	return &Exporter{
		config: config,
		logger: logger,
		tsv:    formatters.NewTSVFormatter(),
	}
}

// dsn builds the MySQL connection string from exactly the five credential
// fields.
func (c DatabaseConfig) dsn() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	cfg.DBName = c.Name
	return cfg.FormatDSN()
}

// Connect establishes and validates the database connection and the bucket
// handle. Both checks run up front so a broken environment fails before any
// data is read.
func (e *Exporter) Connect(ctx context.Context) error {
	if err := e.connectDatabase(ctx); err != nil {
		return err
	}

	if err := e.connectStorage(ctx); err != nil {
		e.db.Close()
		e.db = nil
		return err
	}

	return nil
}

func (e *Exporter) connectDatabase(ctx context.Context) error {
	db, err := sql.Open("mysql", e.config.Database.dsn())
	if err != nil {
		return fmt.Errorf("opening database connection to %s:%d: %w",
			e.config.Database.Host, e.config.Database.Port, err)
	}

	// A round-trip probe; sql.Open alone does not touch the network.
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("validating database connection to %s:%d: %w",
			e.config.Database.Host, e.config.Database.Port, err)
	}

	e.db = db
	e.logger.Info("DB connection established and validated.")
	return nil
}

func (e *Exporter) connectStorage(ctx context.Context) error {
	client, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(e.config.GCPKey)))
	if err != nil {
		return fmt.Errorf("%w: creating client: %v", ErrStorageConnection, err)
	}

	bucket := client.Bucket(e.config.Bucket)
	if _, err := bucket.Attrs(ctx); err != nil {
		client.Close()
		if errors.Is(err, storage.ErrBucketNotExist) {
			return fmt.Errorf("%w: %s", ErrBucketNotFound, e.config.Bucket)
		}
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
			return fmt.Errorf("%w: authenticating to bucket %s: %v", ErrStorageConnection, e.config.Bucket, err)
		}
		return fmt.Errorf("%w: checking bucket %s: %v", ErrStorageConnection, e.config.Bucket, err)
	}

	e.storageClient = client
	e.uploader = &bucketUploader{bucket: bucket}
	e.logger.Info(fmt.Sprintf("Bucket %s found.", e.config.Bucket))
	e.logger.Info("GCP connection established and validated.")
	return nil
}

// Close releases the connections held for the run.
func (e *Exporter) Close() {
	if e.db != nil {
		e.db.Close()
	}
	if e.storageClient != nil {
		e.storageClient.Close()
	}
}

// Run executes one full export pass and returns the accumulated status.
// Every error it returns is fatal to the run; per-course upload failures
// are absorbed into the status instead.
func (e *Exporter) Run(ctx context.Context) (RunStatus, error) {
	status := RunStatus{AllSliced: true, AllSaved: true}

	courses, err := e.ListCourses(ctx)
	if err != nil {
		return status, err
	}
	if len(courses) == 0 {
		return status, ErrNoCourses
	}

	records, err := e.RetrieveRecords(ctx, courses)
	if err != nil {
		return status, err
	}

	return e.SliceAndUpload(ctx, courses, records), nil
}

// ListCourses resolves and executes the course-list query with the lookback
// window substituted in. The result contract is one course per row:
// (id, name).
func (e *Exporter) ListCourses(ctx context.Context) ([]Course, error) {
	query, err := ResolveQuery(e.config.CourseQuery, e.config.QueryFolder,
		strconv.Itoa(e.config.LookbackMonths))
	if err != nil {
		return nil, fmt.Errorf("course list retrieval failed: %w", err)
	}

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("course list retrieval failed: %w", err)
	}
	defer rows.Close()

	var courses []Course
	for rows.Next() {
		var course Course
		if err := rows.Scan(&course.ID, &course.Name); err != nil {
			return nil, fmt.Errorf("course list retrieval failed: %w: %v", ErrCourseColumnsShort, err)
		}
		courses = append(courses, course)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("course list retrieval failed: %w", err)
	}

	e.logger.Info(fmt.Sprintf("Courses retrieved: %d", len(courses)))
	return courses, nil
}

// RetrieveRecords fetches every record for the given courses in one bulk
// read, substituting a comma-joined list of course IDs into the template's
// IN (...) clause.
func (e *Exporter) RetrieveRecords(ctx context.Context, courses []Course) (*RecordTable, error) {
	ids := make([]string, len(courses))
	for i, course := range courses {
		ids[i] = strconv.FormatInt(course.ID, 10)
	}

	query, err := ResolveQuery(e.config.RetrieveQuery, e.config.QueryFolder, strings.Join(ids, ","))
	if err != nil {
		return nil, fmt.Errorf("course data retrieval failed: %w", err)
	}

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("course data retrieval failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("course data retrieval failed: %w", err)
	}

	table := &RecordTable{Columns: columns, courseIDCol: -1}
	for i, name := range columns {
		if name == "CourseID" {
			table.courseIDCol = i
			break
		}
	}
	if table.courseIDCol < 0 {
		return nil, fmt.Errorf("course data retrieval failed: %w", ErrCourseIDColumn)
	}

	values := make([]interface{}, len(columns))
	pointers := make([]interface{}, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("course data retrieval failed: %w", err)
		}
		record := make([]string, len(columns))
		for i, value := range values {
			record[i] = stringifyValue(value)
		}
		table.Rows = append(table.Rows, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("course data retrieval failed: %w", err)
	}

	e.logger.Info(fmt.Sprintf("Course data retrieved: %d rows", len(table.Rows)))
	return table, nil
}

// stringifyValue renders one scanned column value the way it should appear
// in the TSV output.
func stringifyValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// SliceAndUpload produces one artifact per course, in the order the course
// list query returned them. A course with no matching rows still yields a
// header-only artifact. One course's upload failure is logged and flagged
// but never blocks the remaining courses.
func (e *Exporter) SliceAndUpload(ctx context.Context, courses []Course, records *RecordTable) RunStatus {
	status := RunStatus{AllSliced: true, AllSaved: true}

	for _, course := range courses {
		name := fmt.Sprintf("%d - %s%s", course.ID, course.Name, e.tsv.Extension())

		e.logger.Info(fmt.Sprintf("Slicing: %s", name))
		payload := e.tsv.Format(records.Columns, records.RowsForCourse(course.ID))

		e.logger.Info(fmt.Sprintf("Saving to bucket: %s", name))
		if err := e.uploader.Upload(ctx, name, payload); err != nil {
			e.logger.Error(fmt.Sprintf("Failed to upload course data for %q: %v", name, err))
			status.AllSaved = false
			continue
		}
	}

	return status
}
