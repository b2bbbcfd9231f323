package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	// Zone data for TIMEZONE on hosts without a zoneinfo database.
	_ "time/tzdata"
)

type Config struct {
	ListenAddr   string
	LogLevel     string
	LogFile      string
	LogFormat    string
	MaxBodyBytes int64

	TableBackend string
	DBPath       string
	XLSXPath     string

	LogSheet                 string
	RoomsSheet               string
	ReservationsSheet        string
	RoomHeader               string
	RoomFolderHeader         string
	CheckinFolderHeader      string
	CheckoutFolderHeader     string
	ReservationCodeHeader    string
	ReservationLogCodeHeader string
	LineUserHeader           string

	DefaultFolder  string
	BlobBackend    string
	BlobLocalPath  string
	PublicBaseURL  string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	CacheBackend   string
	LockBackend    string
	RedisURL       string
	FolderCacheTTL time.Duration

	TemplatePath string
	ChromePath   string
	Timezone     string

	LineToken  string
	LineAPIURL string
	WelcomeURL string
}

func Load() *Config {
	return &Config{
		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFile:      getEnv("LOG_FILE", ""),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		MaxBodyBytes: int64(getEnvInt("MAX_BODY_BYTES", 64<<20)),

		TableBackend: getEnv("TABLE_BACKEND", "sqlite"),
		DBPath:       getEnv("DB_PATH", "/data/checkin.db"),
		XLSXPath:     getEnv("XLSX_PATH", "/data/checkin.xlsx"),

		LogSheet:                 getEnv("CHECKIN_LOG_SHEET", "Checkin_Log"),
		RoomsSheet:               getEnv("ROOMS_SHEET", "Rooms"),
		ReservationsSheet:        getEnv("RESERVATIONS_SHEET", "Sheet1"),
		RoomHeader:               getEnv("ROOM_HEADER", "RoomID"),
		RoomFolderHeader:         getEnv("ROOM_FOLDER_HEADER", "RoomFolderId"),
		CheckinFolderHeader:      getEnv("CHECKIN_FOLDER_HEADER", "CheckInFolderId"),
		CheckoutFolderHeader:     getEnv("CHECKOUT_FOLDER_HEADER", "CheckOutFolderId"),
		ReservationCodeHeader:    getEnv("RESERVATION_CODE_HEADER", "Hg Code"),
		ReservationLogCodeHeader: getEnv("RESERVATION_LOG_CODE_HEADER", "รหัสการจอง"),
		LineUserHeader:           getEnv("LINE_USER_HEADER", "Line User ID"),

		DefaultFolder:  getEnv("DEFAULT_FOLDER", "checkin-default-folder"),
		BlobBackend:    getEnv("BLOB_BACKEND", "local"),
		BlobLocalPath:  getEnv("BLOB_LOCAL_PATH", "/data/blobs"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "checkin"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", true),

		CacheBackend:   getEnv("CACHE_BACKEND", "memory"),
		LockBackend:    getEnv("LOCK_BACKEND", "memory"),
		RedisURL:       getEnv("REDIS_URL", ""),
		FolderCacheTTL: time.Duration(getEnvInt("FOLDER_CACHE_TTL_SECONDS", 600)) * time.Second,

		TemplatePath: getEnv("TEMPLATE_PATH", ""),
		ChromePath:   getEnv("CHROME_PATH", ""),
		Timezone:     getEnv("TIMEZONE", "Asia/Bangkok"),

		LineToken:  getEnv("LINE_TOKEN", ""),
		LineAPIURL: getEnv("LINE_API_URL", ""),
		WelcomeURL: getEnv("WELCOME_URL", ""),
	}
}

// Validate reports every unusable setting at once.
func (c *Config) Validate() error {
	var errs []error
	if !oneOf(c.TableBackend, "sqlite", "xlsx", "memory") {
		errs = append(errs, fmt.Errorf("unknown TABLE_BACKEND %q", c.TableBackend))
	}
	if !oneOf(c.BlobBackend, "local", "minio") {
		errs = append(errs, fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend))
	}
	if c.BlobBackend == "minio" && (c.MinioEndpoint == "" || c.MinioAccessKey == "" || c.MinioSecretKey == "") {
		errs = append(errs, errors.New("BLOB_BACKEND=minio requires MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY"))
	}
	if !oneOf(c.CacheBackend, "memory", "redis") {
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend))
	}
	if !oneOf(c.LockBackend, "memory", "redis") {
		errs = append(errs, fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend))
	}
	if (c.CacheBackend == "redis" || c.LockBackend == "redis") && c.RedisURL == "" {
		errs = append(errs, errors.New("redis cache or lock requires REDIS_URL"))
	}
	if !oneOf(c.LogFormat, "json", "text") {
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("bad TIMEZONE: %w", err))
	}
	if strings.TrimSpace(c.DefaultFolder) == "" {
		errs = append(errs, errors.New("DEFAULT_FOLDER must not be empty"))
	}
	if c.FolderCacheTTL <= 0 {
		errs = append(errs, errors.New("FOLDER_CACHE_TTL_SECONDS must be positive"))
	}
	return errors.Join(errs...)
}

// Location returns the configured time zone, or UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return b
}
