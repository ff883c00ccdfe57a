package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config contains all runtime configuration.
//
// Sources, lowest precedence first: defaults, the TOML file, GYMCHAT_* environment
// variables, command line flags (applied by cmd/gymchat).
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	// Cache.
	CacheCapacity    int
	HistoryPageSize  int
	FetchTimeout     time.Duration
	SendTimeout      time.Duration
	StrictInvariants bool
	SelfName         string

	// Realtime transport. An empty URL selects the in-process loopback transport.
	RealtimeURL        string
	RealtimeOrigin     string
	RealtimeToken      string
	AllowInsecureToken bool

	// Room directory. With a database URL and a user the directory is read from Postgres,
	// otherwise from Rooms ("id[:kind[:title]]" entries).
	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	DBSchema      string
	DirectoryUser string
	Rooms         []string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// Origin policy of the change stream (GET /api/events).
	EventsOriginRequired bool
	EventsAllowedOrigins []string
}

const (
	maxHistoryPageSize = 200

	LogFormatJSON   = "json"
	LogFormatPretty = "pretty"
)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: LogFormatJSON,

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxHeaderBytes:    1 << 20,

		CacheCapacity:   20,
		HistoryPageSize: 50,
		FetchTimeout:    15 * time.Second,
		SendTimeout:     10 * time.Second,
		SelfName:        "me",

		DBMaxConns: 4,
		DBSchema:   "gymchat",

		Rooms: []string{"general:messaging:General", "trainers:team:Trainers", "front-desk:team:Front desk"},
	}
}

// fileConfig is the TOML shape. Durations are Go duration strings ("15s").
type fileConfig struct {
	HTTP struct {
		Addr              string `toml:"addr"`
		ReadHeaderTimeout string `toml:"read_header_timeout"`
		ReadTimeout       string `toml:"read_timeout"`
		WriteTimeout      string `toml:"write_timeout"`
		IdleTimeout       string `toml:"idle_timeout"`
		ShutdownTimeout   string `toml:"shutdown_timeout"`
		MaxHeaderBytes    int    `toml:"max_header_bytes"`
	} `toml:"http"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
	Cache struct {
		Capacity         int    `toml:"capacity"`
		PageSize         int    `toml:"page_size"`
		FetchTimeout     string `toml:"fetch_timeout"`
		SendTimeout      string `toml:"send_timeout"`
		StrictInvariants *bool  `toml:"strict_invariants"`
		SelfName         string `toml:"self_name"`
	} `toml:"cache"`
	Realtime struct {
		URL                string `toml:"url"`
		Origin             string `toml:"origin"`
		Token              string `toml:"token"`
		AllowInsecureToken *bool  `toml:"allow_insecure_token"`
	} `toml:"realtime"`
	Database struct {
		URL                string `toml:"url"`
		MaxConns           int32  `toml:"max_conns"`
		MinConns           int32  `toml:"min_conns"`
		Schema             string `toml:"schema"`
		ReadinessRequireDB *bool  `toml:"readiness_require_db"`
	} `toml:"database"`
	Directory struct {
		User  string   `toml:"user"`
		Rooms []string `toml:"rooms"`
	} `toml:"directory"`
	Events struct {
		OriginRequired *bool    `toml:"origin_required"`
		AllowedOrigins []string `toml:"allowed_origins"`
	} `toml:"events"`
}

// LoadConfig builds a Config from defaults, the optional TOML file at path
// (GYMCHAT_CONFIG when path is empty) and the environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = EnvString("GYMCHAT_CONFIG", "")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := applyTOML(&cfg, data); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyTOML(cfg *Config, data []byte) error {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return err
	}

	setString(&cfg.HTTPAddr, fc.HTTP.Addr)
	setInt(&cfg.MaxHeaderBytes, fc.HTTP.MaxHeaderBytes)
	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)

	setInt(&cfg.CacheCapacity, fc.Cache.Capacity)
	setInt(&cfg.HistoryPageSize, fc.Cache.PageSize)
	setBool(&cfg.StrictInvariants, fc.Cache.StrictInvariants)
	setString(&cfg.SelfName, fc.Cache.SelfName)

	setString(&cfg.RealtimeURL, fc.Realtime.URL)
	setString(&cfg.RealtimeOrigin, fc.Realtime.Origin)
	setString(&cfg.RealtimeToken, fc.Realtime.Token)
	setBool(&cfg.AllowInsecureToken, fc.Realtime.AllowInsecureToken)

	setString(&cfg.DatabaseURL, fc.Database.URL)
	if fc.Database.MaxConns > 0 {
		cfg.DBMaxConns = fc.Database.MaxConns
	}
	if fc.Database.MinConns > 0 {
		cfg.DBMinConns = fc.Database.MinConns
	}
	setString(&cfg.DBSchema, fc.Database.Schema)
	setBool(&cfg.ReadinessRequireDB, fc.Database.ReadinessRequireDB)

	setString(&cfg.DirectoryUser, fc.Directory.User)
	if fc.Directory.Rooms != nil {
		cfg.Rooms = fc.Directory.Rooms
	}

	setBool(&cfg.EventsOriginRequired, fc.Events.OriginRequired)
	if fc.Events.AllowedOrigins != nil {
		cfg.EventsAllowedOrigins = fc.Events.AllowedOrigins
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"http.read_header_timeout", fc.HTTP.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"http.read_timeout", fc.HTTP.ReadTimeout, &cfg.ReadTimeout},
		{"http.write_timeout", fc.HTTP.WriteTimeout, &cfg.WriteTimeout},
		{"http.idle_timeout", fc.HTTP.IdleTimeout, &cfg.IdleTimeout},
		{"http.shutdown_timeout", fc.HTTP.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"cache.fetch_timeout", fc.Cache.FetchTimeout, &cfg.FetchTimeout},
		{"cache.send_timeout", fc.Cache.SendTimeout, &cfg.SendTimeout},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = EnvString("GYMCHAT_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = EnvString("GYMCHAT_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("GYMCHAT_LOG_FORMAT", cfg.LogFormat)

	cfg.ReadHeaderTimeout = EnvDuration("GYMCHAT_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("GYMCHAT_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = EnvDuration("GYMCHAT_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = EnvDuration("GYMCHAT_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.ShutdownTimeout = EnvDuration("GYMCHAT_HTTP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.MaxHeaderBytes = EnvInt("GYMCHAT_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)

	cfg.CacheCapacity = EnvInt("GYMCHAT_CACHE_CAPACITY", cfg.CacheCapacity)
	cfg.HistoryPageSize = EnvInt("GYMCHAT_HISTORY_PAGE_SIZE", cfg.HistoryPageSize)
	cfg.FetchTimeout = EnvDuration("GYMCHAT_FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.SendTimeout = EnvDuration("GYMCHAT_SEND_TIMEOUT", cfg.SendTimeout)
	cfg.StrictInvariants = EnvBool("GYMCHAT_STRICT_INVARIANTS", cfg.StrictInvariants)
	cfg.SelfName = EnvString("GYMCHAT_SELF_NAME", cfg.SelfName)

	cfg.RealtimeURL = EnvString("GYMCHAT_REALTIME_URL", cfg.RealtimeURL)
	cfg.RealtimeOrigin = EnvString("GYMCHAT_REALTIME_ORIGIN", cfg.RealtimeOrigin)
	cfg.RealtimeToken = EnvString("GYMCHAT_REALTIME_TOKEN", cfg.RealtimeToken)
	cfg.AllowInsecureToken = EnvBool("GYMCHAT_REALTIME_ALLOW_INSECURE_TOKEN", cfg.AllowInsecureToken)

	cfg.DatabaseURL = EnvString("GYMCHAT_DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMaxConns = EnvInt32("GYMCHAT_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("GYMCHAT_DB_MIN_CONNS", cfg.DBMinConns)
	cfg.DBSchema = EnvString("GYMCHAT_DB_SCHEMA", cfg.DBSchema)
	cfg.DirectoryUser = EnvString("GYMCHAT_DIRECTORY_USER", cfg.DirectoryUser)
	cfg.Rooms = EnvCSV("GYMCHAT_ROOMS", cfg.Rooms)

	cfg.ReadinessRequireDB = EnvBool("GYMCHAT_READINESS_REQUIRE_DB", cfg.ReadinessRequireDB)

	cfg.EventsOriginRequired = EnvBool("GYMCHAT_EVENTS_ORIGIN_REQUIRED", cfg.EventsOriginRequired)
	cfg.EventsAllowedOrigins = EnvCSV("GYMCHAT_EVENTS_ALLOWED_ORIGINS", cfg.EventsAllowedOrigins)
}

// Validate rejects configurations the runtime cannot honor.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http addr is empty"))
	}
	switch c.LogFormat {
	case LogFormatJSON, LogFormatPretty:
	default:
		errs = append(errs, fmt.Errorf("log format must be %q or %q, got %q", LogFormatJSON, LogFormatPretty, c.LogFormat))
	}
	if c.CacheCapacity < 1 {
		errs = append(errs, fmt.Errorf("cache capacity must be >= 1, got %d", c.CacheCapacity))
	}
	if c.HistoryPageSize < 1 || c.HistoryPageSize > maxHistoryPageSize {
		errs = append(errs, fmt.Errorf("history page size must be in 1..%d, got %d", maxHistoryPageSize, c.HistoryPageSize))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch timeout must be > 0"))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, errors.New("send timeout must be > 0"))
	}
	if c.RealtimeURL != "" {
		u, err := url.Parse(c.RealtimeURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			errs = append(errs, fmt.Errorf("realtime url must be ws:// or wss://, got %q", c.RealtimeURL))
		}
	}
	if c.DBMinConns > c.DBMaxConns && c.DBMaxConns > 0 {
		errs = append(errs, fmt.Errorf("db min conns (%d) exceeds max conns (%d)", c.DBMinConns, c.DBMaxConns))
	}
	if c.DirectoryUser != "" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("directory user requires a database url"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
