// Package config builds a ProcessingConfig from command-line flags, an
// optional YAML overlay, and environment-variable fallbacks, then validates
// it before any task is submitted (spec section 7: configuration errors
// fail fast before work begins).
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"pushl/internal/domain/entity"
	pkgconfig "pushl/pkg/config"
)

// SeedURL is one positional URL argument, tagged with the entry/feed and
// websub-only modes in effect when it was encountered. -e and -s are
// running toggles over the rest of the argument list (spec section 6.1:
// "-e treat the following URLs as entries", "-s following URLs are
// WebSub-only"), so they may appear anywhere relative to other flags and
// URLs; stdlib flag.Parse cannot express that, hence the hand-rolled scan
// below.
type SeedURL struct {
	URL        string
	IsEntry    bool
	WebSubOnly bool
}

// ProcessingConfig holds everything a run needs, immutable once Parse
// returns (spec section 3).
type ProcessingConfig struct {
	Seeds []SeedURL

	CacheDir  string
	Recurse   bool
	Archive   bool
	Wayback   bool
	UserAgent string
	Timeout   time.Duration

	GlobalConcurrency int
	HostConcurrency   int
	HostRPS           float64
	HostRateBurst     int

	LogLevel  string // "warn", "info", or "debug", from -v/-vv
	LogFormat string // "text" or "json"

	MetricsAddr string
	ConfigFile  string
}

// fileOverlay mirrors the subset of ProcessingConfig that --config may
// supply as defaults; flags given on the command line always win.
type fileOverlay struct {
	CacheDir          string        `yaml:"cache_dir"`
	Recurse           bool          `yaml:"recurse"`
	Archive           bool          `yaml:"archive"`
	Wayback           bool          `yaml:"wayback"`
	UserAgent         string        `yaml:"user_agent"`
	Timeout           time.Duration `yaml:"timeout"`
	GlobalConcurrency int           `yaml:"global_concurrency"`
	HostConcurrency   int           `yaml:"host_concurrency"`
	HostRPS           float64       `yaml:"host_rps"`
	HostRateBurst     int           `yaml:"host_rate_burst"`
	LogFormat         string        `yaml:"log_format"`
	MetricsAddr       string        `yaml:"metrics_addr"`
}

const defaultUserAgent = "pushl/dev"

// defaults seeds every flag-settable field before the scan runs, so
// Validate and the overlay merge never have to distinguish "unset" from
// "set to the zero value" for fields without a meaningful zero default.
//
// Hardcoded fallbacks are themselves overridable by PUSHL_* environment
// variables, one rung below a flag or --config entry, for operators who
// run pushl the same way repeatedly (cron, CI) and would rather set an
// env var once than repeat flags on every invocation.
func defaults() *ProcessingConfig {
	return &ProcessingConfig{
		Timeout:           pkgconfig.GetEnvDuration("PUSHL_TIMEOUT", 30*time.Second),
		GlobalConcurrency: pkgconfig.GetEnvInt("PUSHL_GLOBAL_CONCURRENCY", 100),
		HostConcurrency:   pkgconfig.GetEnvInt("PUSHL_HOST_CONCURRENCY", 4),
		HostRateBurst:     1,
		Recurse:           pkgconfig.GetEnvBool("PUSHL_RECURSE", false),
		Archive:           pkgconfig.GetEnvBool("PUSHL_ARCHIVE", false),
		Wayback:           pkgconfig.GetEnvBool("PUSHL_WAYBACK", false),
		LogFormat:         "text",
		LogLevel:          "warn",
	}
}

// explicitFlag records which long-form flags the user actually passed, so
// applyOverlay knows not to clobber them with file-provided defaults.
type explicitFlag map[string]bool

// Parse builds a ProcessingConfig from argv (excluding the program name).
// It fails fast on malformed flags or an unreadable --config file, per
// spec section 7's "configuration error" category.
func Parse(argv []string) (*ProcessingConfig, error) {
	cfg := defaults()
	set := explicitFlag{}
	isEntry, webSubOnly := false, false

	i := 0
	next := func(flagName string) (string, error) {
		i++
		if i >= len(argv) {
			return "", fmt.Errorf("flag %s requires a value", flagName)
		}
		return argv[i], nil
	}

	for ; i < len(argv); i++ {
		arg := argv[i]
		switch arg {
		case "-e":
			isEntry = true
		case "-s":
			webSubOnly = true
		case "-r":
			cfg.Recurse = true
			set["r"] = true
		case "-a":
			cfg.Archive = true
			set["a"] = true
		case "-k":
			cfg.Wayback = true
			set["k"] = true
		case "-v":
			cfg.LogLevel = "info"
		case "-vv":
			cfg.LogLevel = "debug"
		case "-c":
			v, err := next(arg)
			if err != nil {
				return nil, err
			}
			cfg.CacheDir = v
			set["c"] = true
		case "--user-agent":
			v, err := next(arg)
			if err != nil {
				return nil, err
			}
			cfg.UserAgent = v
			set["user-agent"] = true
		case "--timeout":
			v, err := next(arg)
			if err != nil {
				return nil, err
			}
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid --timeout %q: %w", v, err)
			}
			cfg.Timeout = d
			set["timeout"] = true
		case "--global-concurrency":
			v, err := next(arg)
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid --global-concurrency %q: %w", v, err)
			}
			cfg.GlobalConcurrency = n
			set["global-concurrency"] = true
		case "--host-concurrency":
			v, err := next(arg)
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid --host-concurrency %q: %w", v, err)
			}
			cfg.HostConcurrency = n
			set["host-concurrency"] = true
		case "--host-rps":
			v, err := next(arg)
			if err != nil {
				return nil, err
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid --host-rps %q: %w", v, err)
			}
			cfg.HostRPS = f
			set["host-rps"] = true
		case "--host-rate-burst":
			v, err := next(arg)
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid --host-rate-burst %q: %w", v, err)
			}
			cfg.HostRateBurst = n
			set["host-rate-burst"] = true
		case "--metrics-addr":
			v, err := next(arg)
			if err != nil {
				return nil, err
			}
			cfg.MetricsAddr = v
			set["metrics-addr"] = true
		case "--log-format":
			v, err := next(arg)
			if err != nil {
				return nil, err
			}
			cfg.LogFormat = v
			set["log-format"] = true
		case "--config":
			v, err := next(arg)
			if err != nil {
				return nil, err
			}
			cfg.ConfigFile = v
		default:
			if len(arg) > 0 && arg[0] == '-' {
				return nil, fmt.Errorf("unrecognized flag %q", arg)
			}
			cfg.Seeds = append(cfg.Seeds, SeedURL{URL: arg, IsEntry: isEntry, WebSubOnly: webSubOnly})
		}
	}

	if cfg.ConfigFile != "" {
		if err := applyOverlay(cfg, cfg.ConfigFile, set); err != nil {
			return nil, err
		}
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = pkgconfig.GetEnvString("PUSHL_USER_AGENT", defaultUserAgent)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverlay fills in any field the user did not pass explicitly on the
// command line from the YAML file at path.
func applyOverlay(cfg *ProcessingConfig, path string, set explicitFlag) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config file %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if !set["c"] && overlay.CacheDir != "" {
		cfg.CacheDir = overlay.CacheDir
	}
	if !set["r"] {
		cfg.Recurse = cfg.Recurse || overlay.Recurse
	}
	if !set["a"] {
		cfg.Archive = cfg.Archive || overlay.Archive
	}
	if !set["k"] {
		cfg.Wayback = cfg.Wayback || overlay.Wayback
	}
	if !set["user-agent"] && overlay.UserAgent != "" {
		cfg.UserAgent = overlay.UserAgent
	}
	if !set["timeout"] && overlay.Timeout > 0 {
		cfg.Timeout = overlay.Timeout
	}
	if !set["global-concurrency"] && overlay.GlobalConcurrency > 0 {
		cfg.GlobalConcurrency = overlay.GlobalConcurrency
	}
	if !set["host-concurrency"] && overlay.HostConcurrency > 0 {
		cfg.HostConcurrency = overlay.HostConcurrency
	}
	if !set["host-rps"] && overlay.HostRPS > 0 {
		cfg.HostRPS = overlay.HostRPS
	}
	if !set["host-rate-burst"] && overlay.HostRateBurst > 0 {
		cfg.HostRateBurst = overlay.HostRateBurst
	}
	if !set["log-format"] && overlay.LogFormat != "" {
		cfg.LogFormat = overlay.LogFormat
	}
	if !set["metrics-addr"] && overlay.MetricsAddr != "" {
		cfg.MetricsAddr = overlay.MetricsAddr
	}

	return nil
}

// Validate checks the config is internally consistent, failing fast before
// any task is submitted (spec section 7).
func (c *ProcessingConfig) Validate() error {
	if len(c.Seeds) == 0 {
		return &entity.ValidationError{Field: "seeds", Message: "no seed URLs given"}
	}
	if err := pkgconfig.ValidatePositiveDuration(c.Timeout); err != nil {
		return &entity.ValidationError{Field: "timeout", Message: err.Error()}
	}
	if c.GlobalConcurrency <= 0 {
		return &entity.ValidationError{Field: "global-concurrency", Message: fmt.Sprintf("must be positive, got %d", c.GlobalConcurrency)}
	}
	if c.HostConcurrency <= 0 {
		return &entity.ValidationError{Field: "host-concurrency", Message: fmt.Sprintf("must be positive, got %d", c.HostConcurrency)}
	}
	if c.HostConcurrency > c.GlobalConcurrency {
		return &entity.ValidationError{Field: "host-concurrency", Message: fmt.Sprintf("%d cannot exceed --global-concurrency (%d)", c.HostConcurrency, c.GlobalConcurrency)}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return &entity.ValidationError{Field: "log-format", Message: fmt.Sprintf("must be text or json, got %q", c.LogFormat)}
	}
	if c.CacheDir != "" {
		info, err := os.Stat(c.CacheDir)
		if err != nil {
			return &entity.ValidationError{Field: "cache-dir", Message: err.Error()}
		}
		if !info.IsDir() {
			return &entity.ValidationError{Field: "cache-dir", Message: fmt.Sprintf("%s is not a directory", c.CacheDir)}
		}
	}
	return nil
}
