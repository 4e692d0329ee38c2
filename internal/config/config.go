package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is stamped into the default client fingerprint.
var Version = "dev"

type Config struct {
	SocketPath  string           `yaml:"socket_path" validate:"required"`
	DBPath      string           `yaml:"db_path" validate:"required"`
	SessionID   string           `yaml:"session_id" validate:"required,max=128"`
	ShellURL    string           `yaml:"shell_url" validate:"required,url"`
	UserAgent   string           `yaml:"user_agent" validate:"required"`
	APIBaseURL  string           `yaml:"api_base_url" validate:"required,url"`
	APIToken    string           `yaml:"api_token"`
	APIRoles    []string         `yaml:"api_roles"`
	LogLevel    string           `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat   string           `yaml:"log_format" validate:"oneof=text json"`
	Tracing     bool             `yaml:"tracing"`
	Lifecycle   LifecycleConfig  `yaml:"lifecycle"`
	Navigation  NavigationConfig `yaml:"navigation"`
	Features    FeatureConfig    `yaml:"features"`
	SessionIdle time.Duration    `yaml:"session_idle_ttl" validate:"gt=0"`
	// DependencyDelay postpones registration of the built-in router
	// dependencies, reproducing late-loading scripts.
	DependencyDelay time.Duration `yaml:"dependency_delay" validate:"gte=0"`
}

type LifecycleConfig struct {
	MaxRetries           int           `yaml:"max_retries" validate:"gte=1,lte=50"`
	RetryDelayBase       time.Duration `yaml:"retry_delay_base" validate:"gte=0"`
	Timeout              time.Duration `yaml:"timeout" validate:"gt=0"`
	SnapshotTTL          time.Duration `yaml:"snapshot_ttl" validate:"gt=0"`
	RequiredDependencies []string      `yaml:"required_dependencies" validate:"min=1,dive,required"`
}

type NavigationConfig struct {
	AppName     string   `yaml:"app_name" validate:"required"`
	DefaultPage string   `yaml:"default_page" validate:"required"`
	LoginPage   string   `yaml:"login_page" validate:"required"`
	AdminPages  []string `yaml:"admin_pages" validate:"dive,required"`
	AdminRoles  []string `yaml:"admin_roles" validate:"min=1,dive,required"`
}

type FeatureConfig struct {
	AuthWait            time.Duration `yaml:"auth_wait" validate:"gte=0"`
	AuthPoll            time.Duration `yaml:"auth_poll" validate:"gt=0"`
	ContainerRetries    int           `yaml:"container_retries" validate:"gte=0,lte=20"`
	ContainerRetryDelay time.Duration `yaml:"container_retry_delay" validate:"gte=0"`
	RequestTimeout      time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{
		SocketPath: defaultSocketPath(),
		DBPath:     defaultDBPath(),
		SessionID:  "default",
		ShellURL:   "http://localhost:3000/",
		UserAgent:  fmt.Sprintf("riskdesk/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH),
		APIBaseURL: "http://localhost:3000",
		LogLevel:   "info",
		LogFormat:  "text",
		Lifecycle: LifecycleConfig{
			MaxRetries:     3,
			RetryDelayBase: 1 * time.Second,
			Timeout:        10 * time.Second,
			SnapshotTTL:    5 * time.Minute,
			RequiredDependencies: []string{
				"RouterFactory",
				"AuthGuardFactory",
				"RouteConfig",
			},
		},
		Navigation: NavigationConfig{
			AppName:     "PINTAR MR",
			DefaultPage: "dashboard",
			LoginPage:   "login",
			AdminPages:  []string{"pengaturan", "user-management"},
			AdminRoles:  []string{"admin", "superadmin"},
		},
		Features: FeatureConfig{
			AuthWait:            5 * time.Second,
			AuthPoll:            100 * time.Millisecond,
			ContainerRetries:    3,
			ContainerRetryDelay: 200 * time.Millisecond,
			RequestTimeout:      10 * time.Second,
		},
		SessionIdle: 12 * time.Hour,
	}
}

func defaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "riskdesk", "riskdeskd.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".riskdeskd.sock"
	}
	return filepath.Join(home, ".local", "state", "riskdesk", "riskdeskd.sock")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "riskdesk.db"
	}
	return filepath.Join(home, ".local", "state", "riskdesk", "session.db")
}
