// Package camconfig loads CAM's hierarchical configuration: built-in
// defaults, then a global config file, then a project config file
// (discovered by walking up from the working directory), then CAM_*
// environment variables. Load takes no override argument; callers that
// need other values change fields of the Config it returns.
package camconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// GeneralConfig holds top-level settings. AutoConfirm and LogLevel are
// read by the CLI wiring; DefaultTool and DefaultTimeout are loaded but
// not read anywhere in this module (`cam run` uses its own flag defaults).
type GeneralConfig struct {
	DefaultTool    string `mapstructure:"defaultTool"`
	DefaultTimeout string `mapstructure:"defaultTimeout"`
	AutoConfirm    bool   `mapstructure:"autoConfirm"`
	LogLevel       string `mapstructure:"logLevel"`
}

// MonitorConfig tunes the supervision loop (§4.5) and probe (§4.4).
type MonitorConfig struct {
	PollInterval        int  `mapstructure:"pollInterval"`
	IdleTimeout         int  `mapstructure:"idleTimeout"`
	HealthCheckInterval int  `mapstructure:"healthCheckInterval"`
	ProbeDetection      bool `mapstructure:"probeDetection"`
	ProbeStableSeconds  int  `mapstructure:"probeStableSeconds"`
	ProbeCooldown       int  `mapstructure:"probeCooldown"`
}

// RetryConfig holds retry settings loaded from the `retry` section. Nothing
// in this module reads them; `cam run` uses model.DefaultRetryPolicy.
type RetryConfig struct {
	MaxRetries  int     `mapstructure:"maxRetries"`
	BackoffBase float64 `mapstructure:"backoffBase"`
	BackoffMax  float64 `mapstructure:"backoffMax"`
}

// SecurityConfig holds the token-encryption and sandbox switches loaded
// from the `security` section; nothing in this module reads them.
type SecurityConfig struct {
	EncryptTokens bool `mapstructure:"encryptTokens"`
	Sandbox       bool `mapstructure:"sandbox"`
}

// PathsConfig locates persisted state on disk.
type PathsConfig struct {
	DataDir string `mapstructure:"dataDir"`
	LogDir  string `mapstructure:"logDir"`
}

// ServerConfig configures the (out-of-scope) HTTP/WS front door; kept so the
// core's config surface matches what that layer would consume.
type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	AuthToken  string `mapstructure:"authToken"`
	LogLevel   string `mapstructure:"logLevel"`
	RelayURL   string `mapstructure:"relayUrl"`
	RelayToken string `mapstructure:"relayToken"`
}

// ToolConfig holds per-tool settings loaded from the `tools` map. No adapter
// reads them, so they do not change how a tool is launched or confirmed.
type ToolConfig struct {
	DefaultArgs         []string `mapstructure:"defaultArgs"`
	AutoConfirmPatterns []string `mapstructure:"autoConfirmPatterns"`
}

// Config is the root configuration object.
type Config struct {
	General  GeneralConfig         `mapstructure:"general"`
	Monitor  MonitorConfig         `mapstructure:"monitor"`
	Retry    RetryConfig           `mapstructure:"retry"`
	Security SecurityConfig        `mapstructure:"security"`
	Paths    PathsConfig           `mapstructure:"paths"`
	Server   ServerConfig          `mapstructure:"server"`
	Logging  LoggingConfig         `mapstructure:"logging"`
	Tools    map[string]ToolConfig `mapstructure:"tools"`
}

// LoggingConfig mirrors internal/logger.Config so it can be populated
// straight from the merged config tree.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

const (
	projectConfigRelPath = ".cam/config.yaml"
	envPrefix            = "CAM"
)

func globalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "cam")
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "cam")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.cam-data"
	}
	return filepath.Join(home, ".local", "share", "cam")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.defaultTool", "claude")
	v.SetDefault("general.defaultTimeout", "30m")
	v.SetDefault("general.autoConfirm", true)
	v.SetDefault("general.logLevel", "info")

	v.SetDefault("monitor.pollInterval", 2)
	v.SetDefault("monitor.idleTimeout", 1800)
	v.SetDefault("monitor.healthCheckInterval", 30)
	v.SetDefault("monitor.probeDetection", true)
	v.SetDefault("monitor.probeStableSeconds", 3)
	v.SetDefault("monitor.probeCooldown", 5)

	v.SetDefault("retry.maxRetries", 0)
	v.SetDefault("retry.backoffBase", 2.0)
	v.SetDefault("retry.backoffMax", 300.0)

	v.SetDefault("security.encryptTokens", true)
	v.SetDefault("security.sandbox", false)

	v.SetDefault("paths.dataDir", defaultDataDir())
	v.SetDefault("paths.logDir", filepath.Join(defaultDataDir(), "logs"))

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.logLevel", "info")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

func detectDefaultFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("CAM_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// findProjectConfig walks up from the working directory looking for
// .cam/config.yaml, returning its containing directory, or "" if not found.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, projectConfigRelPath)
		if _, err := os.Stat(candidate); err == nil {
			return filepath.Dir(candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Load merges built-in defaults, the global config file
// (~/.config/cam/config.yaml), a project config file discovered by walking
// up from the working directory, and CAM_* environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if global := globalConfigPath(); global != "" {
		v.AddConfigPath(global)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading global config: %w", err)
		}
	}

	if projectDir := findProjectConfig(); projectDir != "" {
		project := viper.New()
		project.SetConfigName("config")
		project.SetConfigType("yaml")
		project.AddConfigPath(projectDir)
		if err := project.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(project.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}
