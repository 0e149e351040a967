package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/sentinel/pkg/types"
	"github.com/juju/utils/v4"
	"gopkg.in/yaml.v3"
)

const (
	ModeManual = "manual"
	ModeAuto   = "auto"

	PolicyManual   = "manual"
	PolicyPatch    = "patch"
	PolicyAnyNewer = "any"
)

// Config is the complete sentinel configuration. It is loaded once and
// handed by value to the components that need a slice of it.
type Config struct {
	Mode          string `yaml:"mode"`
	AutoPolicy    string `yaml:"auto_policy"`
	ContainerMode bool   `yaml:"container_mode"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
	LogDir   string `yaml:"log_dir"`

	DataDir   string `yaml:"data_dir"`
	BackupDir string `yaml:"backup_dir"`
	StoryHome string `yaml:"story_home"`
	DBPath    string `yaml:"db_path"`

	CheckInterval       time.Duration `yaml:"check_interval"`
	UpdateCheckInterval time.Duration `yaml:"update_check_interval"`
	MaxUpgradeDuration  time.Duration `yaml:"max_upgrade_duration"`
	BackupRetentionDays int           `yaml:"backup_retention_days"`

	APIHost      string   `yaml:"api_host"`
	APIPort      int      `yaml:"api_port"`
	APIAllow     []string `yaml:"api_allow,omitempty"`
	APIRateLimit float64  `yaml:"api_rate_limit"`
	CalendarName string   `yaml:"calendar_name"`
	GitHubToken  string   `yaml:"github_token,omitempty"`

	Story     ServiceConfig `yaml:"story"`
	StoryGeth ServiceConfig `yaml:"story_geth"`

	Thresholds    ThresholdConfig    `yaml:"thresholds"`
	Maintenance   MaintenanceConfig  `yaml:"maintenance"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// ServiceConfig describes one node process
type ServiceConfig struct {
	BinaryPath      string   `yaml:"binary_path"`
	ServiceName     string   `yaml:"service_name"`
	ProcessName     string   `yaml:"process_name,omitempty"`
	RPCPort         int      `yaml:"rpc_port"`
	RPCHost         string   `yaml:"rpc_host,omitempty"`
	VersionArgs     []string `yaml:"version_args,omitempty"`
	GitHubRepo      string   `yaml:"github_repo"`
	ArtifactPattern string   `yaml:"artifact_pattern,omitempty"`
	BuildCommand    []string `yaml:"build_command,omitempty"`
	BuildOutput     string   `yaml:"build_output,omitempty"`
}

// ThresholdConfig holds the health gating limits
type ThresholdConfig struct {
	HeightGap            int           `yaml:"height_gap"`
	MinPeers             int           `yaml:"min_peers"`
	IsolationPeers       int           `yaml:"isolation_peers"`
	BlockTimeVariance    time.Duration `yaml:"block_time_variance"`
	MemoryLimitGB        float64       `yaml:"memory_limit_gb"`
	DiskSpaceMinGB       float64       `yaml:"disk_space_min_gb"`
	DiskCriticalGB       float64       `yaml:"disk_critical_gb"`
	PreflightDiskGB      float64       `yaml:"preflight_disk_gb"`
	MinMemoryAvailableGB float64       `yaml:"min_memory_available_gb"`
	MaxCPUPercent        float64       `yaml:"max_cpu_percent"`
	ProbeTimeout         time.Duration `yaml:"probe_timeout"`
}

// MaintenanceConfig controls default upgrade windows
type MaintenanceConfig struct {
	WindowHour        int           `yaml:"window_hour"`
	WindowMinute      int           `yaml:"window_minute"`
	ConflictBuffer    time.Duration `yaml:"conflict_buffer"`
	ConsensusDuration time.Duration `yaml:"consensus_duration"`
	ExecutionDuration time.Duration `yaml:"execution_duration"`
	BlockTime         time.Duration `yaml:"block_time"`
}

// NotificationConfig holds webhook credentials
type NotificationConfig struct {
	DiscordWebhook   string `yaml:"discord_webhook,omitempty"`
	TelegramBotToken string `yaml:"telegram_bot_token,omitempty"`
	TelegramChatID   string `yaml:"telegram_chat_id,omitempty"`

	// MinSeverity drops forwarded events below info, warning or critical.
	// Empty forwards everything.
	MinSeverity string `yaml:"min_severity,omitempty"`
}

// DefaultPath returns ~/.story-sentinel/config.yaml
func DefaultPath() string {
	return filepath.Join(homeDir(), ".story-sentinel", "config.yaml")
}

// Default returns the built-in configuration
func Default() *Config {
	home := homeDir()
	dataDir := filepath.Join(home, ".story-sentinel")

	return &Config{
		Mode:                ModeManual,
		AutoPolicy:          PolicyManual,
		LogLevel:            "info",
		LogDir:              "/var/log/story-sentinel",
		DataDir:             dataDir,
		BackupDir:           "/var/lib/story-sentinel/backups",
		StoryHome:           filepath.Join(home, ".story"),
		DBPath:              filepath.Join(dataDir, "sentinel.db"),
		CheckInterval:       300 * time.Second,
		UpdateCheckInterval: time.Hour,
		MaxUpgradeDuration:  30 * time.Minute,
		BackupRetentionDays: 30,
		APIHost:             "0.0.0.0",
		APIPort:             8080,
		APIRateLimit:        10,
		CalendarName:        "Story Sentinel Upgrades",
		Story: ServiceConfig{
			BinaryPath:      "/usr/local/bin/story",
			ServiceName:     "story",
			RPCPort:         26657,
			VersionArgs:     []string{"version"},
			GitHubRepo:      "piplabs/story",
			ArtifactPattern: "https://github.com/{repo}/releases/download/{tag}/story_v{version}_linux_{arch}.tar.gz",
			BuildCommand:    []string{"go", "build", "-o", "story", "./client"},
			BuildOutput:     "story",
		},
		StoryGeth: ServiceConfig{
			BinaryPath:      "/usr/local/bin/story-geth",
			ServiceName:     "story-geth",
			RPCPort:         8545,
			VersionArgs:     []string{"version"},
			GitHubRepo:      "piplabs/story-geth",
			ArtifactPattern: "https://github.com/{repo}/releases/download/{tag}/geth_v{version}_linux_{arch}.tar.gz",
			BuildCommand:    []string{"make", "geth"},
			BuildOutput:     "build/bin/geth",
		},
		Thresholds: ThresholdConfig{
			HeightGap:            20,
			MinPeers:             5,
			IsolationPeers:       3,
			BlockTimeVariance:    10 * time.Second,
			MemoryLimitGB:        8,
			DiskSpaceMinGB:       10,
			DiskCriticalGB:       5,
			PreflightDiskGB:      5,
			MinMemoryAvailableGB: 2,
			MaxCPUPercent:        90,
			ProbeTimeout:         5 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			WindowHour:        2,
			ConflictBuffer:    30 * time.Minute,
			ConsensusDuration: 15 * time.Minute,
			ExecutionDuration: 10 * time.Minute,
			BlockTime:         5 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults and then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides file values with environment variables
func (c *Config) applyEnv() {
	c.Story.BinaryPath = getEnv("STORY_BINARY_PATH", c.Story.BinaryPath)
	c.Story.ServiceName = getEnv("STORY_SERVICE_NAME", c.Story.ServiceName)
	c.Story.RPCPort = getEnvInt("STORY_RPC_PORT", c.Story.RPCPort)
	c.StoryGeth.BinaryPath = getEnv("STORY_GETH_BINARY_PATH", c.StoryGeth.BinaryPath)
	c.StoryGeth.ServiceName = getEnv("STORY_GETH_SERVICE_NAME", c.StoryGeth.ServiceName)
	c.StoryGeth.RPCPort = getEnvInt("STORY_GETH_RPC_PORT", c.StoryGeth.RPCPort)

	c.Thresholds.HeightGap = getEnvInt("SENTINEL_HEIGHT_GAP", c.Thresholds.HeightGap)
	c.Thresholds.MinPeers = getEnvInt("SENTINEL_MIN_PEERS", c.Thresholds.MinPeers)
	c.Thresholds.BlockTimeVariance = getEnvDuration("SENTINEL_BLOCK_TIME_VARIANCE", c.Thresholds.BlockTimeVariance)
	c.Thresholds.MemoryLimitGB = getEnvFloat("SENTINEL_MEMORY_LIMIT_GB", c.Thresholds.MemoryLimitGB)
	c.Thresholds.DiskSpaceMinGB = getEnvFloat("SENTINEL_DISK_SPACE_MIN_GB", c.Thresholds.DiskSpaceMinGB)

	c.Notifications.DiscordWebhook = getEnv("DISCORD_WEBHOOK", c.Notifications.DiscordWebhook)
	c.Notifications.TelegramBotToken = getEnv("TG_BOT_TOKEN", c.Notifications.TelegramBotToken)
	c.Notifications.TelegramChatID = getEnv("TG_CHAT_ID", c.Notifications.TelegramChatID)
	c.Notifications.MinSeverity = getEnv("NOTIFY_MIN_SEVERITY", c.Notifications.MinSeverity)

	c.Mode = getEnv("MODE", c.Mode)
	c.AutoPolicy = getEnv("AUTO_POLICY", c.AutoPolicy)
	c.ContainerMode = getEnvBool("CONTAINER_MODE", c.ContainerMode)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.BackupRetentionDays = getEnvInt("BACKUP_RETENTION_DAYS", c.BackupRetentionDays)
	c.MaxUpgradeDuration = getEnvDuration("MAX_UPGRADE_DURATION", c.MaxUpgradeDuration)
	c.CheckInterval = getEnvDuration("CHECK_INTERVAL", c.CheckInterval)
	c.UpdateCheckInterval = getEnvDuration("UPDATE_CHECK_INTERVAL", c.UpdateCheckInterval)
	c.APIHost = getEnv("API_HOST", c.APIHost)
	c.APIPort = getEnvInt("API_PORT", c.APIPort)
	c.APIRateLimit = getEnvFloat("API_RATE_LIMIT", c.APIRateLimit)
	c.CalendarName = getEnv("CALENDAR_NAME", c.CalendarName)
	c.GitHubToken = getEnv("GITHUB_TOKEN", c.GitHubToken)

	dataDir := getEnv("DATA_DIR", "")
	if dataDir != "" {
		c.DataDir = dataDir
		c.DBPath = filepath.Join(dataDir, "sentinel.db")
	}
	c.StoryHome = getEnv("STORY_HOME", c.StoryHome)
	c.BackupDir = getEnv("BACKUP_DIR", c.BackupDir)
	c.LogDir = getEnv("LOG_DIR", c.LogDir)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
}

// Validate checks the configuration for values the sentinel cannot run with.
// All problems are reported together.
func (c *Config) Validate() error {
	var problems []string

	if c.Mode != ModeAuto && c.Mode != ModeManual {
		problems = append(problems, fmt.Sprintf("invalid mode %q (must be 'auto' or 'manual')", c.Mode))
	}
	switch c.AutoPolicy {
	case PolicyManual, PolicyPatch, PolicyAnyNewer:
	default:
		problems = append(problems, fmt.Sprintf("invalid auto_policy %q (must be manual, patch or any)", c.AutoPolicy))
	}
	if c.CheckInterval <= 0 {
		problems = append(problems, "check_interval must be positive")
	}
	if c.MaxUpgradeDuration <= 0 {
		problems = append(problems, "max_upgrade_duration must be positive")
	}
	if c.Thresholds.MinPeers < 0 {
		problems = append(problems, "thresholds.min_peers must not be negative")
	}
	if c.Thresholds.BlockTimeVariance <= 0 {
		problems = append(problems, "thresholds.block_time_variance must be positive")
	}
	if c.Maintenance.WindowHour < 0 || c.Maintenance.WindowHour > 23 {
		problems = append(problems, "maintenance.window_hour must be between 0 and 23")
	}
	if c.Maintenance.WindowMinute < 0 || c.Maintenance.WindowMinute > 59 {
		problems = append(problems, "maintenance.window_minute must be between 0 and 59")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		problems = append(problems, fmt.Sprintf("invalid api_port %d", c.APIPort))
	}
	if c.APIRateLimit < 0 {
		problems = append(problems, "api_rate_limit must not be negative")
	}
	switch c.Notifications.MinSeverity {
	case "", "info", "warning", "critical":
	default:
		problems = append(problems, fmt.Sprintf("invalid notifications.min_severity %q", c.Notifications.MinSeverity))
	}
	for name, svc := range map[string]ServiceConfig{"story": c.Story, "story_geth": c.StoryGeth} {
		if svc.BinaryPath == "" {
			problems = append(problems, name+".binary_path is required")
		}
		if svc.ServiceName == "" {
			problems = append(problems, name+".service_name is required")
		}
		if svc.GitHubRepo != "" && !strings.Contains(svc.GitHubRepo, "/") {
			problems = append(problems, fmt.Sprintf("%s.github_repo %q must be owner/name", name, svc.GitHubRepo))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// CheckPaths reports host paths that do not exist. These are warnings: a
// fresh host may not have the node installed yet.
func (c *Config) CheckPaths() []string {
	var missing []string
	if _, err := os.Stat(c.Story.BinaryPath); err != nil {
		missing = append(missing, fmt.Sprintf("story binary not found at %s", c.Story.BinaryPath))
	}
	if _, err := os.Stat(c.StoryGeth.BinaryPath); err != nil {
		missing = append(missing, fmt.Sprintf("story-geth binary not found at %s", c.StoryGeth.BinaryPath))
	}
	if _, err := os.Stat(c.StoryHome); err != nil {
		missing = append(missing, fmt.Sprintf("story home directory not found at %s", c.StoryHome))
	}
	return missing
}

// Save writes the configuration as YAML, atomically
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := utils.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// Services builds the immutable identities of both node processes
func (c *Config) Services() []types.ServiceIdentity {
	return []types.ServiceIdentity{
		c.identity(types.ComponentExecution, "story-geth", c.StoryGeth, ""),
		c.identity(types.ComponentConsensus, "story", c.Story, filepath.Join(c.StoryHome, "story", "config")),
	}
}

// Service returns the identity for one component
func (c *Config) Service(component types.Component) types.ServiceIdentity {
	for _, svc := range c.Services() {
		if svc.Component == component {
			return svc
		}
	}
	return types.ServiceIdentity{}
}

func (c *Config) identity(component types.Component, name string, sc ServiceConfig, configDir string) types.ServiceIdentity {
	host := sc.RPCHost
	if host == "" {
		host = "localhost"
	}
	process := sc.ProcessName
	if process == "" {
		process = filepath.Base(sc.BinaryPath)
	}
	args := sc.VersionArgs
	if len(args) == 0 {
		args = []string{"version"}
	}

	return types.ServiceIdentity{
		Component:       component,
		Name:            name,
		BinaryPath:      sc.BinaryPath,
		ServiceName:     sc.ServiceName,
		ProcessName:     process,
		RPCEndpoint:     fmt.Sprintf("http://%s:%d", host, sc.RPCPort),
		VersionArgs:     args,
		ReleaseRepo:     sc.GitHubRepo,
		ConfigDir:       configDir,
		ArtifactPattern: sc.ArtifactPattern,
		BuildCommand:    sc.BuildCommand,
		BuildOutput:     sc.BuildOutput,
	}
}

// APIAddr returns host:port for the HTTP surface
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

// HistoryPath returns the upgrade history file location
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "upgrade_history.json")
}

// SchedulePath returns the upgrade schedule file location
func (c *Config) SchedulePath() string {
	return filepath.Join(c.DataDir, "upgrade_schedule.json")
}

// CalendarPath returns the generated calendar location
func (c *Config) CalendarPath() string {
	return filepath.Join(c.DataDir, "upgrades.ics")
}

// LogFile returns the rotating log file location
func (c *Config) LogFile() string {
	if c.LogDir == "" {
		return ""
	}
	return filepath.Join(c.LogDir, "sentinel.log")
}

// BackupRetention returns the retention period as a duration
func (c *Config) BackupRetention() time.Duration {
	return time.Duration(c.BackupRetentionDays) * 24 * time.Hour
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "/root"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts a Go duration ("90s") or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}
