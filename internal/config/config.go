package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirName is the name of the base and repo-local configuration directories.
const DirName = ".tensient"

// Config holds application configuration.
type Config struct {
	// WorkspaceID and UserID scope the CLI and the agent tool server.
	// Authentication is external; these are trusted as given.
	WorkspaceID string `json:"workspace_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`

	// CalibrationFloor and CalibrationCeiling bound the raw cosine band that is
	// stretched onto [0,1]. Floor must be strictly below ceiling.
	CalibrationFloor   float64 `json:"calibration_floor,omitempty"`
	CalibrationCeiling float64 `json:"calibration_ceiling,omitempty"`

	// StreakWindowHours is the maximum gap between captures that keeps a streak alive.
	StreakWindowHours int `json:"streak_window_hours,omitempty"`

	// GoalLinkThreshold is the raw similarity above which an action is linked to the Canon.
	GoalLinkThreshold float64 `json:"goal_link_threshold,omitempty"`

	// DigestArtifactLimit caps how many recent artifacts and actions feed one digest.
	DigestArtifactLimit int `json:"digest_artifact_limit,omitempty"`

	// EmbeddingProvider is "openai" or "genai".
	EmbeddingProvider   string `json:"embedding_provider,omitempty"`
	EmbeddingModel      string `json:"embedding_model,omitempty"`
	EmbeddingDimensions int    `json:"embedding_dimensions,omitempty"`

	// GenerationProvider is "openai" or "genai".
	GenerationProvider    string  `json:"generation_provider,omitempty"`
	GenerationModel       string  `json:"generation_model,omitempty"`
	GenerationTemperature float64 `json:"generation_temperature,omitempty"`

	// MonthlyTokenLimit caps generation tokens per user per calendar month.
	// 0 means unlimited.
	MonthlyTokenLimit int64 `json:"monthly_token_limit,omitempty"`

	// LensesPath points at a YAML lens catalog. Empty uses the built-in lenses.
	LensesPath string `json:"lenses_path,omitempty"`

	// LogLevel is one of debug, info, warn, error. LogJSON selects JSON encoding.
	LogLevel string `json:"log_level,omitempty"`
	LogJSON  bool   `json:"log_json,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of tool type names to disable entirely
	// (e.g. "synthesis" removes synthesis_run). Unknown type names are logged as warnings.
	DisabledTypes []string `json:"disabled_types,omitempty"`

	// WebBind and WebPort configure the JSON HTTP API listener.
	WebBind string `json:"web_bind,omitempty"`
	WebPort int    `json:"web_port,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		WorkspaceID:           "default",
		UserID:                "local",
		CalibrationFloor:      0.35,
		CalibrationCeiling:    0.85,
		StreakWindowHours:     48,
		GoalLinkThreshold:     0.3,
		DigestArtifactLimit:   50,
		EmbeddingProvider:     "openai",
		EmbeddingModel:        "text-embedding-3-small",
		EmbeddingDimensions:   1536,
		GenerationProvider:    "openai",
		GenerationModel:       "gpt-4o-mini",
		GenerationTemperature: 0.4,
		LogLevel:              "info",
		WebBind:               "127.0.0.1",
		WebPort:               8420,
	}
}

// Validate checks cross-field constraints that Merge cannot express.
func (c *Config) Validate() error {
	if c.CalibrationFloor >= c.CalibrationCeiling {
		return fmt.Errorf("calibration_floor (%.3f) must be below calibration_ceiling (%.3f)", c.CalibrationFloor, c.CalibrationCeiling)
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("embedding_dimensions must be positive")
	}
	if c.MonthlyTokenLimit < 0 {
		return fmt.Errorf("monthly_token_limit must not be negative")
	}
	return nil
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.tensient.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithRepo loads configuration from both global (~/.tensient) and repo (.tensient) directories.
// Repo config is found by walking upward from startDir to find the nearest .tensient/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	// Walk upward from startDir to find repo config
	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo
	cfg := Merge(Merge(DefaultConfig(), global), repo)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .tensient/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, DirName, "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root, not found
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.WorkspaceID = pickString(overlay.WorkspaceID, base.WorkspaceID)
	result.UserID = pickString(overlay.UserID, base.UserID)
	result.CalibrationFloor = pickFloat(overlay.CalibrationFloor, base.CalibrationFloor)
	result.CalibrationCeiling = pickFloat(overlay.CalibrationCeiling, base.CalibrationCeiling)
	result.StreakWindowHours = pickInt(overlay.StreakWindowHours, base.StreakWindowHours)
	result.GoalLinkThreshold = pickFloat(overlay.GoalLinkThreshold, base.GoalLinkThreshold)
	result.DigestArtifactLimit = pickInt(overlay.DigestArtifactLimit, base.DigestArtifactLimit)
	result.EmbeddingProvider = pickString(overlay.EmbeddingProvider, base.EmbeddingProvider)
	result.EmbeddingModel = pickString(overlay.EmbeddingModel, base.EmbeddingModel)
	result.EmbeddingDimensions = pickInt(overlay.EmbeddingDimensions, base.EmbeddingDimensions)
	result.GenerationProvider = pickString(overlay.GenerationProvider, base.GenerationProvider)
	result.GenerationModel = pickString(overlay.GenerationModel, base.GenerationModel)
	result.GenerationTemperature = pickFloat(overlay.GenerationTemperature, base.GenerationTemperature)
	result.MonthlyTokenLimit = overlay.MonthlyTokenLimit
	if result.MonthlyTokenLimit == 0 {
		result.MonthlyTokenLimit = base.MonthlyTokenLimit
	}
	result.LensesPath = pickString(overlay.LensesPath, base.LensesPath)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)
	result.WebBind = pickString(overlay.WebBind, base.WebBind)
	result.WebPort = pickInt(overlay.WebPort, base.WebPort)

	// Booleans: overlay wins if true, else base
	result.LogJSON = base.LogJSON || overlay.LogJSON

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return strings.TrimSpace(overlay)
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickFloat(overlay, base float64) float64 {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
