package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := DefaultConfig()
	if cfg.CalibrationFloor != def.CalibrationFloor || cfg.CalibrationCeiling != def.CalibrationCeiling {
		t.Fatalf("calibration band = [%v,%v], want [%v,%v]", cfg.CalibrationFloor, cfg.CalibrationCeiling, def.CalibrationFloor, def.CalibrationCeiling)
	}
	if cfg.StreakWindowHours != 48 {
		t.Errorf("StreakWindowHours = %d, want 48", cfg.StreakWindowHours)
	}
	if cfg.GoalLinkThreshold != 0.3 {
		t.Errorf("GoalLinkThreshold = %v, want 0.3", cfg.GoalLinkThreshold)
	}
	if cfg.EmbeddingDimensions != 1536 {
		t.Errorf("EmbeddingDimensions = %d, want 1536", cfg.EmbeddingDimensions)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"calibration_floor": 0.2, "workspace_id": "acme"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CalibrationFloor != 0.2 {
		t.Fatalf("CalibrationFloor = %v, want 0.2", cfg.CalibrationFloor)
	}
	if cfg.CalibrationCeiling != 0.85 {
		t.Fatalf("CalibrationCeiling = %v, want default 0.85", cfg.CalibrationCeiling)
	}
	if cfg.WorkspaceID != "acme" {
		t.Fatalf("WorkspaceID = %q, want acme", cfg.WorkspaceID)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_InvertedCalibrationBand(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"calibration_floor": 0.9}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error for floor above ceiling")
	}
}

func TestLoad_DisabledTools(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"disabled_tools": ["synthesis_run", "signal_delete"]}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.DisabledTools) != 2 {
		t.Fatalf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
	if cfg.DisabledTools[0] != "synthesis_run" {
		t.Errorf("DisabledTools[0] = %q, want %q", cfg.DisabledTools[0], "synthesis_run")
	}
	if cfg.DisabledTools[1] != "signal_delete" {
		t.Errorf("DisabledTools[1] = %q, want %q", cfg.DisabledTools[1], "signal_delete")
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	globalConfig := `{"workspace_id": "global-ws", "monthly_token_limit": 100000, "disabled_tools": ["synthesis_run"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	repoDir := filepath.Join(repoRoot, DirName)
	if err := os.MkdirAll(repoDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	repoConfig := `{"workspace_id": "repo-ws", "disabled_tools": ["signal_delete", "synthesis_run"]}`
	if err := os.WriteFile(filepath.Join(repoDir, "config.json"), []byte(repoConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	nested := filepath.Join(repoRoot, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, nested)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.WorkspaceID != "repo-ws" {
		t.Errorf("WorkspaceID = %q, want repo-ws (repo override)", cfg.WorkspaceID)
	}
	if cfg.MonthlyTokenLimit != 100000 {
		t.Errorf("MonthlyTokenLimit = %d, want 100000 from global", cfg.MonthlyTokenLimit)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools = %v, want 2 deduplicated entries", cfg.DisabledTools)
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.WorkspaceID != DefaultConfig().WorkspaceID {
		t.Errorf("WorkspaceID = %q, want default", cfg.WorkspaceID)
	}
}

func TestMerge_BoolsAndArrays(t *testing.T) {
	base := &Config{LogJSON: true, DisabledTypes: []string{" digest ", "synthesis"}}
	overlay := &Config{DisabledTypes: []string{"synthesis", ""}}

	got := Merge(base, overlay)
	if !got.LogJSON {
		t.Error("LogJSON should stay true from base")
	}
	if len(got.DisabledTypes) != 2 || got.DisabledTypes[0] != "digest" {
		t.Errorf("DisabledTypes = %v, want [digest synthesis]", got.DisabledTypes)
	}
}

func TestMergeStringSlice_Empty(t *testing.T) {
	if got := mergeStringSlice(nil, []string{"  "}); got != nil {
		t.Errorf("mergeStringSlice = %v, want nil", got)
	}
}
