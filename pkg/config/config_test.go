package config

import (
	"path/filepath"
	"testing"
)

func TestGetConfigFilePathSuffix(t *testing.T) {
	p, err := GetConfigFilePath(configFile)
	if err != nil {
		t.Fatalf("GetConfigFilePath: %v", err)
	}
	if got, want := filepath.Base(p), configFile; got != want {
		t.Fatalf("GetConfigFilePath base = %q, want %q", got, want)
	}
	if got, want := filepath.Base(filepath.Dir(p)), configDir; got != want {
		t.Fatalf("GetConfigFilePath dir = %q, want %q", got, want)
	}
}

func TestLoadConfigNeverReturnsNil(t *testing.T) {
	cfg := LoadConfig()
	if cfg == nil {
		t.Fatal("LoadConfig returned nil")
	}
}
