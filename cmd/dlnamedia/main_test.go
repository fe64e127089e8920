package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dlnamedia/internal/api"
	"dlnamedia/internal/config"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != api.Version {
		t.Fatalf("version output %q", out.String())
	}
}

func TestDeviceInfoUDN(t *testing.T) {
	cfg := config.Default().Device

	derived := deviceInfo(cfg)
	if !strings.HasPrefix(derived.UDN, "uuid:") {
		t.Fatalf("derived UDN %q", derived.UDN)
	}
	if again := deviceInfo(cfg); again.UDN != derived.UDN {
		t.Fatalf("UDN not stable: %q then %q", derived.UDN, again.UDN)
	}

	cfg.UDN = "12345678-1234-1234-1234-123456789abc"
	if got := deviceInfo(cfg).UDN; got != "uuid:12345678-1234-1234-1234-123456789abc" {
		t.Fatalf("configured UDN %q", got)
	}
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlnamedia.log")
	logger, closer := setupLogger(config.LoggingConfig{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1})
	logger.Info().Msg("hello")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"message":"hello"`) {
		t.Fatalf("log file %q", data)
	}
}
