package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Chdir(t.TempDir())

	cfg := Load()
	if cfg.ServerAddr != ":8080" {
		t.Errorf("ServerAddr = %q, want :8080", cfg.ServerAddr)
	}
	if cfg.StoreBackend != StoreBackendPostgres {
		t.Errorf("StoreBackend = %q, want postgres", cfg.StoreBackend)
	}
	if cfg.MaxCASAttempts != 5 {
		t.Errorf("MaxCASAttempts = %d, want 5", cfg.MaxCASAttempts)
	}
	if cfg.WSEnforceRoomAccess {
		t.Error("WSEnforceRoomAccess should default to false")
	}
	if cfg.DBMaxConnections() != 20 {
		t.Errorf("DBMaxConnections = %d, want 20", cfg.DBMaxConnections())
	}
}

func TestLoadYAMLThenEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeYAML(t, `
server_addr: ":9090"
read_timeout: 3
store_backend: mongo
mongo_database: campus
ws_enforce_room_access: true
max_message_length: 500
`)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("MONGO_DATABASE", "campus_override")

	cfg := Load()
	if cfg.ServerAddr != ":9090" {
		t.Errorf("ServerAddr = %q, want :9090", cfg.ServerAddr)
	}
	if cfg.ReadTimeout != 3*time.Second {
		t.Errorf("ReadTimeout = %v, want 3s", cfg.ReadTimeout)
	}
	if cfg.StoreBackend != StoreBackendMongo {
		t.Errorf("StoreBackend = %q, want mongo", cfg.StoreBackend)
	}
	if cfg.Mongo.Database != "campus_override" {
		t.Errorf("Mongo.Database = %q, want env override", cfg.Mongo.Database)
	}
	if !cfg.WSEnforceRoomAccess {
		t.Error("WSEnforceRoomAccess should be true from yaml")
	}
	if cfg.MaxMessageLength != 500 {
		t.Errorf("MaxMessageLength = %d, want 500", cfg.MaxMessageLength)
	}
}

func TestLoadUnknownBackendFallsBack(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("STORE_BACKEND", "cassandra")

	cfg := Load()
	if cfg.StoreBackend != StoreBackendPostgres {
		t.Errorf("StoreBackend = %q, want postgres fallback", cfg.StoreBackend)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("JWT_SECRET=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("JWT_SECRET", "")
	os.Unsetenv("JWT_SECRET")

	cfg := Load()
	if cfg.JWTSecret != "from-dotenv" {
		t.Errorf("JWTSecret = %q, want from-dotenv", cfg.JWTSecret)
	}
}
