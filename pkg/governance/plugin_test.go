package governance

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestPluginHostRejectsGarbageModule(t *testing.T) {
	ctx := context.Background()
	host, err := NewPluginHost(ctx, DefaultPluginHostConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer host.Close()

	errs := host.CheckPolicy(ctx, []byte("not a wasm module"), PolicyDefaults())
	if len(errs) != 1 || !strings.Contains(errs[0], "plugin: compile") {
		t.Fatalf("errors = %v", errs)
	}
}

func TestDefaultPluginHostConfig(t *testing.T) {
	cfg := DefaultPluginHostConfig()
	if cfg.MemoryLimitBytes != 16<<20 {
		t.Fatalf("memory limit = %d", cfg.MemoryLimitBytes)
	}
	if cfg.RunTimeout != 2*time.Second {
		t.Fatalf("timeout = %v", cfg.RunTimeout)
	}
}
