package governance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// PluginVerdict is what a policy plugin writes to stdout: a validation
// verdict over the candidate policy document.
type PluginVerdict struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors"`
}

// PluginHostConfig bounds plugin execution.
type PluginHostConfig struct {
	MemoryLimitBytes int64
	RunTimeout       time.Duration
}

// DefaultPluginHostConfig is the production plugin envelope: 16 MiB of
// memory, two seconds of wall time.
func DefaultPluginHostConfig() PluginHostConfig {
	return PluginHostConfig{
		MemoryLimitBytes: 16 << 20,
		RunTimeout:       2 * time.Second,
	}
}

// PluginHost runs WASI policy-check plugins. Plugins receive the
// candidate policy document as JSON on stdin and emit a PluginVerdict on
// stdout. Deny-by-default: no filesystem, no network, no environment.
type PluginHost struct {
	runtime wazero.Runtime
	config  wazero.ModuleConfig
	limits  PluginHostConfig
}

// NewPluginHost creates a plugin host with deny-by-default capabilities.
func NewPluginHost(ctx context.Context, cfg PluginHostConfig) (*PluginHost, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitBytes > 0 {
		// wazero measures memory in 64KB pages
		pages := uint32(cfg.MemoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	modCfg := wazero.NewModuleConfig().
		WithName("tek-policy-plugin").
		WithStartFunctions("_start")

	return &PluginHost{runtime: r, config: modCfg, limits: cfg}, nil
}

// CheckPolicy runs one plugin against a candidate policy document. A
// plugin crash, timeout, or malformed verdict surfaces as validation
// errors; plugins can only add errors, never silence them.
func (h *PluginHost) CheckPolicy(ctx context.Context, wasm []byte, policy Policy) []string {
	if h.limits.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.limits.RunTimeout)
		defer cancel()
	}

	input, err := json.Marshal(policy)
	if err != nil {
		return []string{fmt.Sprintf("plugin: encode policy: %v", err)}
	}

	var stdout, stderr bytes.Buffer
	modCfg := h.config.
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	compiled, err := h.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return []string{fmt.Sprintf("plugin: compile: %v", err)}
	}
	defer func() { _ = compiled.Close(ctx) }()

	mod, err := h.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return []string{fmt.Sprintf("plugin: timed out after %v", h.limits.RunTimeout)}
		}
		return []string{fmt.Sprintf("plugin: run: %v", err)}
	}
	defer func() { _ = mod.Close(ctx) }()

	var verdict PluginVerdict
	if err := json.Unmarshal(stdout.Bytes(), &verdict); err != nil {
		return []string{fmt.Sprintf("plugin: malformed verdict: %v", err)}
	}
	if verdict.OK {
		return nil
	}
	if len(verdict.Errors) == 0 {
		return []string{"plugin: rejected policy without detail"}
	}
	return verdict.Errors
}

// Close shuts down the wazero runtime.
func (h *PluginHost) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.runtime.Close(ctx)
}
