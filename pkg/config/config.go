// Package config centralizes environment-driven kernel settings. Everything
// the kernel reads from the environment is loaded once into a Settings
// value and threaded explicitly; packages never consult os.Getenv for
// behavior-changing knobs at call time.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// KernelMode selects the governance feature set.
type KernelMode string

const (
	// ModeV8 runs the baseline kernel without the closed resilience loop.
	ModeV8 KernelMode = "v8"
	// ModeV9 enables the full resilience control plane.
	ModeV9 KernelMode = "v9"
)

// DeploymentMode distinguishes hosted from self-managed installs.
type DeploymentMode string

const (
	DeploymentSaaS    DeploymentMode = "saas"
	DeploymentPrivate DeploymentMode = "private"
)

// Settings is the full environment-derived configuration surface.
type Settings struct {
	// Server
	Port     string
	LogLevel string

	// Kernel
	KernelMode     KernelMode
	DeploymentMode DeploymentMode
	PolicyPath     string

	// Adapter selection
	Provider        string
	Model           string
	Embeddings      string
	EmbeddingsModel string

	// Consensus thresholds
	Stage2Threshold  float64
	AlignFast        float64
	AlignStandard    float64
	AlignHigh        float64
	TokenLenFast     int
	TokenLenStandard int
	TokenLenHigh     int

	// Evidence ledger
	EpackStorePath string
	PersistEpacks  bool
	EpackDBPath    string
	PostgresDSN    string
	RedactMode     string
	HashAlgorithm  string
	SigningKey     []byte

	// Citations
	RequireEvidenceCitations bool
	AutoAppendCitationNotice bool
	CitationVerify           bool
	CitationVerifyMax        int
	CitationVerifyTimeout    time.Duration

	// External services
	RedisAddr      string
	APITokenSecret string
	ArtifactStore  string
}

// Load reads the full settings surface from the environment, applying
// reference defaults for anything unset.
func Load() *Settings {
	return &Settings{
		Port:     envStr("PORT", "8080"),
		LogLevel: envStr("LOG_LEVEL", "INFO"),

		KernelMode:     loadKernelMode(),
		DeploymentMode: loadDeploymentMode(),
		PolicyPath:     envStr("BW_POLICY_PATH", "policies/default.yaml"),

		Provider:        strings.ToLower(envStr("ECOSPHERE_PROVIDER", "mock")),
		Model:           envStr("ECOSPHERE_MODEL", "mock-llm"),
		Embeddings:      strings.ToLower(envStr("ECOSPHERE_EMBEDDINGS", "local")),
		EmbeddingsModel: envStr("ECOSPHERE_EMBEDDINGS_MODEL", "local-mini"),

		Stage2Threshold:  envFloat("ECOSPHERE_STAGE2_THRESHOLD", 0.50),
		AlignFast:        envFloat("ECOSPHERE_ALIGN_FAST", 0.85),
		AlignStandard:    envFloat("ECOSPHERE_ALIGN_STANDARD", 0.90),
		AlignHigh:        envFloat("ECOSPHERE_ALIGN_HIGH", 0.95),
		TokenLenFast:     envInt("ECOSPHERE_TOKENLEN_FAST", 4),
		TokenLenStandard: envInt("ECOSPHERE_TOKENLEN_STANDARD", 4),
		TokenLenHigh:     envInt("ECOSPHERE_TOKENLEN_HIGH", 6),

		EpackStorePath: envStr("ECOSPHERE_EPACK_STORE_PATH", ".ecosphere_epacks.jsonl"),
		PersistEpacks:  envBool("ECOSPHERE_PERSIST_EPACKS", true),
		EpackDBPath:    os.Getenv("EPACK_DB_PATH"),
		PostgresDSN:    os.Getenv("EPACK_PG_DSN"),
		RedactMode:     envStr("ECOSPHERE_REDACT_MODE", "hash"),
		HashAlgorithm:  envStr("ECOSPHERE_HASH_ALGORITHM", "sha256"),
		SigningKey:     []byte(envStr("EPACK_SIGNING_KEY", "dev-key")),

		RequireEvidenceCitations: envBool("ECOSPHERE_REQUIRE_EVIDENCE_CITATIONS", true),
		AutoAppendCitationNotice: envBool("ECOSPHERE_AUTO_APPEND_CITATION_NOTICE", true),
		CitationVerify:           envBool("ECOSPHERE_CITATION_VERIFY", false),
		CitationVerifyMax:        envInt("ECOSPHERE_CITATION_VERIFY_MAX", 5),
		CitationVerifyTimeout:    time.Duration(envInt("ECOSPHERE_CITATION_VERIFY_TIMEOUT_S", 8)) * time.Second,

		RedisAddr:      os.Getenv("TEK_REDIS_ADDR"),
		APITokenSecret: os.Getenv("TEK_API_TOKEN_SECRET"),
		ArtifactStore:  os.Getenv("TEK_ARTIFACT_STORE"),
	}
}

func loadKernelMode() KernelMode {
	switch strings.ToLower(os.Getenv("BW_KERNEL_MODE")) {
	case "v8":
		return ModeV8
	default:
		return ModeV9
	}
}

func loadDeploymentMode() DeploymentMode {
	switch strings.ToLower(os.Getenv("ECOSPHERE_DEPLOYMENT_MODE")) {
	case "private":
		return DeploymentPrivate
	default:
		return DeploymentSaaS
	}
}

// ResilienceEnabled reports whether the closed recovery loop runs.
func (s *Settings) ResilienceEnabled() bool {
	return s.KernelMode == ModeV9
}

// RedactionOn reports whether raw user text is withheld from EPACK payloads.
func (s *Settings) RedactionOn() bool {
	return s.RedactMode != "off"
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "1"
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
