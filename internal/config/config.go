package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/fmueller/voxlate/internal/language"
	"github.com/fmueller/voxlate/internal/platform"
)

//go:embed sample_config.toml
var sampleConfig string

// Topics names the bus topics connecting the stages.
type Topics struct {
	Translation string `toml:"translation"`
	Results     string `toml:"results"`
}

// Buckets names the object store namespaces.
type Buckets struct {
	Raw        string `toml:"raw"`
	Normalized string `toml:"normalized"`
	Results    string `toml:"results"`
}

// Languages holds the recognition hints and the fan-out target set.
type Languages struct {
	Targets      []string `toml:"targets"`
	Primary      string   `toml:"primary"`
	Alternatives []string `toml:"alternatives"`
}

type Storage struct {
	Root string `toml:"root"`
}

type Bus struct {
	Path                string `toml:"path"`
	AckDeadlineSeconds  int    `toml:"ack_deadline_seconds"`
	MaxDeliveryAttempts int    `toml:"max_delivery_attempts"`
	PollIntervalMS      int    `toml:"poll_interval_ms"`
	RetryBackoffSeconds int    `toml:"retry_backoff_seconds"`
	MaxOutstanding      int    `toml:"max_outstanding"`
}

type Speech struct {
	BaseURL     string `toml:"base_url"`
	APIKey      string `toml:"api_key"`
	InlineAudio bool   `toml:"inline_audio"`
	Retries     int    `toml:"retries"`
}

type Translate struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Retries int    `toml:"retries"`
}

type Transcode struct {
	FFmpeg string `toml:"ffmpeg"`
}

type Triggers struct {
	MaxAttempts int `toml:"max_attempts"`
	BackoffMS   int `toml:"backoff_ms"`
	SettleMS    int `toml:"settle_ms"`
}

// Config is resolved once at process start and handed to every stage.
type Config struct {
	Project   string    `toml:"project"`
	DataDir   string    `toml:"data_dir"`
	Topics    Topics    `toml:"topics"`
	Buckets   Buckets   `toml:"buckets"`
	Languages Languages `toml:"languages"`
	Storage   Storage   `toml:"storage"`
	Bus       Bus       `toml:"bus"`
	Speech    Speech    `toml:"speech"`
	Translate Translate `toml:"translate"`
	Transcode Transcode `toml:"transcode"`
	Triggers  Triggers  `toml:"triggers"`
}

// Load locates, parses, normalizes and validates a configuration file. A
// missing file is not an error; defaults and environment overrides apply.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", false, fmt.Errorf("config file %s does not exist", expanded)
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := platform.ResolveConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("voxlate.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if value, ok := lookup("VOXLATE_PROJECT"); ok && strings.TrimSpace(value) != "" {
		c.Project = strings.TrimSpace(value)
	} else if value, ok := lookup("GCP_PROJECT"); ok && strings.TrimSpace(value) != "" {
		c.Project = strings.TrimSpace(value)
	}
	if value, ok := lookup("VOXLATE_SPEECH_API_KEY"); ok && strings.TrimSpace(value) != "" {
		c.Speech.APIKey = strings.TrimSpace(value)
	}
	if value, ok := lookup("VOXLATE_TRANSLATE_API_KEY"); ok && strings.TrimSpace(value) != "" {
		c.Translate.APIKey = strings.TrimSpace(value)
	}
	if value, ok := lookup("VOXLATE_DATA_DIR"); ok && strings.TrimSpace(value) != "" {
		c.DataDir = strings.TrimSpace(value)
	}
}

func (c *Config) normalize() error {
	dataDir, err := platform.ResolveDataDir(c.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	if c.DataDir, err = expandPath(dataDir); err != nil {
		return err
	}

	if strings.TrimSpace(c.Storage.Root) == "" {
		c.Storage.Root = filepath.Join(c.DataDir, "buckets")
	}
	if c.Storage.Root, err = expandPath(c.Storage.Root); err != nil {
		return err
	}
	if strings.TrimSpace(c.Bus.Path) == "" {
		c.Bus.Path = filepath.Join(c.DataDir, "bus.db")
	}
	if c.Bus.Path, err = expandPath(c.Bus.Path); err != nil {
		return err
	}

	c.Project = strings.TrimSpace(c.Project)
	c.Topics.Translation = strings.TrimSpace(c.Topics.Translation)
	c.Topics.Results = strings.TrimSpace(c.Topics.Results)
	c.Buckets.Raw = strings.TrimSpace(c.Buckets.Raw)
	c.Buckets.Normalized = strings.TrimSpace(c.Buckets.Normalized)
	c.Buckets.Results = strings.TrimSpace(c.Buckets.Results)
	c.Speech.BaseURL = strings.TrimRight(strings.TrimSpace(c.Speech.BaseURL), "/")
	c.Translate.BaseURL = strings.TrimRight(strings.TrimSpace(c.Translate.BaseURL), "/")

	if c.Languages.Targets, err = normalizeCodes("languages.targets", c.Languages.Targets, false); err != nil {
		return err
	}
	if c.Languages.Alternatives, err = normalizeCodes("languages.alternatives", c.Languages.Alternatives, true); err != nil {
		return err
	}
	if strings.TrimSpace(c.Languages.Primary) != "" {
		primary, err := language.Normalize(c.Languages.Primary)
		if err != nil {
			return fmt.Errorf("languages.primary: %w", err)
		}
		c.Languages.Primary = primary
	}
	return nil
}

// normalizeCodes reduces codes to base languages. Targets keep duplicates so
// Validate can reject them; each target yields exactly one artifact.
func normalizeCodes(field string, codes []string, dedupe bool) ([]string, error) {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		normalized, err := language.Normalize(code)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		if _, ok := seen[normalized]; ok && dedupe {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out, nil
}

func (c *Config) AckDeadline() time.Duration {
	return time.Duration(c.Bus.AckDeadlineSeconds) * time.Second
}

func (c *Config) BusPollInterval() time.Duration {
	return time.Duration(c.Bus.PollIntervalMS) * time.Millisecond
}

func (c *Config) BusRetryBackoff() time.Duration {
	return time.Duration(c.Bus.RetryBackoffSeconds) * time.Second
}

func (c *Config) TriggerBackoff() time.Duration {
	return time.Duration(c.Triggers.BackoffMS) * time.Millisecond
}

func (c *Config) TriggerSettle() time.Duration {
	return time.Duration(c.Triggers.SettleMS) * time.Millisecond
}

// TranslationSubscription is the subscription Translation Workers pull from.
func (c *Config) TranslationSubscription() string {
	return c.Topics.Translation + "-worker"
}

// ResultsSubscription is the subscription Result Writers pull from.
func (c *Config) ResultsSubscription() string {
	return c.Topics.Results + "-writer"
}

// LockPath guards the data dir against a second daemon.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "voxlate.lock")
}

// EnsureDirectories creates the data dir and storage root.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.Storage.Root, filepath.Dir(c.Bus.Path)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// Encode renders the config as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// CreateSample writes the sample configuration to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
