package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/fmueller/voxlate/internal/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTopics(); err != nil {
		return err
	}
	if err := c.validateBuckets(); err != nil {
		return err
	}
	if err := c.validateLanguages(); err != nil {
		return err
	}
	if err := c.validateBus(); err != nil {
		return err
	}
	if err := c.validateEngines(); err != nil {
		return err
	}
	if err := c.validateTriggers(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTopics() error {
	if c.Topics.Translation == "" {
		return errors.New("topics.translation must be set")
	}
	if c.Topics.Results == "" {
		return errors.New("topics.results must be set")
	}
	if c.Topics.Translation == c.Topics.Results {
		return errors.New("topics.translation and topics.results must differ")
	}
	return nil
}

func (c *Config) validateBuckets() error {
	names := map[string]string{
		"buckets.raw":        c.Buckets.Raw,
		"buckets.normalized": c.Buckets.Normalized,
		"buckets.results":    c.Buckets.Results,
	}
	for field, name := range names {
		if name == "" {
			return fmt.Errorf("%s must be set", field)
		}
		if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
			return fmt.Errorf("%s: invalid bucket name %q", field, name)
		}
	}
	// The normalizer passes canonical files through under the same name, so
	// sharing a bucket would retrigger it forever.
	if c.Buckets.Raw == c.Buckets.Normalized {
		return errors.New("buckets.raw and buckets.normalized must differ")
	}
	return nil
}

func (c *Config) validateLanguages() error {
	if len(c.Languages.Targets) == 0 {
		return errors.New("languages.targets must list at least one language")
	}
	seen := make(map[string]struct{}, len(c.Languages.Targets))
	for _, target := range c.Languages.Targets {
		if language.IsUndetermined(target) {
			return fmt.Errorf("languages.targets: %q is not a concrete language", target)
		}
		if _, ok := seen[target]; ok {
			return fmt.Errorf("languages.targets: %q is listed more than once after reducing codes to their base language", target)
		}
		seen[target] = struct{}{}
	}
	if c.Languages.Primary == "" || language.IsUndetermined(c.Languages.Primary) {
		return errors.New("languages.primary must be a concrete language")
	}
	return nil
}

func (c *Config) validateBus() error {
	if c.Bus.AckDeadlineSeconds <= 0 {
		return errors.New("bus.ack_deadline_seconds must be positive")
	}
	if c.Bus.MaxDeliveryAttempts <= 0 {
		return errors.New("bus.max_delivery_attempts must be positive")
	}
	if c.Bus.PollIntervalMS <= 0 {
		return errors.New("bus.poll_interval_ms must be positive")
	}
	if c.Bus.RetryBackoffSeconds < 0 {
		return errors.New("bus.retry_backoff_seconds must not be negative")
	}
	if c.Bus.MaxOutstanding <= 0 {
		return errors.New("bus.max_outstanding must be positive")
	}
	return nil
}

func (c *Config) validateEngines() error {
	for field, raw := range map[string]string{"speech.base_url": c.Speech.BaseURL, "translate.base_url": c.Translate.BaseURL} {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", field, raw)
		}
	}
	if c.Speech.Retries < 0 || c.Translate.Retries < 0 {
		return errors.New("engine retries must not be negative")
	}
	if strings.TrimSpace(c.Transcode.FFmpeg) == "" {
		return errors.New("transcode.ffmpeg must be set")
	}
	return nil
}

func (c *Config) validateTriggers() error {
	if c.Triggers.MaxAttempts <= 0 {
		return errors.New("triggers.max_attempts must be positive")
	}
	if c.Triggers.BackoffMS < 0 || c.Triggers.SettleMS < 0 {
		return errors.New("triggers.backoff_ms and triggers.settle_ms must not be negative")
	}
	return nil
}
