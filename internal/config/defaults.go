package config

const (
	defaultTranslationTopic       = "audio-to-text-translation"
	defaultResultsTopic           = "audio-to-text-results"
	defaultRawBucket              = "audio_uploads"
	defaultNormalizedBucket       = "tmp_wav_audio"
	defaultResultsBucket          = "sound_2_text_2_translate"
	defaultPrimaryLanguage        = "en"
	defaultAckDeadlineSeconds     = 60
	defaultMaxDeliveryAttempts    = 5
	defaultBusPollIntervalMS      = 250
	defaultBusRetryBackoffSeconds = 5
	defaultBusMaxOutstanding      = 4
	defaultSpeechBaseURL          = "https://speech.googleapis.com"
	defaultSpeechRetries          = 3
	defaultTranslateBaseURL       = "https://translation.googleapis.com"
	defaultTranslateRetries       = 3
	defaultFFmpegBinary           = "ffmpeg"
	defaultTriggerMaxAttempts     = 3
	defaultTriggerBackoffMS       = 500
	defaultTriggerSettleMS        = 300
)

// DefaultTargetLanguages is the fan-out set used when none is configured.
var DefaultTargetLanguages = []string{"en", "fr", "es", "ar", "ru", "hi"}

// DefaultAlternativeLanguages are the recognition hints besides the primary language.
var DefaultAlternativeLanguages = []string{"es", "fr", "it"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Topics: Topics{
			Translation: defaultTranslationTopic,
			Results:     defaultResultsTopic,
		},
		Buckets: Buckets{
			Raw:        defaultRawBucket,
			Normalized: defaultNormalizedBucket,
			Results:    defaultResultsBucket,
		},
		Languages: Languages{
			Targets:      append([]string(nil), DefaultTargetLanguages...),
			Primary:      defaultPrimaryLanguage,
			Alternatives: append([]string(nil), DefaultAlternativeLanguages...),
		},
		Bus: Bus{
			AckDeadlineSeconds:  defaultAckDeadlineSeconds,
			MaxDeliveryAttempts: defaultMaxDeliveryAttempts,
			PollIntervalMS:      defaultBusPollIntervalMS,
			RetryBackoffSeconds: defaultBusRetryBackoffSeconds,
			MaxOutstanding:      defaultBusMaxOutstanding,
		},
		Speech: Speech{
			BaseURL:     defaultSpeechBaseURL,
			InlineAudio: true,
			Retries:     defaultSpeechRetries,
		},
		Translate: Translate{
			BaseURL: defaultTranslateBaseURL,
			Retries: defaultTranslateRetries,
		},
		Transcode: Transcode{
			FFmpeg: defaultFFmpegBinary,
		},
		Triggers: Triggers{
			MaxAttempts: defaultTriggerMaxAttempts,
			BackoffMS:   defaultTriggerBackoffMS,
			SettleMS:    defaultTriggerSettleMS,
		},
	}
}
