package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranslationRequestEncodeDecode(t *testing.T) {
	t.Parallel()

	data, err := TranslationRequest{Text: "bonjour", Filename: "talk.wav", Lang: "en", SrcLang: "fr"}.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"translation_request","version":1,"text":"bonjour","filename":"talk.wav","lang":"en","src_lang":"fr"}`, string(data))

	req, err := DecodeTranslationRequest(data)
	require.NoError(t, err)
	require.Equal(t, TranslationRequest{Text: "bonjour", Filename: "talk.wav", Lang: "en", SrcLang: "fr"}, req)
}

func TestTranslationResultEncodeOmitsSource(t *testing.T) {
	t.Parallel()

	data, err := TranslationResult{Text: "", Filename: "talk.wav", Lang: "fr"}.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"translation_result","version":1,"text":"","filename":"talk.wav","lang":"fr"}`, string(data))
}

func TestDecodeTranslationResultIgnoresSource(t *testing.T) {
	t.Parallel()

	res, err := DecodeTranslationResult([]byte(`{"type":"translation_result","version":1,"text":"hola","filename":"a.wav","lang":"es-MX","src_lang":"garbage!"}`))
	require.NoError(t, err)
	require.Equal(t, TranslationResult{Text: "hola", Filename: "a.wav", Lang: "es"}, res)
}

func TestDecodeRejectsSchemaMismatch(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"empty":          ``,
		"not json":       `text=hi`,
		"untagged":       `{"text":"hi","filename":"a.wav","lang":"en","src_lang":"fr"}`,
		"wrong type":     `{"type":"translation_result","version":1,"text":"hi","filename":"a.wav","lang":"en","src_lang":"fr"}`,
		"future version": `{"type":"translation_request","version":2,"text":"hi","filename":"a.wav","lang":"en","src_lang":"fr"}`,
		"missing text":   `{"type":"translation_request","version":1,"filename":"a.wav","lang":"en","src_lang":"fr"}`,
		"null text":      `{"type":"translation_request","version":1,"text":null,"filename":"a.wav","lang":"en","src_lang":"fr"}`,
		"bad filename":   `{"type":"translation_request","version":1,"text":"hi","filename":"../a.wav","lang":"en","src_lang":"fr"}`,
		"missing lang":   `{"type":"translation_request","version":1,"text":"hi","filename":"a.wav","src_lang":"fr"}`,
		"und lang":       `{"type":"translation_request","version":1,"text":"hi","filename":"a.wav","lang":"und","src_lang":"fr"}`,
		"missing source": `{"type":"translation_request","version":1,"text":"hi","filename":"a.wav","lang":"en"}`,
		"bad source":     `{"type":"translation_request","version":1,"text":"hi","filename":"a.wav","lang":"en","src_lang":"!!"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTranslationRequest([]byte(body))
			require.ErrorIs(t, err, ErrMalformedInput)
			require.False(t, Retryable(err))
		})
	}
}
