package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fmueller/voxlate/internal/language"
	"github.com/fmueller/voxlate/internal/storage"
)

// Kind tags a bus payload.
type Kind string

const (
	KindTranslationRequest Kind = "translation_request"
	KindTranslationResult  Kind = "translation_result"
)

// SchemaVersion is the payload version this build reads and writes.
const SchemaVersion = 1

// TranslationRequest asks a worker to translate Text from SrcLang to Lang.
type TranslationRequest struct {
	Text     string
	Filename string
	Lang     string
	SrcLang  string
}

// TranslationResult carries the final text for one language.
type TranslationResult struct {
	Text     string
	Filename string
	Lang     string
}

// payload is the JSON shape on the bus. Text is a pointer so a missing
// field can be told apart from an empty transcript.
type payload struct {
	Type     Kind    `json:"type"`
	Version  int     `json:"version"`
	Text     *string `json:"text"`
	Filename string  `json:"filename"`
	Lang     string  `json:"lang"`
	SrcLang  string  `json:"src_lang,omitempty"`
}

func (r TranslationRequest) Encode() ([]byte, error) {
	text := r.Text
	return json.Marshal(payload{
		Type:     KindTranslationRequest,
		Version:  SchemaVersion,
		Text:     &text,
		Filename: r.Filename,
		Lang:     r.Lang,
		SrcLang:  r.SrcLang,
	})
}

func (r TranslationResult) Encode() ([]byte, error) {
	text := r.Text
	return json.Marshal(payload{
		Type:     KindTranslationResult,
		Version:  SchemaVersion,
		Text:     &text,
		Filename: r.Filename,
		Lang:     r.Lang,
	})
}

// DecodeTranslationRequest validates data against the request schema.
func DecodeTranslationRequest(data []byte) (TranslationRequest, error) {
	p, err := decodePayload(data, KindTranslationRequest)
	if err != nil {
		return TranslationRequest{}, err
	}
	src, err := requireLanguage("src_lang", p.SrcLang)
	if err != nil {
		return TranslationRequest{}, err
	}
	return TranslationRequest{Text: *p.Text, Filename: p.Filename, Lang: p.Lang, SrcLang: src}, nil
}

// DecodeTranslationResult validates data against the result schema.
// src_lang is ignored when present.
func DecodeTranslationResult(data []byte) (TranslationResult, error) {
	p, err := decodePayload(data, KindTranslationResult)
	if err != nil {
		return TranslationResult{}, err
	}
	return TranslationResult{Text: *p.Text, Filename: p.Filename, Lang: p.Lang}, nil
}

func decodePayload(data []byte, want Kind) (payload, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return payload{}, fmt.Errorf("%w: empty payload", ErrMalformedInput)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return payload{}, fmt.Errorf("%w: decode payload: %v", ErrMalformedInput, err)
	}
	if p.Type != want {
		return payload{}, fmt.Errorf("%w: payload type %q, want %q", ErrMalformedInput, p.Type, want)
	}
	if p.Version != SchemaVersion {
		return payload{}, fmt.Errorf("%w: payload version %d, want %d", ErrMalformedInput, p.Version, SchemaVersion)
	}
	if p.Text == nil {
		return payload{}, fmt.Errorf("%w: missing field \"text\"", ErrMalformedInput)
	}
	if err := storage.ValidateName(p.Filename); err != nil {
		return payload{}, fmt.Errorf("%w: field \"filename\": %v", ErrMalformedInput, err)
	}
	lang, err := requireLanguage("lang", p.Lang)
	if err != nil {
		return payload{}, err
	}
	p.Lang = lang
	return p, nil
}

func requireLanguage(field, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("%w: missing field %q", ErrMalformedInput, field)
	}
	normalized, err := language.Normalize(code)
	if err != nil {
		return "", fmt.Errorf("%w: field %q: %v", ErrMalformedInput, field, err)
	}
	if normalized == language.Undetermined {
		return "", fmt.Errorf("%w: field %q is undetermined", ErrMalformedInput, field)
	}
	return normalized, nil
}
