package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestParseChecksumByFilename(t *testing.T) {
	t.Parallel()

	content := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa  talk.mp3\n" +
		"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb  checksums.txt\n")

	parsed, err := ParseChecksum(content, "talk.mp3")
	require.NoError(t, err)
	require.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", parsed)

	_, err = ParseChecksum([]byte("nothing here"), "talk.mp3")
	require.Error(t, err)
}

func TestVerifyChecksum(t *testing.T) {
	t.Parallel()

	payload := []byte("voxlate")
	require.NoError(t, VerifyChecksum(payload, sha(payload)))
	require.NoError(t, VerifyChecksum(payload, ""))
	require.ErrorIs(t, VerifyChecksum(payload, "deadbeef"), ErrChecksumMismatch)
}

func TestNameFromURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "talk show.mp3", NameFromURL("https://example.com/audio/talk%20show.mp3?sig=1"))
	require.Equal(t, "", NameFromURL("https://example.com/"))
}

func TestFetchWithChecksumURL(t *testing.T) {
	t.Parallel()

	payload := []byte("RIFF fake wav")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/talk.wav":
			w.Header().Set("Content-Type", "audio/wav; codecs=1")
			_, _ = w.Write(payload)
		case "/checksums.txt":
			_, _ = fmt.Fprintf(w, "%s  talk.wav\n", sha(payload))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	result, err := Fetch(context.Background(), Options{
		URL:         server.URL + "/talk.wav",
		ChecksumURL: server.URL + "/checksums.txt",
		NoProgress:  true,
		Retries:     1,
	})
	require.NoError(t, err)
	require.Equal(t, payload, result.Data)
	require.Equal(t, "talk.wav", result.Name)
	require.Equal(t, "audio/wav", result.ContentType)
	require.Equal(t, sha(payload), result.SHA256)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	result, err := Fetch(context.Background(), Options{URL: server.URL + "/a.mp3", NoProgress: true, Retries: 2})
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), result.Data)
	require.EqualValues(t, 2, calls.Load())
}

func TestFetchDoesNotRetryClientErrorsOrMismatches(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/missing.wav" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	_, err := Fetch(context.Background(), Options{URL: server.URL + "/missing.wav", NoProgress: true, Retries: 3})
	require.ErrorContains(t, err, "404")
	require.EqualValues(t, 1, calls.Load())

	_, err = Fetch(context.Background(), Options{URL: server.URL + "/a.wav", ExpectedSHA256: sha([]byte("other")), NoProgress: true, Retries: 3})
	require.ErrorIs(t, err, ErrChecksumMismatch)
	require.EqualValues(t, 2, calls.Load())
}

func TestFetchEnforcesSizeLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer server.Close()

	_, err := Fetch(context.Background(), Options{URL: server.URL + "/big.wav", MaxBytes: 16, NoProgress: true, Retries: 1})
	require.ErrorContains(t, err, "limit")
}

func TestResolveExpectedChecksum(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa  talk.flac\n"))
	}))
	defer server.Close()

	checksum, err := ResolveExpectedChecksum(context.Background(), server.URL, "talk.flac", nil)
	require.NoError(t, err)
	require.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", checksum)
}
