package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fmueller/voxlate/internal/audio"
	"github.com/fmueller/voxlate/internal/bus"
	"github.com/fmueller/voxlate/internal/speech"
	"github.com/fmueller/voxlate/internal/storage"
	"github.com/fmueller/voxlate/internal/translate"
)

type storedObject struct {
	data []byte
	meta storage.Metadata
}

type memStore struct {
	mu      sync.Mutex
	objects map[string]storedObject
	puts    int
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string]storedObject)}
}

func (m *memStore) key(bucket, name string) string { return bucket + "/" + name }

func (m *memStore) seed(bucket, name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[m.key(bucket, name)] = storedObject{data: data}
}

func (m *memStore) object(bucket, name string) (storedObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[m.key(bucket, name)]
	return obj, ok
}

func (m *memStore) bucketNames(bucket string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	prefix := bucket + "/"
	for k := range m.objects {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k[len(prefix):])
		}
	}
	return out
}

func (m *memStore) Get(_ context.Context, bucket, name string) ([]byte, error) {
	obj, ok := m.object(bucket, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrNotFound, bucket, name)
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *memStore) Open(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	data, err := m.Get(ctx, bucket, name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) URI(bucket, name string) string {
	return "mem://" + bucket + "/" + name
}

func (m *memStore) Put(_ context.Context, bucket, name string, data []byte, meta storage.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.objects[m.key(bucket, name)] = storedObject{data: append([]byte(nil), data...), meta: meta}
	return nil
}

type publishedMessage struct {
	topic string
	data  []byte
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	// fail decides per message whether the publish is rejected.
	fail func(topic string, data []byte) error
	seq  int
}

func (p *fakePublisher) Publish(_ context.Context, topic string, msg bus.Message) *bus.PublishResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		if err := p.fail(topic, msg.Data); err != nil {
			return bus.Resolved("", err)
		}
	}
	p.seq++
	p.published = append(p.published, publishedMessage{topic: topic, data: msg.Data})
	return bus.Resolved(fmt.Sprintf("msg-%d", p.seq), nil)
}

func (p *fakePublisher) messages(topic string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for _, m := range p.published {
		if m.topic == topic {
			out = append(out, m.data)
		}
	}
	return out
}

// drain hands every queued message to the worker or writer until the queue
// is empty, mimicking bus delivery.
func (p *fakePublisher) drain(ctx context.Context, worker *Worker, writer *Writer) error {
	delivered := 0
	for {
		p.mu.Lock()
		if delivered >= len(p.published) {
			p.mu.Unlock()
			return nil
		}
		msg := p.published[delivered]
		delivered++
		p.mu.Unlock()

		var err error
		switch msg.topic {
		case testTranslationTopic:
			err = worker.Handle(ctx, msg.data)
		case testResultsTopic:
			err = writer.Handle(ctx, msg.data)
		}
		if err != nil {
			return err
		}
	}
}

type fakeRecognizer struct {
	result *speech.Result
	err    error
	calls  []speech.Request
}

func (f *fakeRecognizer) Recognize(_ context.Context, req speech.Request) (*speech.Result, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type translateCall struct {
	text, source, target string
}

type fakeTranslator struct {
	mu         sync.Mutex
	detected   string
	detectErr  error
	detects    int
	translated []translateCall
	failFor    map[string]error
}

func (f *fakeTranslator) Translate(_ context.Context, text, source, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.translated = append(f.translated, translateCall{text: text, source: source, target: target})
	if err := f.failFor[target]; err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s->%s] %s", source, target, text), nil
}

func (f *fakeTranslator) Detect(_ context.Context, _ string) (translate.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detects++
	if f.detectErr != nil {
		return translate.Detection{}, f.detectErr
	}
	return translate.Detection{Language: f.detected, Confidence: 0.9}, nil
}

func (f *fakeTranslator) translateCalls() []translateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]translateCall(nil), f.translated...)
}

type fakeTranscoder struct {
	out   []byte
	err   error
	calls int
}

func (f *fakeTranscoder) ToWAV(_ context.Context, _ []byte, _ audio.Format) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

type recordingTranscriber struct {
	infos []AudioInfo
	err   error
}

func (r *recordingTranscriber) Transcribe(_ context.Context, info AudioInfo) error {
	r.infos = append(r.infos, info)
	return r.err
}

const (
	testTranslationTopic = "audio-to-text-translation"
	testResultsTopic     = "audio-to-text-results"
	testNormalizedBucket = "tmp_wav_audio"
	testResultsBucket    = "sound_2_text_2_translate"
)

func segments(texts ...string) *speech.Result {
	result := &speech.Result{}
	for _, text := range texts {
		result.Segments = append(result.Segments, speech.Segment{
			Alternatives: []speech.Alternative{{Transcript: text, Confidence: 0.9}},
		})
	}
	return result
}
