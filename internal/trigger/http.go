package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fmueller/voxlate/internal/bus"
	"github.com/fmueller/voxlate/internal/logging"
	"github.com/fmueller/voxlate/internal/pipeline"
	"github.com/fmueller/voxlate/internal/storage"
)

const maxPushBody = 10 << 20

// PushServer accepts push deliveries for subscriptions and object
// notifications for buckets.
//
//	POST /push/{subscription}  body: push envelope
//	POST /objects/{bucket}     body: {"bucket": ..., "name": ...}
//
// A 2xx status acks the event. Terminal failures answer 422, retryable ones
// 503 so the sender redelivers.
type PushServer struct {
	bind          string
	subscriptions map[string]*BusTrigger
	buckets       map[string]*StorageTrigger
	logger        *zap.Logger

	listener net.Listener
	server   *http.Server
}

func NewPushServer(bind string, logger *zap.Logger) *PushServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushServer{
		bind:          strings.TrimSpace(bind),
		subscriptions: make(map[string]*BusTrigger),
		buckets:       make(map[string]*StorageTrigger),
		logger:        logger,
	}
}

// Subscription routes pushes for t.Subscription to t.
func (s *PushServer) Subscription(t *BusTrigger) {
	s.subscriptions[t.Subscription] = t
}

// Bucket routes object notifications for bucket to t. Retries happen
// inside t before the response is written.
func (s *PushServer) Bucket(bucket string, t *StorageTrigger) {
	s.buckets[bucket] = t
}

func (s *PushServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /push/{subscription}", s.handlePush)
	mux.HandleFunc("POST /objects/{bucket}", s.handleObject)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// Start listens on the configured address and shuts down when ctx is done.
func (s *PushServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("push listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("push server error", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("push server listening", zap.String("address", listener.Addr().String()))
	return nil
}

// Addr is the bound address once Start has returned.
func (s *PushServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *PushServer) handlePush(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("subscription")
	t, ok := s.subscriptions[name]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown subscription "+name)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	env, err := pipeline.DecodePushEnvelope(body)
	if err != nil {
		s.logger.Warn("push rejected", zap.String("subscription", name), zap.Error(err))
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ctx := logging.WithFields(r.Context(),
		zap.String(logging.FieldInvocation, uuid.NewString()),
		zap.String(logging.FieldTrigger, t.Name),
	)
	logger := logging.For(ctx, t.Logger).With(zap.String("message_id", env.Message.MessageID))
	err = t.classify(ctx, logger, runMessageHandler(ctx, t.Handler, env.Message.Data))
	s.writeOutcome(w, err)
}

type objectNotification struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func (s *PushServer) handleObject(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	t, ok := s.buckets[bucket]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown bucket "+bucket)
		return
	}
	var note objectNotification
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPushBody)).Decode(&note); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "decode notification: "+err.Error())
		return
	}
	if note.Bucket != "" && note.Bucket != bucket {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("notification for bucket %q sent to %q", note.Bucket, bucket))
		return
	}
	if err := storage.ValidateName(note.Name); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	err := t.Invoke(r.Context(), storage.ObjectEvent{Bucket: bucket, Name: note.Name})
	if err != nil && !pipeline.Retryable(err) {
		err = bus.Terminal(err)
	}
	s.writeOutcome(w, err)
}

func (s *PushServer) writeOutcome(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case bus.IsTerminal(err):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func (s *PushServer) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		s.logger.Debug("write error response", zap.Error(err))
	}
}
