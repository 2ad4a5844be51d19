package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scottteague/indentr/internal/auth"
	"github.com/scottteague/indentr/internal/replication"
	"github.com/scottteague/indentr/internal/scheduler"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubController struct {
	mu         sync.Mutex
	result     replication.Result
	triggerErr error
	triggered  int
	inFlight   bool
	last       *replication.Result
}

func (s *stubController) Trigger(context.Context) (replication.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.triggerErr != nil {
		return replication.Result{}, s.triggerErr
	}
	s.triggered++
	return s.result, nil
}

func (s *stubController) LastResult() (replication.Result, bool) {
	if s.last == nil {
		return replication.Result{}, false
	}
	return *s.last, true
}

func (s *stubController) InFlight() bool {
	return s.inFlight
}

type stubStatus struct {
	remote   bool
	syncedAt time.Time
	err      error
}

func (s stubStatus) RemoteConfigured() bool {
	return s.remote
}

func (s stubStatus) LastSyncedAt(context.Context) (time.Time, error) {
	return s.syncedAt, s.err
}

type stubTokenValidator struct {
	subject     string
	validateErr error
}

func (s stubTokenValidator) ValidateToken(string) (string, error) {
	return s.subject, s.validateErr
}

func newTestHandler(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if deps.Realtime == nil {
		deps.Realtime = NewRealtimeDispatcher()
	}
	if deps.Status == nil {
		deps.Status = stubStatus{}
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return handler
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingScheduler) {
		t.Fatalf("expected missing scheduler error, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{Scheduler: &stubController{}}); !errors.Is(err, errMissingStatusSource) {
		t.Fatalf("expected missing status error, got %v", err)
	}
}

func TestStatusReportsWatermarkAndLastResult(t *testing.T) {
	syncedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	handler := newTestHandler(t, Dependencies{
		Scheduler: &stubController{
			inFlight: true,
			last:     &replication.Result{Status: replication.StatusSuccess, Message: "synced"},
		},
		Status: stubStatus{remote: true, syncedAt: syncedAt},
	})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/sync/status", http.NoBody))

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusOK)
	}
	var payload statusResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode status payload: %v", err)
	}
	if !payload.RemoteConfigured || !payload.InFlight {
		t.Fatalf("unexpected flags %#v", payload)
	}
	if payload.LastSyncedAt == nil || !payload.LastSyncedAt.Equal(syncedAt) {
		t.Fatalf("unexpected last synced time %v", payload.LastSyncedAt)
	}
	if payload.LastResult == nil || payload.LastResult.Status != replication.StatusSuccess {
		t.Fatalf("unexpected last result %#v", payload.LastResult)
	}
}

func TestStatusOmitsWatermarkBeforeFirstSync(t *testing.T) {
	handler := newTestHandler(t, Dependencies{Scheduler: &stubController{}})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/sync/status", http.NoBody))

	if !strings.Contains(recorder.Body.String(), `"last_synced_at":null`) {
		t.Fatalf("expected null last_synced_at, got %s", recorder.Body.String())
	}
}

func TestTriggerReturnsCycleResult(t *testing.T) {
	controller := &stubController{result: replication.Result{Status: replication.StatusOffline, Message: "remote store unreachable"}}
	handler := newTestHandler(t, Dependencies{Scheduler: controller})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/sync", http.NoBody))

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusOK)
	}
	var result replication.Result
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.Status != replication.StatusOffline {
		t.Fatalf("unexpected result status %s", result.Status)
	}
	if controller.triggered != 1 {
		t.Fatalf("expected one trigger, got %d", controller.triggered)
	}
}

func TestTriggerWhileInFlightConflicts(t *testing.T) {
	handler := newTestHandler(t, Dependencies{Scheduler: &stubController{triggerErr: scheduler.ErrCycleInFlight}})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/sync", http.NoBody))

	if recorder.Code != http.StatusConflict {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusConflict)
	}
}

func TestTriggerRequiresBearerTokenWhenConfigured(t *testing.T) {
	controller := &stubController{}
	handler := newTestHandler(t, Dependencies{
		Scheduler:      controller,
		TokenValidator: stubTokenValidator{subject: "operator"},
	})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/sync", http.NoBody))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}

	request := httptest.NewRequest(http.MethodPost, "/sync", http.NoBody)
	request.Header.Set("Authorization", "Bearer token")
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusOK)
	}
	if controller.triggered != 1 {
		t.Fatalf("expected one trigger, got %d", controller.triggered)
	}
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/sync", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenValidator{validateErr: auth.ErrExpiredToken},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entries[0].Level)
	}
	if entries[0].Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entries[0].Message)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/sync", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenValidator{validateErr: errors.New("signature mismatch")},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %v", entries)
	}
}

func TestCORSPreflightAllowsAuthorizationHeader(t *testing.T) {
	handler := newTestHandler(t, Dependencies{Scheduler: &stubController{}})

	request := httptest.NewRequest(http.MethodOptions, "/sync", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), "authorization") {
		t.Fatalf("expected Access-Control-Allow-Headers to include Authorization, got %q", allowHeaders)
	}
}

func TestEventsStreamDeliversPublishedResults(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	handler := newTestHandler(t, Dependencies{
		Scheduler:      &stubController{},
		Realtime:       dispatcher,
		TokenValidator: stubTokenValidator{subject: "operator"},
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	streamRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/sync/events?access_token=token", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	dispatcher.Publish(replication.Result{Status: replication.StatusSuccess, Message: "synced"})

	type readResult struct {
		line string
		err  error
	}
	streamReader := bufio.NewReader(streamResp.Body)
	currentEventType := ""
	timeout := time.After(5 * time.Second)
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-timeout:
			t.Fatal("timed out waiting for sync event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != RealtimeEventSyncResult {
				continue
			}
			var message RealtimeMessage
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &message); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if message.Result == nil || message.Result.Status != replication.StatusSuccess {
				t.Fatalf("unexpected event payload %#v", message)
			}
			return
		}
	}
}
