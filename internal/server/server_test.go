package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	log "log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jarvis/internal/assistant"
	"jarvis/internal/memory"
	"jarvis/internal/sysinfo"
	"jarvis/internal/voice"
)

type fakeBackend struct {
	mu        sync.Mutex
	replies   []string
	err       error
	histories [][]memory.Turn
}

func (f *fakeBackend) next(history []memory.Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories = append(f.histories, append([]memory.Turn(nil), history...))
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "ok", nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func (f *fakeBackend) Generate(ctx context.Context, prompt string, cfg assistant.GenerationConfig) (string, error) {
	return f.next(nil)
}

func (f *fakeBackend) Chat(ctx context.Context, history []memory.Turn, prompt string, cfg assistant.GenerationConfig) (string, error) {
	return f.next(history)
}

type fakeClassifier struct{}

func (fakeClassifier) Classify(ctx context.Context, text string) ([]assistant.Sentiment, error) {
	return []assistant.Sentiment{{Label: "POSITIVE", Score: 0.9}, {Label: "NEGATIVE", Score: 0.1}}, nil
}

type fakeTranscriber struct {
	text string
}

func (f fakeTranscriber) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	return f.text, nil
}

type fakeMetrics struct {
	err error
}

func (f fakeMetrics) Sample(ctx context.Context) (sysinfo.Snapshot, error) {
	return sysinfo.Snapshot{CPU: sysinfo.CPU{Percent: 12.5, Count: 8}}, f.err
}

func quiet() *log.Logger {
	return log.New(log.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, backend assistant.Backend, opt Options) *Server {
	t.Helper()
	opt.Generator = assistant.New(assistant.Options{
		Backend:    backend,
		Classifier: fakeClassifier{},
		Logger:     quiet(),
	})
	if opt.Sessions == nil {
		opt.Sessions = memory.NewRegistry(10)
	}
	if opt.AllowedOrigins == nil {
		opt.AllowedOrigins = []string{"http://localhost:*"}
	}
	opt.Logger = quiet()
	return New(opt)
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestConverse_StoresOnlySuccessfulTurns(t *testing.T) {
	be := &fakeBackend{replies: []string{"  Hello there.  "}}
	s := newTestServer(t, be, Options{})

	r := s.Converse(context.Background(), "a", "hi")
	require.True(t, r.OK())
	assert.Equal(t, "Hello there.", r.Text)

	be.err = errors.New("quota")
	r = s.Converse(context.Background(), "a", "again")
	assert.Equal(t, assistant.FailureReply, r.Text)
	assert.Equal(t, assistant.KindBackend, r.Kind)

	assert.Equal(t, []memory.Turn{
		{Role: memory.RoleUser, Content: "hi"},
		{Role: memory.RoleAssistant, Content: "Hello there."},
	}, s.history("a"))

	require.Len(t, be.histories, 2)
	assert.Empty(t, be.histories[0])
	assert.Len(t, be.histories[1], 2)
}

func TestConverse_Unavailable(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	r := s.Converse(context.Background(), "a", "hi")
	assert.Equal(t, assistant.UnavailableReply, r.Text)
	assert.Equal(t, assistant.KindUnavailable, r.Kind)
	assert.Empty(t, s.history("a"))
}

func TestConverse_SessionsAreIsolated(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, Options{})

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				s.Converse(context.Background(), id, "ping "+id)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"a", "b", "c"} {
		h := s.history(id)
		require.Len(t, h, 10)
		for _, turn := range h {
			if turn.Role == memory.RoleUser {
				assert.Equal(t, "ping "+id, turn.Content)
			}
		}
	}
}

func TestHTTP_RootAndHealth(t *testing.T) {
	h := newTestServer(t, &fakeBackend{}, Options{}).Handler()

	rec, body := do(t, h, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to JARVIS AI Assistant API", body["message"])

	rec, body = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["ai_available"])
	assert.Equal(t, true, body["sentiment_available"])
	assert.Equal(t, false, body["voice_available"])

	rec, body = do(t, h, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, CodeValidation, body["error_code"])
	assert.Equal(t, "Not found", body["error"])
}

func TestHTTP_Chat(t *testing.T) {
	be := &fakeBackend{replies: []string{"first", "second"}}
	h := newTestServer(t, be, Options{}).Handler()

	rec, body := do(t, h, http.MethodPost, "/api/chat", map[string]string{"prompt": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "first", body["text"])
	sid, _ := body["session_id"].(string)
	_, err := uuid.Parse(sid)
	require.NoError(t, err)

	rec, body = do(t, h, http.MethodPost, "/api/chat", map[string]string{"prompt": "more", "session_id": sid})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "second", body["text"])
	assert.Equal(t, sid, body["session_id"])
	assert.Len(t, be.histories[1], 2)

	rec, body = do(t, h, http.MethodGet, "/api/sessions/"+sid+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["turns"], 4)

	rec, _ = do(t, h, http.MethodDelete, "/api/sessions/"+sid, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, body = do(t, h, http.MethodGet, "/api/sessions/"+sid+"/history", nil)
	assert.Equal(t, []any{}, body["turns"])
}

func TestHTTP_ChatErrors(t *testing.T) {
	tests := []struct {
		name    string
		backend assistant.Backend
		body    any
		status  int
		code    string
		msg     string
	}{
		{"empty prompt", &fakeBackend{}, map[string]string{"prompt": "  "}, http.StatusBadRequest, CodeValidation, "Prompt is required"},
		{"bad json", &fakeBackend{}, "not an object", http.StatusBadRequest, CodeValidation, "Invalid JSON body"},
		{"unavailable", nil, map[string]string{"prompt": "hi"}, http.StatusServiceUnavailable, CodeAIUnavailable, assistant.UnavailableReply},
		{"backend", &fakeBackend{err: errors.New("boom")}, map[string]string{"prompt": "hi"}, http.StatusBadGateway, CodeAIError, assistant.FailureReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, tt.backend, Options{}).Handler()
			rec, body := do(t, h, http.MethodPost, "/api/chat", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "error", body["status"])
			assert.Equal(t, tt.code, body["error_code"])
			assert.Equal(t, tt.msg, body["error"])
			assert.NotContains(t, rec.Body.String(), "boom")
		})
	}
}

func TestHTTP_Sentiment(t *testing.T) {
	h := newTestServer(t, &fakeBackend{}, Options{}).Handler()

	rec, body := do(t, h, http.MethodPost, "/api/sentiment", map[string]string{"text": "great"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "POSITIVE", body["label"])
	assert.InDelta(t, 0.9, body["score"], 1e-9)

	rec, body = do(t, h, http.MethodPost, "/api/sentiment", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, body["error_code"])
}

// wavBytes builds a 16-bit mono PCM WAV of a constant tone.
func wavBytes(samples int) []byte {
	var b bytes.Buffer
	dataLen := samples * 2
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+dataLen))
	b.WriteString("WAVEfmt ")
	for _, v := range []any{uint32(16), uint16(1), uint16(1), uint32(16000), uint32(32000), uint16(2), uint16(16)} {
		_ = binary.Write(&b, binary.LittleEndian, v)
	}
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(dataLen))
	for i := 0; i < samples; i++ {
		_ = binary.Write(&b, binary.LittleEndian, int16(2000))
	}
	return b.Bytes()
}

func uploadRequest(t *testing.T, field, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/process_voice", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHTTP_ProcessVoice(t *testing.T) {
	proc := voice.New(fakeTranscriber{text: " what time is it "}, voice.Options{Logger: quiet()})
	h := newTestServer(t, &fakeBackend{}, Options{Voice: proc}).Handler()

	tests := []struct {
		name   string
		req    *http.Request
		status int
		text   string
		err    string
	}{
		{"wav", uploadRequest(t, "audio_file", "clip.wav", wavBytes(1600)), http.StatusOK, "what time is it", ""},
		{"garbage", uploadRequest(t, "audio_file", "clip.bin", []byte("not audio")), http.StatusUnprocessableEntity, "", transcribeFailed},
		{"missing field", uploadRequest(t, "file", "clip.wav", wavBytes(16)), http.StatusBadRequest, "", "audio_file is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.status, rec.Code)

			var body chatResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.text, body.Text)
			assert.Equal(t, tt.err, body.Error)
		})
	}
}

func TestHTTP_ProcessVoiceWithoutModel(t *testing.T) {
	h := newTestServer(t, &fakeBackend{}, Options{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "audio_file", "clip.wav", wavBytes(16)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeVoiceError)
}

func TestHTTP_System(t *testing.T) {
	h := newTestServer(t, &fakeBackend{}, Options{Metrics: fakeMetrics{}}).Handler()
	rec, body := do(t, h, http.MethodGet, "/api/system", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 12.5, body["cpu"].(map[string]any)["percent"], 1e-9)

	h = newTestServer(t, &fakeBackend{}, Options{Metrics: fakeMetrics{err: errors.New("proc gone")}}).Handler()
	rec, body = do(t, h, http.MethodGet, "/api/system", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInternal, body["error_code"])

	h = newTestServer(t, &fakeBackend{}, Options{}).Handler()
	rec, _ = do(t, h, http.MethodGet, "/api/system", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOriginAllowed(t *testing.T) {
	patterns := []string{"http://localhost:*", "https://jarvis.example"}
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:5173", true},
		{"http://localhost:3000", true},
		{"http://localhost:", false},
		{"http://localhost:80/evil", false},
		{"http://localhost.evil.com:80", false},
		{"https://jarvis.example", true},
		{"https://jarvis.example:443", false},
		{"http://127.0.0.1:5173", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, originAllowed(patterns, tt.origin), tt.origin)
	}
	assert.True(t, originAllowed([]string{"*"}, "http://anything"))
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, &fakeBackend{}, Options{}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestHTTP_UnknownMethod(t *testing.T) {
	h := newTestServer(t, &fakeBackend{}, Options{}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat", strings.NewReader("")))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Header().Get("Allow"), http.MethodPost)

	var body chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, CodeValidation, body.ErrorCode)
	assert.Equal(t, "Method not allowed", body.Error)
}
