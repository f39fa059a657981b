package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"carebridge-intake/internal/bridge"
	"carebridge-intake/internal/core"
	intakehttp "carebridge-intake/internal/http"
	"carebridge-intake/internal/llm"
	"carebridge-intake/internal/session"
	"carebridge-intake/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// downLLM always fails, exercising the fallback paths end to end.
type downLLM struct{}

func (downLLM) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return "", errors.New("model unavailable")
}

func (downLLM) ChatStructured(ctx context.Context, prompt string, out any) error {
	return errors.New("model unavailable")
}

type instantSource struct {
	replies []pkg.SpecialistReply
}

func (s *instantSource) FindByReportID(ctx context.Context, reportID string) ([]pkg.SpecialistReply, error) {
	return s.replies, nil
}

type testEnv struct {
	api        *httptest.Server
	careBridge *httptest.Server
	pushHits   *atomic.Int32
}

func newTestEnv(t *testing.T, source bridge.ResponseSource) *testEnv {
	t.Helper()
	var hits atomic.Int32
	careBridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "r-100"})
	}))
	t.Cleanup(careBridge.Close)

	chat := core.NewChatService(downLLM{})
	chat.RevealInterval = time.Microsecond
	srv := intakehttp.NewServer(
		session.NewManager(),
		chat,
		core.NewSynthesizer(downLLM{}),
		func() *bridge.Coordinator {
			return bridge.NewCoordinator(careBridge.URL, source, time.Millisecond, 10)
		},
		t.TempDir(),
	)
	api := httptest.NewServer(srv.Routes())
	t.Cleanup(api.Close)
	return &testEnv{api: api, careBridge: careBridge, pushHits: &hits}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.api.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (e *testEnv) getJSON(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(e.api.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func (e *testEnv) onboard(t *testing.T) string {
	t.Helper()
	resp, raw := e.postJSON(t, "/api/sessions", map[string]any{
		"name": "Sam", "age": 8, "gender": "Female", "location": "Gaza",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var created struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(raw, &created))
	assert.Contains(t, created.Message, "Sam")
	return created.SessionID
}

func TestCreateSessionValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, raw := env.postJSON(t, "/api/sessions", map[string]any{
		"name": "", "age": 8, "gender": "Female", "location": "Gaza",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(raw), "name")

	resp, _ = env.postJSON(t, "/api/sessions", map[string]any{
		"name": "Sam", "age": 25, "gender": "Female", "location": "Gaza",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessageStreamsFallbackReply(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.onboard(t)

	resp, raw := env.postJSON(t, "/api/sessions/"+id+"/messages", map[string]any{
		"text": "He has nightmares every night",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := string(raw)
	// The model is down, so the empathetic fallback names the child.
	assert.Contains(t, body, "Sam")
	assert.Contains(t, body, "event: done")

	var snapshot struct {
		History []pkg.Turn `json:"conversation_history"`
	}
	env.getJSON(t, "/api/sessions/"+id, &snapshot)
	require.Len(t, snapshot.History, 2)
	assert.Equal(t, pkg.RoleAssistant, snapshot.History[1].Role)
}

func TestGenerateReportFallback(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.onboard(t)
	env.postJSON(t, "/api/sessions/"+id+"/messages", map[string]any{"text": "He stopped speaking"})

	resp, raw := env.postJSON(t, "/api/sessions/"+id+"/report", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report struct {
		Report   string   `json:"report"`
		Progress []string `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Contains(t, report.Report, "6/10")
	assert.Contains(t, report.Report, "sleep disturbances")
	assert.Contains(t, report.Report, "conflict")
	assert.NotEmpty(t, report.Progress)
}

func TestSubmitWithoutConversation(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.onboard(t)

	resp, raw := env.postJSON(t, "/api/sessions/"+id+"/submit", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var result struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.False(t, result.OK)
	assert.Contains(t, result.Message, "conversation")
	assert.Zero(t, env.pushHits.Load(), "no HTTP call may reach the platform")
}

func TestSubmitPlatformFaultReturnsBadGateway(t *testing.T) {
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database on fire", http.StatusInternalServerError)
	}))
	t.Cleanup(platform.Close)

	chat := core.NewChatService(downLLM{})
	chat.RevealInterval = time.Microsecond
	srv := intakehttp.NewServer(
		session.NewManager(),
		chat,
		core.NewSynthesizer(downLLM{}),
		func() *bridge.Coordinator {
			return bridge.NewCoordinator(platform.URL, nil, time.Millisecond, 3)
		},
		t.TempDir(),
	)
	api := httptest.NewServer(srv.Routes())
	t.Cleanup(api.Close)
	env := &testEnv{api: api}

	id := env.onboard(t)
	resp, _ := env.postJSON(t, "/api/sessions/"+id+"/messages", map[string]any{"text": "He has nightmares"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := env.postJSON(t, "/api/sessions/"+id+"/submit", map[string]any{})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(raw), "500")
	assert.Contains(t, string(raw), "database on fire")
}

func TestSubmitAndReceiveSpecialistReply(t *testing.T) {
	source := &instantSource{replies: []pkg.SpecialistReply{{
		ResponseDate:    time.Now(),
		SpecialistID:    "psy-3",
		UrgencyLevel:    "high",
		Notes:           "Arrange an evaluation.",
		Recommendations: json.RawMessage(`{"follow_up":"this week"}`),
	}}}
	env := newTestEnv(t, source)
	id := env.onboard(t)
	env.postJSON(t, "/api/sessions/"+id+"/messages", map[string]any{"text": "He stopped speaking"})

	resp, raw := env.postJSON(t, "/api/sessions/"+id+"/submit", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var result struct {
		OK       bool   `json:"ok"`
		Message  string `json:"message"`
		ReportID string `json:"report_id"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.True(t, result.OK)
	assert.Equal(t, "r-100", result.ReportID)

	// The reply lands within a few poll intervals.
	deadline := time.Now().Add(3 * time.Second)
	for {
		var reply struct {
			Present bool   `json:"present"`
			Reply   string `json:"reply"`
			Status  string `json:"status"`
		}
		env.getJSON(t, "/api/sessions/"+id+"/reply", &reply)
		if reply.Present {
			assert.Contains(t, reply.Reply, "psy-3")
			assert.Contains(t, reply.Reply, "HIGH")
			assert.Contains(t, reply.Reply, "**Follow Up:** this week")
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("specialist reply never became available")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReplyBeforeAnySubmission(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.onboard(t)

	var reply struct {
		Present bool   `json:"present"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	env.getJSON(t, "/api/sessions/"+id+"/reply", &reply)
	assert.False(t, reply.Present)
	assert.Equal(t, string(bridge.StatusIdle), reply.Status)
	assert.Contains(t, reply.Message, "Submit a report first")
}

func TestResetClearsConversation(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.onboard(t)
	env.postJSON(t, "/api/sessions/"+id+"/messages", map[string]any{"text": "hello"})

	resp, _ := env.postJSON(t, "/api/sessions/"+id+"/reset", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snapshot struct {
		History []pkg.Turn    `json:"conversation_history"`
		Child   pkg.ChildInfo `json:"child_info"`
	}
	env.getJSON(t, "/api/sessions/"+id, &snapshot)
	assert.Empty(t, snapshot.History)
	assert.Equal(t, "Sam", snapshot.Child.Name)
}

func TestSaveReportWritesFiles(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.onboard(t)
	env.postJSON(t, "/api/sessions/"+id+"/messages", map[string]any{"text": "hello"})

	resp, raw := env.postJSON(t, "/api/sessions/"+id+"/report/save", map[string]any{
		"report": "# COMPREHENSIVE TRAUMA ASSESSMENT REPORT\n",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var saved struct {
		ReportFile string `json:"report_file"`
		DataFile   string `json:"data_file"`
	}
	require.NoError(t, json.Unmarshal(raw, &saved))
	assert.FileExists(t, saved.ReportFile)
	assert.FileExists(t, saved.DataFile)

	data, err := os.ReadFile(saved.DataFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"mobile_app_id"`)

	// An empty report body is rejected.
	resp, _ = env.postJSON(t, "/api/sessions/"+id+"/report/save", map[string]any{"report": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.postJSON(t, "/api/sessions/6e1f0c5e-0000-0000-0000-000000000000/messages", map[string]any{"text": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
