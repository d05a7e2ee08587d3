package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/convoloop/config"
	"github.com/BaSui01/convoloop/persistence"
	"github.com/BaSui01/convoloop/testutil"
	"github.com/BaSui01/convoloop/testutil/mocks"
	"github.com/BaSui01/convoloop/types"
)

func testServer(t *testing.T, provider *mocks.MockProvider) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Session.TurnDelayMin = 0
	cfg.Session.TurnDelayMax = 0
	cfg.Session.ErrorRetryDelay = 0

	srv, err := NewServer(cfg, zap.NewNop(),
		WithProvider(provider),
		WithStore(persistence.NewMemoryStore()),
	)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createReq() createSessionRequest {
	return createSessionRequest{
		Title:                "sample mystery",
		Agents:               testutil.SampleAgents(2),
		Scene:                testutil.SampleScene(),
		TerminationCondition: "the mystery is solved",
	}
}

func TestBuildProviderAssemblesResilientStack(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = "sk-test"

	p, err := buildProvider(cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestServerHealth(t *testing.T) {
	_, ts := testServer(t, mocks.NewMockProvider())

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestServerSessionLifecycle(t *testing.T) {
	provider := mocks.NewMockProvider().WithReplies(`{"next_response": "terminate"}`)
	srv, ts := testServer(t, provider)

	// 创建
	resp := postJSON(t, ts.URL+"/sessions", createReq())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]string](t, resp)
	id := created["session_id"]
	require.NotEmpty(t, id)
	assert.Equal(t, "idle", created["state"])

	// 启动后立刻因终止裁决而结束
	resp = postJSON(t, ts.URL+"/sessions/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sess, ok := srv.manager.Get(id)
	require.True(t, ok)
	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not terminate")
	}

	// 快照查询
	resp2, err := http.Get(ts.URL + "/sessions/" + id)
	require.NoError(t, err)
	defer resp2.Body.Close()
	snap := decode[types.Snapshot](t, resp2)
	assert.Equal(t, "terminated", snap.State)
	assert.Equal(t, "sample mystery", snap.Title)

	// 终态后的控制命令被拒
	resp = postJSON(t, ts.URL+"/sessions/"+id+"/stop", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServerPauseResumeStop(t *testing.T) {
	provider := mocks.NewMockProvider().WithReplies(`{"next_response": "Agent1"}`, "a line")
	srv, ts := testServer(t, provider)

	resp := postJSON(t, ts.URL+"/sessions", createReq())
	id := decode[map[string]string](t, resp)["session_id"]

	require.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/sessions/"+id+"/start", nil).StatusCode)

	// idle 会话不能 resume(已在 running,非法)
	assert.Equal(t, http.StatusConflict, postJSON(t, ts.URL+"/sessions/"+id+"/resume", nil).StatusCode)

	require.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/sessions/"+id+"/pause", nil).StatusCode)
	require.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/sessions/"+id+"/resume", nil).StatusCode)
	require.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/sessions/"+id+"/stop", nil).StatusCode)

	sess, _ := srv.manager.Get(id)
	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestServerInjectAndScene(t *testing.T) {
	provider := mocks.NewMockProvider().WithReplies(`{"next_response": "Agent2"}`, "noted")
	srv, ts := testServer(t, provider)

	resp := postJSON(t, ts.URL+"/sessions", createReq())
	id := decode[map[string]string](t, resp)["session_id"]

	// idle 状态注入与换景直接生效
	assert.Equal(t, http.StatusAccepted,
		postJSON(t, ts.URL+"/sessions/"+id+"/messages", map[string]string{"content": "hello there"}).StatusCode)
	assert.Equal(t, http.StatusOK,
		postJSON(t, ts.URL+"/sessions/"+id+"/scene",
			types.Scene{Environment: "rooftop", SceneDescription: "night chase"}).StatusCode)

	sess, _ := srv.manager.Get(id)
	snap := sess.Snapshot()
	require.Len(t, snap.History, 1)
	assert.Equal(t, "hello there", snap.History[0].Content)
	assert.Equal(t, "rooftop", snap.Scene.Environment)

	// 空内容被拒
	assert.Equal(t, http.StatusBadRequest,
		postJSON(t, ts.URL+"/sessions/"+id+"/messages", map[string]string{}).StatusCode)
}

func TestServerValidationErrors(t *testing.T) {
	_, ts := testServer(t, mocks.NewMockProvider())

	// 无角色
	resp := postJSON(t, ts.URL+"/sessions", createSessionRequest{Scene: testutil.SampleScene()})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// 未知会话
	resp = postJSON(t, ts.URL+"/sessions/nope/start", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/sessions/nope")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestServerResumeFromStore(t *testing.T) {
	store := persistence.NewMemoryStore()
	cfg := config.DefaultConfig()
	cfg.Session.TurnDelayMin = 0
	cfg.Session.TurnDelayMax = 0

	provider := mocks.NewMockProvider().WithReplies(`{"next_response": "terminate"}`)
	srv, err := NewServer(cfg, zap.NewNop(), WithProvider(provider), WithStore(store))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	// 预置一份快照,模拟上一进程留下的会话
	stored := &types.Snapshot{
		SessionID:        "sess-resume",
		State:            "terminated",
		Agents:           testutil.SampleAgents(2),
		Scene:            testutil.SampleScene(),
		History:          testutil.SampleHistory(4),
		InvocationCounts: map[string]int{"Agent1": 2, "Agent2": 2},
		Round:            4,
	}
	require.NoError(t, store.SaveSnapshot(testutil.TestContext(t), stored))

	resp := postJSON(t, ts.URL+"/sessions", createSessionRequest{ResumeFrom: "sess-resume"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]string](t, resp)
	assert.Equal(t, "sess-resume", created["session_id"])

	sess, ok := srv.manager.Get("sess-resume")
	require.True(t, ok)
	snap := sess.Snapshot()
	assert.Equal(t, 4, snap.Round)
	assert.Len(t, snap.History, 4)

	// 不存在的恢复源
	resp = postJSON(t, ts.URL+"/sessions", createSessionRequest{ResumeFrom: "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerListSessions(t *testing.T) {
	_, ts := testServer(t, mocks.NewMockProvider())

	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.URL+"/sessions", createReq())
		require.Equal(t, http.StatusCreated, resp.StatusCode, "session %d", i)
	}

	resp, err := http.Get(ts.URL + "/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Sessions []types.Snapshot `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Sessions, 3)
	for _, snap := range body.Sessions {
		assert.Equal(t, "idle", snap.State)
	}
}
