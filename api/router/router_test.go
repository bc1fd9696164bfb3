package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netsession/addone/platform"
	_ "github.com/sshcollectorpro/netsession/addone/platform/platforms/all"
	"github.com/sshcollectorpro/netsession/internal/config"
	"github.com/sshcollectorpro/netsession/internal/database"
	"github.com/sshcollectorpro/netsession/internal/service"
	"github.com/sshcollectorpro/netsession/internal/session/sessiontest"
	"github.com/sshcollectorpro/netsession/pkg/transport"
)

// fakeDialer 每次拨号得到一台新的模拟路由器
func fakeDialer(transport.Options) transport.Dialer {
	return func(_ context.Context, address string) (transport.Transport, error) {
		if address != "10.0.0.1" {
			return nil, os.ErrNotExist
		}
		d := &sessiontest.Device{
			Hostname: "edge1",
			Username: "alice",
			Password: "secret",
			Outputs: map[string]string{
				"show clock": "*10:00:00.000 UTC Mon Mar 1 2021\r\n",
			},
		}
		return d.Attach(5 * time.Millisecond), nil
	}
}

func setup(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()
	body := strings.Join([]string{
		"session:",
		"  timeout: 300ms",
		"batch:",
		"  persist_history: true",
		"  archive: false",
		"textfsm:",
		"  template_dir: " + filepath.Join(dir, "templates"),
		"",
	}, "\n")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.NoError(t, database.InitSQLite(config.SQLiteConfig{Path: filepath.Join(dir, "api.db")}))
	t.Cleanup(func() { database.Close() })

	dispatcher := service.NewDispatcher(cfg, service.WithDialerFactory(platform.ProtocolTelnet, fakeDialer))
	pool := service.NewPool(dispatcher, cfg.Pool)
	t.Cleanup(func() { pool.Close() })
	history := service.NewHistory(database.GetDB())
	executor := service.NewExecutor(cfg, pool, service.WithHistory(history))

	return SetupRouter(Services{
		Executor:   executor,
		Dispatcher: dispatcher,
		Pool:       pool,
		History:    history,
		DB:         database.GetDB(),

		ConsoleOrigins: []string{"noc.example.com"},
	})
}

func do(h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthAndPlatforms(t *testing.T) {
	h := setup(t)

	w := do(h, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "max_active")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(h, http.MethodGet, "/api/v1/platforms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"apresia_telnet", "cisco_ssh", "cisco_telnet"}, resp.Data)

	w = do(h, http.MethodGet, "/api/v1/platforms?mode=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteAndHistory(t *testing.T) {
	h := setup(t)

	req := gin.H{
		"task_id": "task-1",
		"devices": []gin.H{{
			"address":     "10.0.0.1",
			"username":    "alice",
			"password":    "secret",
			"device_type": "cisco_telnet",
			"commands":    []string{"show clock"},
		}},
	}
	w := do(h, http.MethodPost, "/api/v1/execute", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result service.BatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "task-1", result.TaskID)
	assert.Equal(t, "success", result.Status)
	require.Len(t, result.Devices, 1)
	require.Len(t, result.Devices[0].Commands, 1)
	assert.Contains(t, result.Devices[0].Commands[0].Output, "UTC")
	assert.Equal(t, "edge1", result.Devices[0].Hostname)

	w = do(h, http.MethodGet, "/api/v1/history?task_id=task-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Data struct {
			Total int64 `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Equal(t, int64(1), history.Data.Total)

	w = do(h, http.MethodGet, "/api/v1/tasks/task-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"success"`)

	w = do(h, http.MethodGet, "/api/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecuteValidation(t *testing.T) {
	h := setup(t)

	w := do(h, http.MethodPost, "/api/v1/execute", gin.H{"devices": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(h, http.MethodPost, "/api/v1/execute", gin.H{"devices": []gin.H{{"address": "10.0.0.1"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_FAILED")
}

func TestExecuteReportsDeviceFailure(t *testing.T) {
	h := setup(t)

	w := do(h, http.MethodPost, "/api/v1/execute", gin.H{
		"retries": 0,
		"devices": []gin.H{{"address": "10.0.0.9", "device_type": "cisco_telnet", "commands": []string{"show clock"}}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var result service.BatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, "transport unavailable", result.Devices[0].ErrorKind)
}

func TestDeviceInventory(t *testing.T) {
	h := setup(t)

	w := do(h, http.MethodPost, "/api/v1/devices", gin.H{
		"name": "edge1", "address": "10.0.0.1", "device_type": "cisco_telnet",
		"username": "alice", "password": "secret",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "secret")

	var created struct {
		Data struct {
			ID uint `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := strconv.FormatUint(uint64(created.Data.ID), 10)

	w = do(h, http.MethodPost, "/api/v1/devices", gin.H{"name": "edge1", "address": "10.0.0.1", "device_type": "cisco_telnet"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "DEVICE_EXISTS")

	w = do(h, http.MethodPost, "/api/v1/devices", gin.H{"name": "x", "address": "10.0.0.2", "device_type": "foo"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "UNSUPPORTED_DEVICE_TYPE")

	w = do(h, http.MethodGet, "/api/v1/devices", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "edge1")

	w = do(h, http.MethodPost, "/api/v1/devices/"+id+"/test", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"prompt":"edge1>"`)

	w = do(h, http.MethodDelete, "/api/v1/devices/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(h, http.MethodGet, "/api/v1/devices/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(h, http.MethodGet, "/api/v1/devices/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNoRouteAndCORS(t *testing.T) {
	h := setup(t)

	w := do(h, http.MethodGet, "/api/v1/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")

	w = do(h, http.MethodOptions, "/api/v1/execute", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestConsoleWebsocket(t *testing.T) {
	srv := httptest.NewServer(setup(t))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/console", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	send := func(v interface{}) {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, conn.Write(ctx, websocket.MessageText, b))
	}
	recv := func() map[string]interface{} {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}

	send(gin.H{"type": "open", "address": "10.0.0.1", "username": "alice", "password": "secret", "device_type": "cisco_telnet"})
	opened := recv()
	assert.Equal(t, "opened", opened["type"])
	assert.Equal(t, "edge1>", opened["prompt"])

	send(gin.H{"type": "command", "command": "show clock"})
	out := recv()
	assert.Equal(t, "output", out["type"])
	assert.Equal(t, "*10:00:00.000 UTC Mon Mar 1 2021", out["output"])

	send(gin.H{"type": "bogus"})
	assert.Equal(t, "error", recv()["type"])

	send(gin.H{"type": "close"})
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestConsoleRejectsUnknownDevice(t *testing.T) {
	srv := httptest.NewServer(setup(t))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/console", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	b, _ := json.Marshal(gin.H{"type": "open", "address": "10.0.0.1", "device_type": "foo"})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, b))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), "unsupported device type")

	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusCode(4502), websocket.CloseStatus(err))
}

func TestConsoleChecksOrigin(t *testing.T) {
	srv := httptest.NewServer(setup(t))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/console"

	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://evil.example"}},
	})
	require.Error(t, err, "未授权来源不能打开控制台")
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://noc.example.com"}},
	})
	require.NoError(t, err)
	conn.Close(websocket.StatusNormalClosure, "")
}
