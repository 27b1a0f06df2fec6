package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

const taskID = "0123456789abcdef0123456789abcdef"

func resetViper() {
	viper.Reset()
	viper.SetEnvPrefix("LABELX")
	viper.AutomaticEnv()
}

func execute(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()
	resetViper()
	viper.Set("url", serverURL)
	viper.Set("token", "test-token")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSubmitCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/tasks/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		if req["predict_type"] != "author_name" || req["countdown"] != float64(5) {
			t.Errorf("unexpected body: %s", body)
		}
		accepted := map[string]any{
			"task_id": taskID, "model_type": "topic", "predict_type": "author",
			"queue": "q1", "countdown": 5, "date_range": "2024-01-01 00:00:00 - 2024-01-31 00:00:00",
		}
		json.NewEncoder(w).Encode(map[string]any{"error_code": 200, "error_message": accepted})
	}))
	defer server.Close()

	out, err := execute(t, server.URL, "submit", "--model-type", "topic", "--predict-type", "author_name",
		"--start", "2024-01-01", "--end", "2024-01-31", "--queue", "q1", "--countdown", "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, taskID) || !strings.Contains(out, "topic/author") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestSubmitCommand_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error_code": 400, "error_kind": "invalid_time_range",
			"error_message": "start_time must be earlier than end_time",
		})
	}))
	defer server.Close()

	_, err := execute(t, server.URL, "submit", "--model-type", "topic", "--predict-type", "x",
		"--start", "2024-01-02", "--end", "2024-01-01")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 400 || apiErr.Kind != "invalid_time_range" {
		t.Fatalf("expected APIError 400, got %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/api/tasks/"+taskID) {
			json.NewEncoder(w).Encode(map[string]any{
				"error_code": 404, "error_kind": "not_found", "error_message": "task id is not exist",
				"stage1_status": nil, "stage2_status": nil, "result": nil,
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"error_code": 200, "error_message": "OK", "task_id": taskID,
			"stage1_status": "SUCCESS", "stage2_status": "STARTED", "result": "", "phase": "STAGE2_RUNNING",
		})
	}))
	defer server.Close()

	out, err := execute(t, server.URL, "status", taskID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "SUCCESS") || !strings.Contains(out, "STARTED") || strings.Contains(out, "Result:") {
		t.Errorf("unexpected output: %s", out)
	}

	_, err = execute(t, server.URL, "status", "ffffffffffffffffffffffffffffffff")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 404 {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
}

func TestListAndSampleCommands(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/tasks/":
			if r.URL.Query().Get("limit") != "5" {
				t.Errorf("expected limit=5, got %q", r.URL.RawQuery)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"error_code": 200, "error_message": "OK",
				"content": []map[string]any{{"task_id": taskID, "stage1_status": "PENDING", "model_type": "topic", "predict_type": "author", "created_at": "2024-02-01T10:00:00Z"}},
			})
		case strings.HasSuffix(r.URL.Path, "/sample/"):
			json.NewEncoder(w).Encode(map[string]any{
				"error_code": 200, "error_message": []map[string]any{{"label": "spam"}},
				"tables": []string{"wh_panel_mapping_" + taskID},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	out, err := execute(t, server.URL, "list", "--limit", "5")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, taskID) || !strings.Contains(out, "PENDING") {
		t.Errorf("unexpected list output: %s", out)
	}

	out, err = execute(t, server.URL, "sample", taskID)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if !strings.Contains(out, "spam") || !strings.Contains(out, "wh_panel_mapping_"+taskID) {
		t.Errorf("unexpected sample output: %s", out)
	}
}

func TestClient_NonJSONFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewLabelClient(server.URL, "").Status(taskID)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 APIError, got %v", err)
	}
}
