package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newFakeAPI(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/sources/youtube", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["link"] == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"link: required"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"job_id":"j1","source_id":"s1","status":"queued"}`))
	})
	mux.HandleFunc("/api/sources/audio", func(w http.ResponseWriter, r *http.Request) {
		_, fh, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"job_id":"j2","source_id":"` + fh.Filename + `","status":"queued"}`))
	})
	mux.HandleFunc("/api/sources/s1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/jobs/j1", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case n < 3:
			w.Write([]byte(`{"job_id":"j1","status":"processing","progress":40,"current_step":"transcribing"}`))
		default:
			w.Write([]byte(`{"job_id":"j1","status":"completed","progress":100,"current_step":"completed"}`))
		}
	})
	mux.HandleFunc("/api/jobs/bad", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"job_id":"bad","status":"failed","progress":10,"error":"video unavailable"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestClient_SubmitYouTube(t *testing.T) {
	srv, _ := newFakeAPI(t)
	c := newClient(srv.URL, "tok", "")
	out, err := c.submitYouTube("https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("submitYouTube: %v", err)
	}
	if out["job_id"] != "j1" || out["status"] != "queued" {
		t.Fatalf("unexpected response: %v", out)
	}
	if _, err := c.submitYouTube(""); err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("want 400 error, got %v", err)
	}
	if _, err := newClient(srv.URL, "", "alice").submitYouTube("x"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("want 401 error, got %v", err)
	}
}

func TestClient_Upload(t *testing.T) {
	srv, _ := newFakeAPI(t)
	path := filepath.Join(t.TempDir(), "talk.mp3")
	if err := os.WriteFile(path, []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := newClient(srv.URL, "", "alice").upload("audio", path, "audio/mpeg")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if out["source_id"] != "talk.mp3" {
		t.Fatalf("unexpected response: %v", out)
	}
}

func TestClient_WaitUntilTerminal(t *testing.T) {
	srv, polls := newFakeAPI(t)
	c := newClient(srv.URL, "", "alice")
	var updates int
	j, err := c.wait("j1", time.Millisecond, time.Second, func(map[string]interface{}) { updates++ })
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if j["status"] != "completed" {
		t.Fatalf("status = %v", j["status"])
	}
	if atomic.LoadInt32(polls) != 3 {
		t.Fatalf("polls = %d, want 3", *polls)
	}
	// 相同状态与进度只回调一次
	if updates != 2 {
		t.Fatalf("updates = %d, want 2", updates)
	}
}

func TestClient_NotFound(t *testing.T) {
	srv, _ := newFakeAPI(t)
	if _, err := newClient(srv.URL, "", "alice").getJob("missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("want 404 error, got %v", err)
	}
}

func TestRun_Commands(t *testing.T) {
	srv, _ := newFakeAPI(t)
	api := func() *client { return newClient(srv.URL, "tok", "") }

	var out, errOut bytes.Buffer
	if code := run([]string{"version"}, &out, &errOut, api); code != 0 || !strings.Contains(out.String(), version) {
		t.Fatalf("version: code=%d out=%q", code, out.String())
	}

	out.Reset()
	if code := run([]string{"submit-youtube", "https://youtu.be/x"}, &out, &errOut, api); code != 0 {
		t.Fatalf("submit-youtube: code=%d stderr=%q", code, errOut.String())
	}
	if !strings.Contains(out.String(), `"job_id": "j1"`) {
		t.Fatalf("submit-youtube output: %q", out.String())
	}

	out.Reset()
	if code := run([]string{"delete", "s1"}, &out, &errOut, api); code != 0 {
		t.Fatalf("delete: code=%d stderr=%q", code, errOut.String())
	}

	errOut.Reset()
	if code := run([]string{"wait", "-interval", "1ms", "bad"}, &out, &errOut, api); code != 1 {
		t.Fatalf("wait on failed job: code=%d", code)
	}
	if !strings.Contains(errOut.String(), "video unavailable") {
		t.Fatalf("stderr = %q", errOut.String())
	}

	if code := run([]string{"bogus"}, &out, &errOut, api); code != 1 {
		t.Fatalf("unknown command: code=%d", code)
	}
}
