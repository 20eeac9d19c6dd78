// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
api:
  port: 9000
  host: "127.0.0.1"
jobstore:
  type: postgres
  dsn: "${TEST_NOTES_DSN}"
queue:
  type: redis
  addr: "localhost:6379"
  lease_duration: "45s"
worker:
  max_retries: 5
ingest:
  max_audio_bytes: 1024
convert:
  rate_limits:
    youtube:
      qps: 2
      burst: 4
log:
  level: "debug"
`
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	t.Setenv("TEST_NOTES_DSN", "postgres://u:p@localhost/notes")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port: got %d", cfg.API.Port)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host: got %q", cfg.API.Host)
	}
	if cfg.JobStore.DSN != "postgres://u:p@localhost/notes" {
		t.Errorf("JobStore.DSN not expanded: %q", cfg.JobStore.DSN)
	}
	if cfg.Queue.Type != "redis" || cfg.Queue.LeaseDuration != "45s" {
		t.Errorf("Queue: got %+v", cfg.Queue)
	}
	if cfg.Worker.MaxRetries != 5 {
		t.Errorf("Worker.MaxRetries: got %d", cfg.Worker.MaxRetries)
	}
	if cfg.Ingest.MaxAudioBytes != 1024 {
		t.Errorf("Ingest.MaxAudioBytes: got %d", cfg.Ingest.MaxAudioBytes)
	}
	if rl := cfg.Convert.RateLimits["youtube"]; rl.QPS != 2 || rl.Burst != 4 {
		t.Errorf("RateLimits[youtube]: got %+v", rl)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %q", cfg.Log.Level)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadConfig on missing file should error")
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		def  time.Duration
		want time.Duration
	}{
		{"", time.Second, time.Second},
		{"bad", time.Second, time.Second},
		{"-5s", time.Second, time.Second},
		{"45s", time.Second, 45 * time.Second},
		{"2m", time.Second, 2 * time.Minute},
	}
	for _, tc := range cases {
		if got := ParseDuration(tc.in, tc.def); got != tc.want {
			t.Errorf("ParseDuration(%q): got %v want %v", tc.in, got, tc.want)
		}
	}
}
