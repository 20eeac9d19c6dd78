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

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notes-platform/internal/api/http/middleware"
	"notes-platform/internal/dispatcher"
	"notes-platform/internal/job"
	"notes-platform/internal/status"
	"notes-platform/internal/storage/object"
	"notes-platform/internal/taskqueue"
)

type testServer struct {
	h     *server.Hertz
	store *job.MemoryStore
	queue *taskqueue.MemoryQueue
}

func newTestServer(t *testing.T, mw *middleware.Middleware) *testServer {
	t.Helper()
	store := job.NewMemoryStore()
	queue := taskqueue.NewMemoryQueue(taskqueue.Options{})
	t.Cleanup(func() { queue.Close() })
	d := dispatcher.New(store, queue, object.NewContentStore(object.NewMemoryStore()),
		dispatcher.Limits{MaxAudioBytes: 16, MaxDocumentBytes: 64}, nil)
	if mw == nil {
		mw = middleware.NewMiddleware(nil, nil)
	}
	r := NewRouter(NewHandler(d, status.NewReporter(store), nil), mw, 64)
	return &testServer{h: r.Build(":0"), store: store, queue: queue}
}

func (s *testServer) do(method, path string, body []byte, headers ...ut.Header) *ut.ResponseRecorder {
	return ut.PerformRequest(s.h.Engine, method, path, &ut.Body{Body: bytes.NewReader(body), Len: len(body)}, headers...)
}

func user(id string) ut.Header { return ut.Header{Key: middleware.UserHeader, Value: id} }

func multipartFile(t *testing.T, name, contentType string, content []byte) ([]byte, ut.Header) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes(), ut.Header{Key: "Content-Type", Value: w.FormDataContentType()}
}

func decodeSubmit(t *testing.T, w *ut.ResponseRecorder) SubmitResponse {
	t.Helper()
	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(w.Result().Body(), &resp), "body: %s", w.Result().Body())
	return resp
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do("GET", "/api/health", nil)
	assert.Equal(t, 200, w.Result().StatusCode())
	assert.Contains(t, string(w.Result().Body()), "ok")
}

func TestSubmitYouTube(t *testing.T) {
	s := newTestServer(t, nil)
	jsonHdr := ut.Header{Key: "Content-Type", Value: "application/json"}

	w := s.do("POST", "/api/sources/youtube", []byte(`{"link":"https://youtu.be/abc123"}`), jsonHdr, user("alice"))
	require.Equal(t, 201, w.Result().StatusCode(), "body: %s", w.Result().Body())
	resp := decodeSubmit(t, w)
	assert.True(t, strings.HasPrefix(resp.JobID, "job-"))
	assert.True(t, strings.HasPrefix(resp.SourceID, "src-"))
	assert.Equal(t, job.StatusQueued, resp.Status)
	in, _ := s.queue.Contains(context.Background(), resp.JobID)
	assert.True(t, in)

	w = s.do("POST", "/api/sources/youtube", []byte(`{"link":"https://example.com/v"}`), jsonHdr, user("alice"))
	assert.Equal(t, 400, w.Result().StatusCode())

	w = s.do("POST", "/api/sources/youtube", []byte(`{"link":"https://youtu.be/abc123"}`), jsonHdr)
	assert.Equal(t, 401, w.Result().StatusCode())
}

func TestSubmitAudio(t *testing.T) {
	s := newTestServer(t, nil)

	body, ct := multipartFile(t, "clip.mp3", "audio/mpeg", []byte("0123456789"))
	w := s.do("POST", "/api/sources/audio", body, ct, user("alice"))
	require.Equal(t, 201, w.Result().StatusCode(), "body: %s", w.Result().Body())
	resp := decodeSubmit(t, w)
	src, err := s.store.GetSource(context.Background(), resp.SourceID)
	require.NoError(t, err)
	assert.Equal(t, job.KindAudio, src.Kind)
	assert.Equal(t, "clip.mp3", src.Name)
	require.NotNil(t, src.Size)
	assert.Equal(t, int64(10), *src.Size)

	body, ct = multipartFile(t, "clip.txt", "text/plain", []byte("x"))
	w = s.do("POST", "/api/sources/audio", body, ct, user("alice"))
	assert.Equal(t, 400, w.Result().StatusCode())
}

func TestSubmitAudio_TooLargeCreatesNothing(t *testing.T) {
	s := newTestServer(t, nil)
	body, ct := multipartFile(t, "long.mp3", "audio/mpeg", bytes.Repeat([]byte("a"), 17))
	w := s.do("POST", "/api/sources/audio", body, ct, user("alice"))
	assert.Equal(t, 413, w.Result().StatusCode(), "body: %s", w.Result().Body())
	counts, _ := s.store.CountByStatus(context.Background())
	assert.Empty(t, counts)
	assert.Equal(t, 0, s.queue.Len())
}

func TestSubmitDocument(t *testing.T) {
	s := newTestServer(t, nil)
	body, ct := multipartFile(t, "notes.md", "text/markdown; charset=utf-8", []byte("# Notes\n\nbody"))
	w := s.do("POST", "/api/sources/documents", body, ct, user("bob"))
	require.Equal(t, 201, w.Result().StatusCode(), "body: %s", w.Result().Body())
	resp := decodeSubmit(t, w)
	src, err := s.store.GetSource(context.Background(), resp.SourceID)
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", src.ContentType)
}

func TestGetJob(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do("POST", "/api/sources/youtube", []byte(`{"link":"https://www.youtube.com/watch?v=abc123"}`),
		ut.Header{Key: "Content-Type", Value: "application/json"}, user("alice"))
	require.Equal(t, 201, w.Result().StatusCode())
	resp := decodeSubmit(t, w)

	w = s.do("GET", "/api/jobs/"+resp.JobID, nil, user("alice"))
	require.Equal(t, 200, w.Result().StatusCode())
	var snap status.Snapshot
	require.NoError(t, json.Unmarshal(w.Result().Body(), &snap))
	assert.Equal(t, resp.JobID, snap.JobID)
	assert.Equal(t, job.StatusQueued, snap.Status)
	assert.Equal(t, 0, snap.Progress)

	assert.Equal(t, 404, s.do("GET", "/api/jobs/"+resp.JobID, nil, user("mallory")).Result().StatusCode())
	assert.Equal(t, 404, s.do("GET", "/api/jobs/job-unknown", nil, user("alice")).Result().StatusCode())
	assert.Equal(t, 401, s.do("GET", "/api/jobs/"+resp.JobID, nil).Result().StatusCode())
}

func TestDeleteSource(t *testing.T) {
	s := newTestServer(t, nil)
	body, ct := multipartFile(t, "a.pdf", "application/pdf", []byte("%PDF-1.4"))
	w := s.do("POST", "/api/sources/documents", body, ct, user("alice"))
	require.Equal(t, 201, w.Result().StatusCode())
	resp := decodeSubmit(t, w)

	assert.Equal(t, 404, s.do("DELETE", "/api/sources/"+resp.SourceID, nil, user("bob")).Result().StatusCode())
	assert.Equal(t, 204, s.do("DELETE", "/api/sources/"+resp.SourceID, nil, user("alice")).Result().StatusCode())
	assert.Equal(t, 404, s.do("GET", "/api/jobs/"+resp.JobID, nil, user("alice")).Result().StatusCode())
	assert.Equal(t, 404, s.do("DELETE", "/api/sources/"+resp.SourceID, nil, user("alice")).Result().StatusCode())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do("POST", "/api/sources/youtube", []byte(`{"link":"https://youtu.be/m1"}`),
		ut.Header{Key: "Content-Type", Value: "application/json"}, user("alice"))
	w := s.do("GET", "/metrics", nil)
	assert.Equal(t, 200, w.Result().StatusCode())
	assert.Contains(t, string(w.Result().Body()), "notes_submissions_total")
}

func TestJWTAuth(t *testing.T) {
	jwtAuth, err := middleware.NewJWTAuth([]byte("test-secret"), time.Hour, time.Hour)
	require.NoError(t, err)
	s := newTestServer(t, middleware.NewMiddleware(jwtAuth, nil))

	token, _, err := jwtAuth.TokenGenerator("alice")
	require.NoError(t, err)
	jsonHdr := ut.Header{Key: "Content-Type", Value: "application/json"}
	link := []byte(`{"link":"https://youtu.be/abc123"}`)

	w := s.do("POST", "/api/sources/youtube", link, jsonHdr, ut.Header{Key: "Authorization", Value: "Bearer " + token})
	require.Equal(t, 201, w.Result().StatusCode(), "body: %s", w.Result().Body())
	resp := decodeSubmit(t, w)
	src, err := s.store.GetSource(context.Background(), resp.SourceID)
	require.NoError(t, err)
	assert.Equal(t, "alice", src.UserID)

	w = s.do("POST", "/api/sources/youtube", link, jsonHdr, ut.Header{Key: "Authorization", Value: "Bearer not-a-token"})
	assert.Equal(t, 401, w.Result().StatusCode())

	// JWT 启用时不信任 X-User-ID
	w = s.do("POST", "/api/sources/youtube", link, jsonHdr, user("alice"))
	assert.Equal(t, 401, w.Result().StatusCode())
}
