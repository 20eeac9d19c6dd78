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

package dispatcher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notes-platform/internal/job"
	"notes-platform/internal/storage/object"
	"notes-platform/internal/taskqueue"
	perrors "notes-platform/pkg/errors"
)

type failingQueue struct {
	taskqueue.Queue
}

func (failingQueue) Enqueue(ctx context.Context, jobID string, delay time.Duration) (bool, error) {
	return false, errors.New("broker down")
}

type failingStore struct {
	*job.MemoryStore
}

func (failingStore) CreateWithSource(ctx context.Context, src *job.Source, j *job.Job) error {
	return errors.New("db down")
}

func newTestDispatcher() (*Dispatcher, *job.MemoryStore, *taskqueue.MemoryQueue, *object.MemoryStore) {
	store := job.NewMemoryStore()
	queue := taskqueue.NewMemoryQueue(taskqueue.Options{})
	objects := object.NewMemoryStore()
	d := New(store, queue, object.NewContentStore(objects), Limits{MaxAudioBytes: 64, MaxDocumentBytes: 128}, nil)
	return d, store, queue, objects
}

func TestSubmitYouTube_CreatesQueuedJobAndTask(t *testing.T) {
	d, store, queue, _ := newTestDispatcher()
	ctx := context.Background()

	j, err := d.SubmitYouTube(ctx, "https://youtu.be/abc123", "user-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, j.Status)
	assert.Equal(t, 0, j.Progress)
	assert.Equal(t, job.KindYouTube, j.Kind)

	src, err := store.GetSource(ctx, j.SourceID)
	require.NoError(t, err)
	assert.Equal(t, "https://youtu.be/abc123", src.Locator)
	assert.Equal(t, "abc123", src.Name)
	assert.Equal(t, "user-1", src.UserID)

	in, err := queue.Contains(ctx, j.ID)
	require.NoError(t, err)
	assert.True(t, in, "task should be enqueued")
}

func TestSubmitYouTube_InvalidLinks(t *testing.T) {
	d, store, _, _ := newTestDispatcher()
	for _, link := range []string{
		"http://youtu.be/abc123",
		"https://vimeo.com/123",
		"https://www.youtube.com/watch",
		"https://youtu.be/",
		"",
	} {
		_, err := d.SubmitYouTube(context.Background(), link, "user-1")
		var ve *perrors.ValidationError
		assert.ErrorAs(t, err, &ve, "link %q", link)
	}
	counts, _ := store.CountByStatus(context.Background())
	assert.Empty(t, counts)
}

func TestYouTubeVideoID(t *testing.T) {
	id, err := YouTubeVideoID("https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42")
	require.NoError(t, err)
	assert.Equal(t, "dQw4w9WgXcQ", id)
	id, err = YouTubeVideoID("https://youtu.be/abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
}

func TestSubmit_RequiresUser(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	_, err := d.SubmitYouTube(context.Background(), "https://youtu.be/abc123", "")
	assert.ErrorIs(t, err, perrors.ErrInvalidArg)
}

func TestSubmitUpload_OversizedAudioLeavesNoRows(t *testing.T) {
	d, store, queue, objects := newTestDispatcher()
	ctx := context.Background()

	// 声明大小超限
	_, err := d.SubmitUpload(ctx, Upload{Kind: job.KindAudio, Name: "a.mp3", ContentType: "audio/mpeg", Size: 65, Body: strings.NewReader("x")}, "u1")
	var ve *perrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.TooLarge)

	// 未声明大小，读取时超限
	_, err = d.SubmitUpload(ctx, Upload{Kind: job.KindAudio, Name: "a.mp3", ContentType: "audio/mpeg", Body: strings.NewReader(strings.Repeat("a", 65))}, "u1")
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.TooLarge)

	counts, _ := store.CountByStatus(ctx)
	assert.Empty(t, counts)
	assert.Equal(t, 0, queue.Len())
	objs, _ := objects.List(ctx, "")
	assert.Empty(t, objs)
}

func TestSubmit_SizeCeilingPerKind(t *testing.T) {
	d, store, queue, _ := newTestDispatcher()
	ctx := context.Background()
	size := func(n int64) *int64 { return &n }

	for _, tc := range []struct {
		kind job.Kind
		size int64
	}{
		{job.KindAudio, 1 << 30},
		{job.KindAudio, 65},
		{job.KindDocument, 129},
	} {
		_, err := d.Submit(ctx, Submission{Kind: tc.kind, Locator: "uploads/u1/x", Size: size(tc.size)}, "u1")
		var ve *perrors.ValidationError
		require.ErrorAs(t, err, &ve, "%s %d", tc.kind, tc.size)
		assert.True(t, ve.TooLarge)
		assert.Equal(t, "size", ve.Field)
	}
	counts, _ := store.CountByStatus(ctx)
	assert.Empty(t, counts)
	assert.Equal(t, 0, queue.Len())

	// 恰好等于上限可以提交
	j, err := d.Submit(ctx, Submission{Kind: job.KindAudio, Locator: "uploads/u1/y", Size: size(64)}, "u1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, j.Status)
}

func TestSubmitUpload_ContentTypeChecks(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	ctx := context.Background()
	_, err := d.SubmitUpload(ctx, Upload{Kind: job.KindAudio, Name: "a.pdf", ContentType: "application/pdf", Body: strings.NewReader("x")}, "u1")
	assert.ErrorIs(t, err, perrors.ErrInvalidArg)
	_, err = d.SubmitUpload(ctx, Upload{Kind: job.KindDocument, Name: "a.mp3", ContentType: "audio/mpeg", Body: strings.NewReader("x")}, "u1")
	assert.ErrorIs(t, err, perrors.ErrInvalidArg)
	_, err = d.SubmitUpload(ctx, Upload{Kind: job.KindYouTube, Name: "x", ContentType: "text/plain", Body: strings.NewReader("x")}, "u1")
	assert.ErrorIs(t, err, perrors.ErrInvalidArg)
}

func TestSubmitUpload_Document(t *testing.T) {
	d, store, _, objects := newTestDispatcher()
	ctx := context.Background()
	j, err := d.SubmitUpload(ctx, Upload{Kind: job.KindDocument, Name: "notes.md", ContentType: "text/markdown", Body: strings.NewReader("# hi")}, "u1")
	require.NoError(t, err)
	src, err := store.GetSource(ctx, j.SourceID)
	require.NoError(t, err)
	require.NotNil(t, src.Size)
	assert.Equal(t, int64(4), *src.Size)
	_, err = objects.Get(ctx, src.Locator)
	assert.NoError(t, err)
}

func TestSubmit_EnqueueFailureStillAccepted(t *testing.T) {
	store := job.NewMemoryStore()
	d := New(store, failingQueue{}, nil, Limits{}, nil)
	j, err := d.SubmitYouTube(context.Background(), "https://youtu.be/abc123", "u1")
	require.NoError(t, err)
	got, err := store.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, got.Status)
}

func TestSubmit_PersistenceFailureRemovesUpload(t *testing.T) {
	objects := object.NewMemoryStore()
	d := New(failingStore{job.NewMemoryStore()}, taskqueue.NewMemoryQueue(taskqueue.Options{}), object.NewContentStore(objects), Limits{}, nil)
	_, err := d.SubmitUpload(context.Background(), Upload{Kind: job.KindDocument, Name: "a.txt", ContentType: "text/plain", Body: strings.NewReader("hi")}, "u1")
	var pe *perrors.PersistenceError
	require.ErrorAs(t, err, &pe)
	objs, _ := objects.List(context.Background(), "")
	assert.Empty(t, objs)
}

type recordingCleaner struct{ deleted []string }

func (r *recordingCleaner) DeleteSource(ctx context.Context, sourceID string) error {
	r.deleted = append(r.deleted, sourceID)
	return nil
}

func TestDeleteSource(t *testing.T) {
	d, store, _, objects := newTestDispatcher()
	cleaner := &recordingCleaner{}
	d.SetArtifactCleaner(cleaner)
	ctx := context.Background()

	j, err := d.SubmitUpload(ctx, Upload{Kind: job.KindAudio, Name: "a.mp3", ContentType: "audio/mpeg", Body: strings.NewReader("mp3")}, "user-1")
	require.NoError(t, err)
	src, err := store.GetSource(ctx, j.SourceID)
	require.NoError(t, err)

	err = d.DeleteSource(ctx, "user-2", src.ID)
	assert.ErrorIs(t, err, job.ErrSourceNotFound, "other users cannot delete")

	require.NoError(t, d.DeleteSource(ctx, "user-1", src.ID))
	_, err = store.Get(ctx, j.ID)
	assert.ErrorIs(t, err, job.ErrJobNotFound)
	_, err = objects.Get(ctx, src.Locator)
	assert.ErrorIs(t, err, object.ErrObjectNotFound, "uploaded content removed")
	assert.Equal(t, []string{src.ID}, cleaner.deleted)

	assert.ErrorIs(t, d.DeleteSource(ctx, "user-1", src.ID), job.ErrSourceNotFound)
}
