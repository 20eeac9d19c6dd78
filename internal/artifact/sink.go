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


// Package artifact 持久化转换产物：规范化 markdown 与其切片
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	einodoc "github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"

	"notes-platform/internal/convert"
	"notes-platform/internal/job"
	"notes-platform/internal/storage/object"
)

// Chunk 切片文件中的一条记录
type Chunk struct {
	ID       string         `json:"id"`
	Index    int            `json:"index"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Sink 产物写入对象存储，路径由 source id 与 job id 决定，重复写入覆盖同一对象
type Sink struct {
	store       object.Store
	transformer einodoc.Transformer
}

// NewSink transformer 为空时使用默认 MarkdownChunker
func NewSink(store object.Store, transformer einodoc.Transformer) *Sink {
	if transformer == nil {
		transformer = NewMarkdownChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	return &Sink{store: store, transformer: transformer}
}

// Key 产物 markdown 的对象键
func Key(sourceID, jobID string) string {
	return path.Join("artifacts", sourceID, jobID+".md")
}

// ChunksKey 切片文件的对象键
func ChunksKey(sourceID, jobID string) string {
	return path.Join("artifacts", sourceID, jobID+".chunks.json")
}

// Save 写入产物与切片，返回产物引用（markdown 对象键）
func (s *Sink) Save(ctx context.Context, j *job.Job, src *job.Source, out *convert.Output) (string, error) {
	if out == nil {
		return "", fmt.Errorf("job %s: nil output", j.ID)
	}
	body := render(src, out)
	key := Key(src.ID, j.ID)
	meta := map[string]string{
		"content-type": "text/markdown; charset=utf-8",
		"source-id":    src.ID,
		"job-id":       j.ID,
		"user-id":      src.UserID,
	}
	if err := s.store.Put(ctx, key, strings.NewReader(body), int64(len(body)), meta); err != nil {
		return "", fmt.Errorf("save artifact %s: %w", key, err)
	}

	docs, err := s.transformer.Transform(ctx, []*schema.Document{{
		ID:      j.ID,
		Content: body,
		MetaData: map[string]any{
			"source_id": src.ID,
			"user_id":   src.UserID,
			"job_id":    j.ID,
			"kind":      string(src.Kind),
		},
	}})
	if err != nil {
		return "", fmt.Errorf("chunk artifact %s: %w", key, err)
	}
	chunks := make([]Chunk, 0, len(docs))
	for i, d := range docs {
		chunks = append(chunks, Chunk{ID: d.ID, Index: i, Content: d.Content, Metadata: d.MetaData})
	}
	raw, err := json.Marshal(chunks)
	if err != nil {
		return "", err
	}
	chunksKey := ChunksKey(src.ID, j.ID)
	if err := s.store.Put(ctx, chunksKey, bytes.NewReader(raw), int64(len(raw)), map[string]string{"content-type": "application/json"}); err != nil {
		return "", fmt.Errorf("save chunks %s: %w", chunksKey, err)
	}
	return key, nil
}

// DeleteSource 删除某个 Source 的全部产物
func (s *Sink) DeleteSource(ctx context.Context, sourceID string) error {
	objs, err := s.store.List(ctx, path.Join("artifacts", sourceID)+"/")
	if err != nil {
		return err
	}
	for _, o := range objs {
		if err := s.store.Delete(ctx, o.Path); err != nil {
			return err
		}
	}
	return nil
}

// render 非 markdown 输出补一个标题
func render(src *job.Source, out *convert.Output) string {
	text := strings.TrimSpace(out.Text)
	if out.Format == "markdown" && strings.HasPrefix(text, "#") {
		return text + "\n"
	}
	title := out.Title
	if title == "" {
		title = src.Name
	}
	if title == "" {
		title = src.ID
	}
	return "# " + title + "\n\n" + text + "\n"
}
