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

package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"notes-platform/internal/job"
	"notes-platform/internal/storage/object"
	perrors "notes-platform/pkg/errors"
)

// AudioConverter 把上传的音频发往外部转写服务
type AudioConverter struct {
	content *object.ContentStore
	http    *resty.Client
	url     string
}

type transcribeResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// NewAudioConverter transcribeURL 为空时所有音频任务以永久错误失败
func NewAudioConverter(content *object.ContentStore, transcribeURL string, timeout time.Duration) *AudioConverter {
	return &AudioConverter{content: content, http: newHTTPClient(timeout), url: transcribeURL}
}

func (c *AudioConverter) Convert(ctx context.Context, src *job.Source) iter.Seq2[Checkpoint, error] {
	return func(yield func(Checkpoint, error) bool) {
		if c.url == "" {
			yield(Checkpoint{}, perrors.Permanent(errors.New("transcription service is not configured")))
			return
		}
		data, err := readContent(ctx, c.content, src.Locator)
		if err != nil {
			yield(Checkpoint{}, err)
			return
		}
		if len(data) == 0 {
			yield(Checkpoint{}, perrors.Permanent(errors.New("audio file is empty")))
			return
		}
		if !yield(Checkpoint{Percent: 20, Step: "loading audio"}, nil) {
			return
		}
		if !yield(Checkpoint{Percent: 30, Step: "transcribing"}, nil) {
			return
		}

		name := src.Name
		if name == "" {
			name = path.Base(src.Locator)
		}
		var result transcribeResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetFileReader("file", name, bytes.NewReader(data)).
			SetFormData(map[string]string{"content_type": src.ContentType}).
			SetResult(&result).
			Post(c.url)
		if err != nil {
			yield(Checkpoint{}, Classify(fmt.Errorf("transcribe: %w", err)))
			return
		}
		if resp.IsError() {
			yield(Checkpoint{}, Classify(statusError("transcribe", resp)))
			return
		}
		text := strings.TrimSpace(result.Text)
		if text == "" {
			yield(Checkpoint{}, perrors.Permanent(errors.New("transcription returned no text")))
			return
		}
		if !yield(Checkpoint{Percent: 80, Step: "transcribed"}, nil) {
			return
		}
		title := strings.TrimSuffix(name, path.Ext(name))
		yield(Checkpoint{Percent: 100, Step: "done", Output: &Output{Title: title, Text: text + "\n", Format: "text"}}, nil)
	}
}
