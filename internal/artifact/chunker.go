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

package artifact

import (
	"context"
	"fmt"
	"strings"

	einodoc "github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// MarkdownChunker 实现 eino document.Transformer：按标题分节，节内按段落合并到 chunkSize（按 rune 计），
// 相邻切片保留 overlap 的重叠
type MarkdownChunker struct {
	size    int
	overlap int
}

// NewMarkdownChunker size <= 0 或 overlap 不合法时使用默认值
func NewMarkdownChunker(size, overlap int) *MarkdownChunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = min(DefaultChunkOverlap, size/5)
	}
	return &MarkdownChunker{size: size, overlap: overlap}
}

// Transform 每个输入文档切成若干子文档，元数据继承自输入并追加 index / heading
func (c *MarkdownChunker) Transform(ctx context.Context, src []*schema.Document, opts ...einodoc.TransformerOption) ([]*schema.Document, error) {
	var out []*schema.Document
	for _, d := range src {
		if d == nil {
			continue
		}
		for i, ch := range c.split(d.Content) {
			meta := make(map[string]any, len(d.MetaData)+2)
			for k, v := range d.MetaData {
				meta[k] = v
			}
			meta["index"] = i
			if ch.heading != "" {
				meta["heading"] = ch.heading
			}
			out = append(out, &schema.Document{
				ID:       fmt.Sprintf("%s#%d", d.ID, i),
				Content:  ch.text,
				MetaData: meta,
			})
		}
	}
	return out, nil
}

type chunk struct {
	heading string
	text    string
}

type section struct {
	heading    string
	paragraphs []string
}

// sections 以 markdown 标题行分节；标题行本身作为该节第一段
func sections(content string) []section {
	var out []section
	cur := section{}
	var para []string
	flushPara := func() {
		if len(para) > 0 {
			cur.paragraphs = append(cur.paragraphs, strings.Join(para, "\n"))
			para = nil
		}
	}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#"):
			flushPara()
			if len(cur.paragraphs) > 0 {
				out = append(out, cur)
			}
			cur = section{heading: strings.TrimSpace(strings.TrimLeft(trimmed, "#")), paragraphs: []string{trimmed}}
		case trimmed == "":
			flushPara()
		default:
			para = append(para, trimmed)
		}
	}
	flushPara()
	if len(cur.paragraphs) > 0 {
		out = append(out, cur)
	}
	return out
}

func (c *MarkdownChunker) split(content string) []chunk {
	var out []chunk
	for _, sec := range sections(content) {
		var cur []rune
		emit := func() {
			if s := strings.TrimSpace(string(cur)); s != "" {
				out = append(out, chunk{heading: sec.heading, text: s})
			}
		}
		for _, p := range sec.paragraphs {
			pr := []rune(p)
			if len(pr) > c.size {
				emit()
				cur = nil
				for i := 0; i < len(pr); i += c.size - c.overlap {
					end := min(i+c.size, len(pr))
					out = append(out, chunk{heading: sec.heading, text: string(pr[i:end])})
					if end == len(pr) {
						break
					}
				}
				continue
			}
			if len(cur) > 0 && len(cur)+2+len(pr) > c.size {
				emit()
				// 重叠部分加上新段落仍不超过 size
				keep := min(c.overlap, c.size-2-len(pr))
				if keep > 0 && len(cur) > keep {
					cur = append([]rune(nil), cur[len(cur)-keep:]...)
				} else {
					cur = nil
				}
			}
			if len(cur) > 0 {
				cur = append(cur, '\n', '\n')
			}
			cur = append(cur, pr...)
		}
		emit()
	}
	return out
}

var _ einodoc.Transformer = (*MarkdownChunker)(nil)
