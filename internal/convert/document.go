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
	"io"
	"iter"
	"path"
	"strings"

	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	"notes-platform/internal/job"
	"notes-platform/internal/storage/object"
	perrors "notes-platform/pkg/errors"
)

type docFormat int

const (
	formatUnsupported docFormat = iota
	formatPDF
	formatText
	formatMarkdown
)

// detectFormat 先看 content type，再看扩展名
func detectFormat(contentType, name string) docFormat {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch ct {
	case "application/pdf":
		return formatPDF
	case "text/markdown", "text/x-markdown":
		return formatMarkdown
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return formatPDF
	case ".md", ".markdown":
		return formatMarkdown
	case ".txt":
		return formatText
	}
	if strings.HasPrefix(ct, "text/") {
		return formatText
	}
	return formatUnsupported
}

// DocumentConverter 从内容存储读取上传的文档；PDF 抽取正文，纯文本与 markdown 原样透传
type DocumentConverter struct {
	content *object.ContentStore
}

// NewDocumentConverter 创建文档转换器
func NewDocumentConverter(content *object.ContentStore) *DocumentConverter {
	return &DocumentConverter{content: content}
}

func (c *DocumentConverter) Convert(ctx context.Context, src *job.Source) iter.Seq2[Checkpoint, error] {
	return func(yield func(Checkpoint, error) bool) {
		format := detectFormat(src.ContentType, src.Name)
		if format == formatUnsupported {
			yield(Checkpoint{}, perrors.Permanent(fmt.Errorf("unsupported document format %q", src.ContentType)))
			return
		}
		data, err := readContent(ctx, c.content, src.Locator)
		if err != nil {
			yield(Checkpoint{}, err)
			return
		}
		if !yield(Checkpoint{Percent: 25, Step: "loading document"}, nil) {
			return
		}

		var text string
		switch format {
		case formatPDF:
			text, err = ExtractPDFText(data)
			if err != nil {
				yield(Checkpoint{}, perrors.Permanent(err))
				return
			}
		default:
			text = string(bytes.ToValidUTF8(data, []byte("�")))
		}
		if !yield(Checkpoint{Percent: 60, Step: "extracting text"}, nil) {
			return
		}

		text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
		if text == "" {
			yield(Checkpoint{}, perrors.Permanent(errors.New("document contains no text")))
			return
		}
		title := strings.TrimSuffix(src.Name, path.Ext(src.Name))
		outFormat := "text"
		if format == formatMarkdown {
			outFormat = "markdown"
		}
		if !yield(Checkpoint{Percent: 85, Step: "normalizing text"}, nil) {
			return
		}
		yield(Checkpoint{Percent: 100, Step: "done", Output: &Output{Title: title, Text: text + "\n", Format: outFormat}}, nil)
	}
}

// readContent 读取上传内容；对象缺失属于永久错误
func readContent(ctx context.Context, content *object.ContentStore, key string) ([]byte, error) {
	rc, err := content.Open(ctx, key)
	if err != nil {
		if errors.Is(err, object.ErrObjectNotFound) {
			return nil, perrors.Permanent(err)
		}
		return nil, perrors.Transient(fmt.Errorf("open content: %w", err))
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, perrors.Transient(fmt.Errorf("read content: %w", err))
	}
	return data, nil
}

// ExtractPDFText 从 PDF 二进制数据中提取正文文本，按页拼接
func ExtractPDFText(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty pdf")
	}
	reader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	numPages, err := reader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("pdf page count: %w", err)
	}
	var buf strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := reader.GetPage(i)
		if err != nil {
			return "", fmt.Errorf("pdf page %d: %w", i, err)
		}
		ex, err := extractor.New(page)
		if err != nil {
			return "", fmt.Errorf("pdf page %d extractor: %w", i, err)
		}
		text, err := ex.ExtractText()
		if err != nil {
			return "", fmt.Errorf("pdf page %d text: %w", i, err)
		}
		if text != "" {
			buf.WriteString(text)
			if i < numPages {
				buf.WriteString("\n\n")
			}
		}
	}
	return strings.TrimSpace(buf.String()), nil
}
