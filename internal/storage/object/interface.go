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

package object

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("object not found")

// Store 对象存储：上传内容（uploads/）与转换产物（artifacts/）都经由它读写
type Store interface {
	// Put 写入对象，已存在时覆盖
	Put(ctx context.Context, path string, data io.Reader, size int64, metadata map[string]string) error
	// Get 不存在时返回 ErrObjectNotFound
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	// List 列出 prefix 下的对象，按路径排序
	List(ctx context.Context, prefix string) ([]*ObjectInfo, error)
	Close() error
}

// ObjectInfo List 返回的条目；minio 实现不回填 Metadata
type ObjectInfo struct {
	Path     string
	Size     int64
	Metadata map[string]string
	Modified time.Time
}

func notFound(path string) error {
	return fmt.Errorf("%w: %s", ErrObjectNotFound, path)
}
