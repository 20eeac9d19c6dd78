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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrTooLarge 内容超过上传上限
var ErrTooLarge = errors.New("content exceeds size limit")

// Stored 一次上传的结果；Key 作为 Source.Locator 持久化
type Stored struct {
	Key  string
	Size int64
}

// ContentStore 用户上传内容的存取，键为 uploads/<user>/<uuid>/<name>
type ContentStore struct {
	store Store
}

// NewContentStore 包装对象存储
func NewContentStore(store Store) *ContentStore {
	return &ContentStore{store: store}
}

// Upload 读取 r 并写入存储；limit > 0 时读到 limit+1 字节即返回 ErrTooLarge，不落盘
func (c *ContentStore) Upload(ctx context.Context, userID, name, contentType string, r io.Reader, limit int64) (*Stored, error) {
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, src)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if limit > 0 && n > limit {
		return nil, ErrTooLarge
	}
	key := path.Join("uploads", userID, uuid.New().String(), cleanName(name))
	meta := map[string]string{"content-type": contentType, "user-id": userID, "name": name}
	if err := c.store.Put(ctx, key, &buf, n, meta); err != nil {
		return nil, err
	}
	return &Stored{Key: key, Size: n}, nil
}

// Open 读取已上传内容
func (c *ContentStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return c.store.Get(ctx, key)
}

// Delete 删除已上传内容；不存在视为成功
func (c *ContentStore) Delete(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrObjectNotFound) {
		return err
	}
	return nil
}

func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}
