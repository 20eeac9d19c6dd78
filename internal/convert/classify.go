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
	"errors"
	"fmt"
	"net/http"

	perrors "notes-platform/pkg/errors"
)

// StatusError 外部服务返回的非 2xx 响应
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Service, e.Code)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.Code, e.Body)
}

// Retryable 429 与 5xx 可重试
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Classify 把转换错误归为 TransientError 或 PermanentError；已分类的错误原样返回。
// 无法识别的错误按瞬时处理，重试次数有上限。
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if perrors.IsPermanent(err) || perrors.IsTransient(err) {
		return err
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.Retryable() {
			return perrors.Transient(err)
		}
		return perrors.Permanent(err)
	}
	// 超时、连接错误等其余情况
	return perrors.Transient(err)
}
