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
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultHTTPTimeout = 60 * time.Second

// newHTTPClient 外部服务调用共用的 resty 客户端；重试由 Worker 层负责，这里不重试
func newHTTPClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "notes-platform-worker/1.0")
}

// statusError 非 2xx 响应转为 *StatusError，响应体截断到 256 字节
func statusError(service string, resp *resty.Response) error {
	body := resp.String()
	if len(body) > 256 {
		body = body[:256]
	}
	return &StatusError{Service: service, Code: resp.StatusCode(), Body: body}
}
