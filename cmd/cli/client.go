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

package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
)

func apiBaseURL() string {
	if u := os.Getenv("NOTES_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

// client notes API 客户端；token 为空时以 NOTES_USER_ID 作为 X-User-ID（开发模式）
type client struct {
	r *resty.Client
}

func newClient(baseURL, token, userID string) *client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)
	if token != "" {
		r.SetAuthToken(token)
	} else if userID != "" {
		r.SetHeader("X-User-ID", userID)
	}
	return &client{r: r}
}

func newClientFromEnv() *client {
	return newClient(apiBaseURL(), os.Getenv("NOTES_TOKEN"), os.Getenv("NOTES_USER_ID"))
}

type apiError struct {
	Error string `json:"error"`
}

func check(resp *resty.Response, want int, what string) error {
	if resp.StatusCode() == want {
		return nil
	}
	if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
		return fmt.Errorf("%s: %d %s", what, resp.StatusCode(), e.Error)
	}
	return fmt.Errorf("%s: %d %s", what, resp.StatusCode(), resp.String())
}

func (c *client) health() error {
	resp, err := c.r.R().Get("/api/health")
	if err != nil {
		return err
	}
	return check(resp, http.StatusOK, "GET /api/health")
}

func (c *client) submitYouTube(link string) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.r.R().
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"link": link}).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/api/sources/youtube")
	if err != nil {
		return nil, err
	}
	return out, check(resp, http.StatusCreated, "POST /api/sources/youtube")
}

// upload kind 为 audio 或 documents
func (c *client) upload(kind, path, contentType string) (map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out map[string]interface{}
	req := c.r.R().SetResult(&out).SetError(&apiError{})
	if contentType != "" {
		req.SetMultipartField("file", filepath.Base(path), contentType, f)
	} else {
		req.SetFileReader("file", filepath.Base(path), f)
	}
	resp, err := req.Post("/api/sources/" + kind)
	if err != nil {
		return nil, err
	}
	return out, check(resp, http.StatusCreated, "POST /api/sources/"+kind)
}

func (c *client) getJob(jobID string) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.r.R().
		SetResult(&out).
		SetError(&apiError{}).
		Get("/api/jobs/" + jobID)
	if err != nil {
		return nil, err
	}
	return out, check(resp, http.StatusOK, "GET /api/jobs/"+jobID)
}

func (c *client) deleteSource(sourceID string) error {
	resp, err := c.r.R().SetError(&apiError{}).Delete("/api/sources/" + sourceID)
	if err != nil {
		return err
	}
	return check(resp, http.StatusNoContent, "DELETE /api/sources/"+sourceID)
}

// wait 轮询直到 Job 进入终态或超时
func (c *client) wait(jobID string, interval, timeout time.Duration, onUpdate func(map[string]interface{})) (map[string]interface{}, error) {
	deadline := time.Now().Add(timeout)
	last := ""
	for {
		j, err := c.getJob(jobID)
		if err != nil {
			return nil, err
		}
		status, _ := j["status"].(string)
		key := fmt.Sprintf("%s/%v", status, j["progress"])
		if key != last && onUpdate != nil {
			onUpdate(j)
			last = key
		}
		if status == "completed" || status == "failed" {
			return j, nil
		}
		if time.Now().After(deadline) {
			return j, fmt.Errorf("job %s not finished after %s", jobID, timeout)
		}
		time.Sleep(interval)
	}
}
