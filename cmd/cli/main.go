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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"notes-platform/pkg/config"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, newClientFromEnv))
}

func run(args []string, stdout, stderr io.Writer, newAPI func() *client) int {
	if len(args) < 1 {
		printUsage(stdout)
		return 0
	}
	cmd, args := args[0], args[1:]
	fail := func(format string, a ...interface{}) int {
		fmt.Fprintf(stderr, format+"\n", a...)
		return 1
	}
	switch cmd {
	case "version":
		fmt.Fprintf(stdout, "notes cli %s\n", version)
	case "health":
		if err := newAPI().health(); err != nil {
			return fail("health: %v", err)
		}
		fmt.Fprintln(stdout, "ok")
	case "config":
		path := "configs/api.yaml"
		if len(args) > 0 {
			path = args[0]
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return fail("加载配置失败: %v", err)
		}
		fmt.Fprintf(stdout, "api.port=%d\n", cfg.API.Port)
		fmt.Fprintf(stdout, "jobstore.type=%s\n", cfg.JobStore.Type)
		fmt.Fprintf(stdout, "queue.type=%s\n", cfg.Queue.Type)
		fmt.Fprintf(stdout, "storage.object.type=%s\n", cfg.Storage.Object.Type)
	case "submit-youtube":
		if len(args) < 1 {
			return fail("Usage: notes submit-youtube <link>")
		}
		out, err := newAPI().submitYouTube(args[0])
		if err != nil {
			return fail("提交失败: %v", err)
		}
		fmt.Fprintln(stdout, prettyJSON(out))
	case "upload-audio", "upload-document":
		if len(args) < 1 {
			return fail("Usage: notes %s <file>", cmd)
		}
		kind := "audio"
		if cmd == "upload-document" {
			kind = "documents"
		}
		out, err := newAPI().upload(kind, args[0], mime.TypeByExtension(filepath.Ext(args[0])))
		if err != nil {
			return fail("上传失败: %v", err)
		}
		fmt.Fprintln(stdout, prettyJSON(out))
	case "status":
		if len(args) < 1 {
			return fail("Usage: notes status <job_id>")
		}
		out, err := newAPI().getJob(args[0])
		if err != nil {
			return fail("查询失败: %v", err)
		}
		fmt.Fprintln(stdout, prettyJSON(out))
	case "wait":
		fs := flag.NewFlagSet("wait", flag.ContinueOnError)
		fs.SetOutput(stderr)
		interval := fs.Duration("interval", time.Second, "轮询间隔")
		timeout := fs.Duration("timeout", 30*time.Minute, "最长等待时间")
		if err := fs.Parse(args); err != nil || fs.NArg() < 1 {
			return fail("Usage: notes wait [-interval 1s] [-timeout 30m] <job_id>")
		}
		j, err := newAPI().wait(fs.Arg(0), *interval, *timeout, func(j map[string]interface{}) {
			fmt.Fprintf(stdout, "  %v %v%% %v\n", j["status"], j["progress"], j["current_step"])
		})
		if err != nil {
			return fail("等待失败: %v", err)
		}
		if j["status"] == "failed" {
			return fail("job failed: %v", j["error"])
		}
	case "delete":
		if len(args) < 1 {
			return fail("Usage: notes delete <source_id>")
		}
		if err := newAPI().deleteSource(args[0]); err != nil {
			return fail("删除失败: %v", err)
		}
		fmt.Fprintln(stdout, "deleted")
	default:
		printUsage(stderr)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: notes <command> [args]")
	fmt.Fprintln(w, "  version                  - 显示版本")
	fmt.Fprintln(w, "  health                   - 健康检查")
	fmt.Fprintln(w, "  config [path]            - 显示配置概要")
	fmt.Fprintln(w, "  submit-youtube <link>    - 提交 YouTube 链接")
	fmt.Fprintln(w, "  upload-audio <file>      - 上传音频")
	fmt.Fprintln(w, "  upload-document <file>   - 上传文档")
	fmt.Fprintln(w, "  status <job_id>          - 查询 Job 状态")
	fmt.Fprintln(w, "  wait <job_id>            - 轮询直到 Job 结束")
	fmt.Fprintln(w, "  delete <source_id>       - 删除 Source 及其 Job")
	fmt.Fprintln(w, "环境变量: NOTES_API_URL, NOTES_TOKEN（或开发模式 NOTES_USER_ID）")
}

func prettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
