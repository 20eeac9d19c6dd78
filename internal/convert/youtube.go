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
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"iter"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kkdai/youtube/v2"

	"notes-platform/internal/job"
	perrors "notes-platform/pkg/errors"
)

// VideoClient kkdai/youtube 客户端中用到的部分
type VideoClient interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
}

// YouTubeConverter 读取视频字幕轨道并转为 markdown 文本
type YouTubeConverter struct {
	videos VideoClient
	http   *resty.Client
	lang   string
}

// NewYouTubeConverter lang 为首选字幕语言，找不到时取第一条轨道
func NewYouTubeConverter(httpTimeout time.Duration, lang string) *YouTubeConverter {
	return NewYouTubeConverterWithClient(&youtube.Client{}, newHTTPClient(httpTimeout), lang)
}

// NewYouTubeConverterWithClient 注入视频客户端与 HTTP 客户端
func NewYouTubeConverterWithClient(videos VideoClient, httpClient *resty.Client, lang string) *YouTubeConverter {
	return &YouTubeConverter{videos: videos, http: httpClient, lang: lang}
}

func (c *YouTubeConverter) Convert(ctx context.Context, src *job.Source) iter.Seq2[Checkpoint, error] {
	return func(yield func(Checkpoint, error) bool) {
		id, err := youtube.ExtractVideoID(src.Locator)
		if err != nil {
			yield(Checkpoint{}, perrors.Permanent(fmt.Errorf("invalid youtube link: %w", err)))
			return
		}
		if !yield(Checkpoint{Percent: 20, Step: "resolving video"}, nil) {
			return
		}

		video, err := c.videos.GetVideoContext(ctx, id)
		if err != nil {
			yield(Checkpoint{}, classifyVideoErr(err))
			return
		}
		if !yield(Checkpoint{Percent: 40, Step: "reading metadata"}, nil) {
			return
		}

		track := pickCaptionTrack(video.CaptionTracks, c.lang)
		if track == nil {
			yield(Checkpoint{}, perrors.Permanent(fmt.Errorf("video %s has no captions", id)))
			return
		}
		raw, err := c.fetchCaptions(ctx, track.BaseURL)
		if err != nil {
			yield(Checkpoint{}, err)
			return
		}
		if !yield(Checkpoint{Percent: 60, Step: "downloading captions"}, nil) {
			return
		}

		lines, err := parseCaptions(raw)
		if err != nil {
			yield(Checkpoint{}, perrors.Permanent(err))
			return
		}
		if len(lines) == 0 {
			yield(Checkpoint{}, perrors.Permanent(fmt.Errorf("video %s captions are empty", id)))
			return
		}
		if !yield(Checkpoint{Percent: 80, Step: "parsing captions"}, nil) {
			return
		}

		title := video.Title
		if title == "" {
			title = id
		}
		yield(Checkpoint{
			Percent: 100,
			Step:    "normalizing text",
			Output:  &Output{Title: title, Text: captionsMarkdown(title, video.Author, lines), Format: "markdown"},
		}, nil)
	}
}

func classifyVideoErr(err error) error {
	switch {
	case errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength):
		return perrors.Permanent(err)
	}
	return Classify(fmt.Errorf("youtube metadata: %w", err))
}

// pickCaptionTrack 优先人工字幕，其次自动字幕（kind=asr）
func pickCaptionTrack(tracks []youtube.CaptionTrack, lang string) *youtube.CaptionTrack {
	if len(tracks) == 0 {
		return nil
	}
	var auto *youtube.CaptionTrack
	for i := range tracks {
		t := &tracks[i]
		if lang != "" && !strings.HasPrefix(t.LanguageCode, lang) {
			continue
		}
		if t.Kind != "asr" {
			return t
		}
		if auto == nil {
			auto = t
		}
	}
	if auto != nil {
		return auto
	}
	return &tracks[0]
}

func (c *YouTubeConverter) fetchCaptions(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, Classify(fmt.Errorf("fetch captions: %w", err))
	}
	if resp.IsError() {
		return nil, Classify(statusError("captions", resp))
	}
	return resp.Body(), nil
}

// srv3 格式：<timedtext><body><p t=".." d=".."><s>..</s></p></body></timedtext>
type timedText struct {
	XMLName    xml.Name `xml:"timedtext"`
	Paragraphs []struct {
		Text     string `xml:",chardata"`
		Segments []struct {
			Text string `xml:",chardata"`
		} `xml:"s"`
	} `xml:"body>p"`
}

// 旧格式：<transcript><text start=".." dur="..">..</text></transcript>
type legacyTranscript struct {
	XMLName xml.Name `xml:"transcript"`
	Texts   []struct {
		Text string `xml:",chardata"`
	} `xml:"text"`
}

// parseCaptions 解析字幕 XML，返回去空白后的非空行
func parseCaptions(raw []byte) ([]string, error) {
	var lines []string
	add := func(s string) {
		s = strings.Join(strings.Fields(html.UnescapeString(s)), " ")
		if s != "" {
			lines = append(lines, s)
		}
	}
	var tt timedText
	if err := xml.Unmarshal(raw, &tt); err == nil {
		for _, p := range tt.Paragraphs {
			if len(p.Segments) == 0 {
				add(p.Text)
				continue
			}
			var sb strings.Builder
			for _, s := range p.Segments {
				sb.WriteString(s.Text)
			}
			add(sb.String())
		}
		return lines, nil
	}
	var lt legacyTranscript
	if err := xml.Unmarshal(raw, &lt); err != nil {
		return nil, fmt.Errorf("parse captions: %w", err)
	}
	for _, t := range lt.Texts {
		add(t.Text)
	}
	return lines, nil
}

// captionsMarkdown 字幕行合并成段落，每 8 行一段
func captionsMarkdown(title, author string, lines []string) string {
	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(title)
	sb.WriteString("\n\n")
	if author != "" {
		sb.WriteString("_")
		sb.WriteString(author)
		sb.WriteString("_\n\n")
	}
	for i := 0; i < len(lines); i += 8 {
		end := min(i+8, len(lines))
		sb.WriteString(strings.Join(lines[i:end], " "))
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()) + "\n"
}
