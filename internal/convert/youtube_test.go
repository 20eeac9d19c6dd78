package convert

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/kkdai/youtube/v2"

	"notes-platform/internal/job"
	perrors "notes-platform/pkg/errors"
)

type fakeVideos struct {
	video *youtube.Video
	err   error
}

func (f *fakeVideos) GetVideoContext(ctx context.Context, url string) (*youtube.Video, error) {
	return f.video, f.err
}

const srv3 = `<?xml version="1.0" encoding="utf-8" ?><timedtext format="3"><body>
<p t="0" d="1000"><s>Hello</s><s> world</s></p>
<p t="1000" d="1000">second &amp; line</p>
<p t="2000" d="10"></p>
</body></timedtext>`

func TestYouTubeConverter_FiveCheckpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(srv3))
	}))
	defer srv.Close()
	videos := &fakeVideos{video: &youtube.Video{
		ID:    "dQw4w9WgXcQ",
		Title: "Lecture 1",
		CaptionTracks: []youtube.CaptionTrack{
			{BaseURL: srv.URL + "/asr", LanguageCode: "en", Kind: "asr"},
			{BaseURL: srv.URL + "/manual", LanguageCode: "en"},
		},
	}}
	conv := NewYouTubeConverterWithClient(videos, resty.New(), "en")
	src := &job.Source{Kind: job.KindYouTube, Locator: "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}
	cps, out, err := Collect(conv.Convert(context.Background(), src))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := []int{20, 40, 60, 80, 100}
	if len(cps) != len(want) {
		t.Fatalf("got %d checkpoints", len(cps))
	}
	for i, p := range want {
		if cps[i].Percent != p {
			t.Errorf("checkpoint %d = %d, want %d", i, cps[i].Percent, p)
		}
	}
	if !strings.HasPrefix(out.Text, "# Lecture 1") || !strings.Contains(out.Text, "Hello world second & line") {
		t.Errorf("Output text: %q", out.Text)
	}
}

func TestYouTubeConverter_Errors(t *testing.T) {
	ctx := context.Background()
	src := &job.Source{Kind: job.KindYouTube, Locator: "https://youtu.be/dQw4w9WgXcQ"}

	noCaptions := NewYouTubeConverterWithClient(&fakeVideos{video: &youtube.Video{ID: "dQw4w9WgXcQ"}}, resty.New(), "")
	if _, _, err := Collect(noCaptions.Convert(ctx, src)); !perrors.IsPermanent(err) {
		t.Errorf("no captions: %v", err)
	}
	private := NewYouTubeConverterWithClient(&fakeVideos{err: youtube.ErrVideoPrivate}, resty.New(), "")
	if _, _, err := Collect(private.Convert(ctx, src)); !perrors.IsPermanent(err) {
		t.Errorf("private video: %v", err)
	}
	flaky := NewYouTubeConverterWithClient(&fakeVideos{err: errors.New("connection reset")}, resty.New(), "")
	if _, _, err := Collect(flaky.Convert(ctx, src)); !perrors.IsTransient(err) {
		t.Errorf("network error: %v", err)
	}
}

func TestParseCaptions_Legacy(t *testing.T) {
	raw := `<transcript><text start="0" dur="1">first &amp;#39;quoted&amp;#39;</text><text start="1" dur="1">  second  </text></transcript>`
	lines, err := parseCaptions([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0] != "first 'quoted'" || lines[1] != "second" {
		t.Errorf("lines = %q", lines)
	}
}
