package convert

import (
	"context"
	"strings"
	"testing"

	"notes-platform/internal/job"
	"notes-platform/internal/storage/object"
	perrors "notes-platform/pkg/errors"
)

func upload(t *testing.T, c *object.ContentStore, name, ct, body string) *job.Source {
	t.Helper()
	stored, err := c.Upload(context.Background(), "u1", name, ct, strings.NewReader(body), 0)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return &job.Source{ID: "src-1", Kind: job.KindDocument, Locator: stored.Key, Name: name, ContentType: ct, UserID: "u1"}
}

func TestDetectFormat(t *testing.T) {
	cases := map[[2]string]docFormat{
		{"application/pdf", "a.bin"}:               formatPDF,
		{"application/octet-stream", "a.pdf"}:      formatPDF,
		{"text/markdown", "a"}:                     formatMarkdown,
		{"application/octet-stream", "notes.md"}:   formatMarkdown,
		{"text/plain; charset=utf-8", "a"}:         formatText,
		{"application/msword", "a.doc"}:            formatUnsupported,
		{"application/vnd.ms-excel", "sheet.xlsx"}: formatUnsupported,
	}
	for in, want := range cases {
		if got := detectFormat(in[0], in[1]); got != want {
			t.Errorf("detectFormat(%q, %q) = %v, want %v", in[0], in[1], got, want)
		}
	}
}

func TestDocumentConverter_Text(t *testing.T) {
	content := object.NewContentStore(object.NewMemoryStore())
	src := upload(t, content, "notes.md", "text/markdown", "# Title\r\n\r\nbody\r\n")
	cps, out, err := Collect(NewDocumentConverter(content).Convert(context.Background(), src))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	last := 0
	for _, cp := range cps {
		if cp.Percent <= last {
			t.Errorf("non-increasing checkpoint %d after %d", cp.Percent, last)
		}
		last = cp.Percent
	}
	if last != 100 {
		t.Errorf("last checkpoint = %d", last)
	}
	if out.Format != "markdown" || out.Text != "# Title\n\nbody\n" || out.Title != "notes" {
		t.Errorf("Output: %+v", out)
	}
}

func TestDocumentConverter_PermanentErrors(t *testing.T) {
	content := object.NewContentStore(object.NewMemoryStore())
	conv := NewDocumentConverter(content)
	ctx := context.Background()

	unsupported := upload(t, content, "a.doc", "application/msword", "x")
	if _, _, err := Collect(conv.Convert(ctx, unsupported)); !perrors.IsPermanent(err) {
		t.Errorf("unsupported: %v", err)
	}
	missing := &job.Source{Locator: "uploads/u1/none/a.txt", Name: "a.txt", ContentType: "text/plain"}
	if _, _, err := Collect(conv.Convert(ctx, missing)); !perrors.IsPermanent(err) {
		t.Errorf("missing content: %v", err)
	}
	empty := upload(t, content, "empty.txt", "text/plain", "  \n ")
	if _, _, err := Collect(conv.Convert(ctx, empty)); !perrors.IsPermanent(err) {
		t.Errorf("empty text: %v", err)
	}
	badPDF := upload(t, content, "bad.pdf", "application/pdf", "not a pdf")
	if _, _, err := Collect(conv.Convert(ctx, badPDF)); !perrors.IsPermanent(err) {
		t.Errorf("corrupt pdf: %v", err)
	}
}
