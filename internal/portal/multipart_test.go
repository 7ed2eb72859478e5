package portal

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"testing"
)

func readParts(t *testing.T, contentType string, body io.Reader) map[string]string {
	t.Helper()

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("Content-Type = %q", contentType)
	}
	got := make(map[string]string)
	mr := multipart.NewReader(body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return got
		}
		if err != nil {
			t.Fatalf("NextPart() error = %v", err)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("ReadAll() error = %v", err)
		}
		key := part.FormName()
		if part.FileName() != "" {
			key += ":" + part.FileName()
		}
		got[key] = string(data)
	}
}

// TestMultipartBody はmultipartボディの生成を検証する。
func TestMultipartBody(t *testing.T) {
	t.Parallel()

	t.Run("試行のたびに同じ内容を先頭から読めること", func(t *testing.T) {
		t.Parallel()

		opened := 0
		contentType, body := multipartBody(
			[]formField{{name: "endUserIdentifier", value: "a@example.com"}, {name: "translate", value: "true"}},
			&formFile{
				field:    "file",
				filename: "lecture.mp4",
				open: func() (io.ReadCloser, error) {
					opened++
					return io.NopCloser(strings.NewReader("video")), nil
				},
			},
		)

		for range 2 {
			rc, err := body()
			if err != nil {
				t.Fatalf("body() error = %v", err)
			}
			got := readParts(t, contentType, rc)
			_ = rc.Close()

			want := map[string]string{
				"file:lecture.mp4":  "video",
				"endUserIdentifier": "a@example.com",
				"translate":         "true",
			}
			for k, v := range want {
				if got[k] != v {
					t.Errorf("part[%s] = %q, want %q", k, got[k], v)
				}
			}
		}
		if opened != 2 {
			t.Errorf("ファイルを開いた回数 = %d, want 2", opened)
		}
	})

	t.Run("ファイルがなくてもフィールドだけ送れること", func(t *testing.T) {
		t.Parallel()

		contentType, body := multipartBody([]formField{{name: "notes", value: "memo"}}, nil)
		rc, err := body()
		if err != nil {
			t.Fatalf("body() error = %v", err)
		}
		defer func() { _ = rc.Close() }()

		got := readParts(t, contentType, rc)
		if len(got) != 1 || got["notes"] != "memo" {
			t.Errorf("parts = %v, want map[notes:memo]", got)
		}
	})

	t.Run("ファイルを開けない場合は読み込み時にエラーになること", func(t *testing.T) {
		t.Parallel()

		openErr := errors.New("disk gone")
		_, body := multipartBody(nil, &formFile{
			field:    "file",
			filename: "x.mp4",
			open:     func() (io.ReadCloser, error) { return nil, openErr },
		})
		rc, err := body()
		if err != nil {
			t.Fatalf("body() error = %v", err)
		}
		defer func() { _ = rc.Close() }()

		if _, err := io.ReadAll(rc); !errors.Is(err, openErr) {
			t.Errorf("ReadAll() error = %v, want %v", err, openErr)
		}
	})
}
