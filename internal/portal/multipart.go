package portal

import (
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/google/uuid"

	"github.com/nao1215/enrichment-portal/pkg/httpclient"
)

// formField はmultipartのテキストフィールド。
type formField struct {
	name  string
	value string
}

// formFile はmultipartのファイルフィールド。
// openは試行のたびに呼ばれ、毎回先頭から読めるReaderを返す必要がある。
type formFile struct {
	field    string
	filename string
	open     func() (io.ReadCloser, error)
}

// multipartBody はフィールドとファイルをmultipart/form-dataとして送るボディを生成する。
// ボディはio.Pipeでストリーミングし、ファイル全体をメモリに載せない。
// 境界文字列は生成時に固定し、リトライしても同じContent-Typeになる。
func multipartBody(fields []formField, file *formFile) (string, httpclient.BodyFunc) {
	boundary := "portal-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	contentType := "multipart/form-data; boundary=" + boundary

	return contentType, func() (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			mw := multipart.NewWriter(pw)
			err := mw.SetBoundary(boundary)
			if err == nil {
				err = writeParts(mw, fields, file)
			}
			if err == nil {
				err = mw.Close()
			}
			pw.CloseWithError(err)
		}()
		return pr, nil
	}
}

func writeParts(mw *multipart.Writer, fields []formField, file *formFile) error {
	if file != nil {
		src, err := file.open()
		if err != nil {
			return fmt.Errorf("アップロードファイルを開けません: %w", err)
		}
		defer func() { _ = src.Close() }()

		part, err := mw.CreateFormFile(file.field, file.filename)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, src); err != nil {
			return err
		}
	}
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}
