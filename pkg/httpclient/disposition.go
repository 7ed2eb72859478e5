package httpclient

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// defaultFilename はファイル名を決定できない場合の基本名。
const defaultFilename = "download"

// dispositionFilenamePattern はContent-Dispositionのfilenameパラメータにマッチする。
// 引用符で囲まれた値は対応する閉じ引用符までを値とみなす。
var dispositionFilenamePattern = regexp.MustCompile(`(?i)(filename[^;=\n]*)=("[^"\n]*"|'[^'\n]*'|[^;\n]*)`)

// knownExtensions はOSのMIMEテーブルに依存せず拡張子を決めたいContent-Type。
var knownExtensions = map[string]string{
	"text/vtt":                 ".vtt",
	"application/x-subrip":     ".srt",
	"text/srt":                 ".srt",
	"text/plain":               ".txt",
	"application/json":         ".json",
	"application/pdf":          ".pdf",
	"application/zip":          ".zip",
	"application/octet-stream": ".bin",
}

// ParseContentDispositionFilename はContent-Dispositionヘッダーから
// ファイル名を取り出す。filename*（RFC 5987形式）があればfilenameより優先する。
// 前後の引用符は取り除き、ディレクトリ部分は捨てる。
// ファイル名が見つからない場合はfalseを返す。
func ParseContentDispositionFilename(header string) (string, bool) {
	var plain, extended string
	for _, m := range dispositionFilenamePattern.FindAllStringSubmatch(header, -1) {
		key := strings.ToLower(strings.TrimSpace(m[1]))
		value := unquote(strings.TrimSpace(m[2]))
		switch {
		case key == "filename*":
			if decoded, ok := decodeExtendedValue(value); ok && extended == "" {
				extended = decoded
			}
		case key == "filename" && plain == "":
			plain = value
		}
	}

	for _, candidate := range []string{extended, plain} {
		if name := baseName(candidate); name != "" {
			return name, true
		}
	}
	return "", false
}

// FallbackFilename はContent-Typeから推測した拡張子を付けた汎用ファイル名を返す。
// 戻り値が空文字列になることはない。
func FallbackFilename(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return defaultFilename
	}
	if ext, ok := knownExtensions[mediaType]; ok {
		return defaultFilename + ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return defaultFilename + exts[0]
	}
	return defaultFilename
}

// unquote は値の前後の引用符（"または'）を取り除く。
func unquote(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' || first == '\'') && first == last {
			return v[1 : len(v)-1]
		}
	}
	return strings.Trim(v, `"`)
}

// decodeExtendedValue はcharset'lang'percent-encoded形式の値をデコードする。
func decodeExtendedValue(v string) (string, bool) {
	parts := strings.SplitN(v, "'", 3)
	if len(parts) != 3 {
		return "", false
	}
	decoded, err := url.PathUnescape(parts[2])
	if err != nil {
		return "", false
	}
	return decoded, true
}

// baseName はファイル名からディレクトリ部分を取り除く。
func baseName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}
