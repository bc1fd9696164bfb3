package util

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// legacyEncodings 设备常见的非 UTF-8 编码，按探测顺序排列
var legacyEncodings = []encoding.Encoding{
	japanese.ShiftJIS,
	japanese.EUCJP,
	simplifiedchinese.GB18030,
	simplifiedchinese.GBK,
	traditionalchinese.Big5,
	charmap.Windows1252,
	charmap.ISO8859_1,
}

// DecodeBytes 按指定字符集把设备输出转换为 UTF-8 字符串。
// charset 为空或为 utf-8 时先按 UTF-8 处理，非法序列再尝试常见的旧编码。
func DecodeBytes(b []byte, charset string) string {
	if len(b) == 0 {
		return ""
	}
	cs := strings.ToLower(strings.TrimSpace(charset))
	if cs != "" && cs != "utf-8" && cs != "utf8" {
		if enc, err := ianaindex.IANA.Encoding(cs); err == nil && enc != nil {
			if s, ok := tryDecode(enc, b); ok {
				return s
			}
		}
	}
	return EnsureUTF8Bytes(b)
}

// EnsureUTF8Bytes tries to decode non-UTF-8 bytes using common encodings
// and returns a UTF-8 string. Undecodable input has its invalid sequences
// dropped.
func EnsureUTF8Bytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	for _, enc := range legacyEncodings {
		if s, ok := tryDecode(enc, b); ok {
			return s
		}
	}
	return strings.ToValidUTF8(string(b), "")
}

// EnsureUTF8 converts a possibly mojibake string to UTF-8.
func EnsureUTF8(s string) string {
	return EnsureUTF8Bytes([]byte(s))
}

func tryDecode(enc encoding.Encoding, b []byte) (string, bool) {
	reader := transform.NewReader(bytes.NewReader(b), enc.NewDecoder())
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", false
	}
	if utf8.Valid(decoded) {
		return string(decoded), true
	}
	return "", false
}
