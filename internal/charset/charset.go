// Package charset decodes remote command output of unknown encoding.
package charset

import (
	"bytes"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode converts raw command output into a string. The remote shell's
// encoding depends on the Windows host's active code page and is not
// declared anywhere, so this is best-effort: a UTF-16 BOM is authoritative,
// otherwise valid UTF-8 wins unless a content heuristic says the bytes are
// really GBK. Decode never fails.
func Decode(raw []byte) string {
	raw = bytes.TrimPrefix(raw, bomUTF8)

	if len(raw) >= 2 && len(raw)%2 == 0 {
		if bytes.HasPrefix(raw, bomUTF16LE) {
			return decodeUTF16(raw[2:], false)
		}
		if bytes.HasPrefix(raw, bomUTF16BE) {
			return decodeUTF16(raw[2:], true)
		}
	}

	// GBK always produces a string; unmappable sequences come out as U+FFFD.
	gbkBytes, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw)
	if err != nil {
		gbkBytes = []byte(string(utf8.RuneError))
	}
	gbkText := string(gbkBytes)
	gbkClean := !strings.ContainsRune(gbkText, utf8.RuneError)

	if !utf8.Valid(raw) {
		return gbkText
	}
	utfText := string(raw)

	// Console output that is actually GBK can occasionally parse as valid
	// UTF-8. Prefer the GBK reading only when it is clean and the content
	// scores say the UTF-8 reading is garbled.
	gbkCJK, gbkMoji := score(gbkText)
	utfCJK, utfMoji := score(utfText)
	if gbkClean && (gbkCJK > utfCJK+2 || utfMoji > gbkMoji+4) {
		return gbkText
	}
	return utfText
}

// score counts CJK code points and mojibake indicators (Latin-1 supplement
// characters and the replacement character) in s.
func score(s string) (cjk, mojibake int) {
	for _, r := range s {
		switch {
		case r >= 0x4E00 && r <= 0x9FFF,
			r >= 0x3400 && r <= 0x4DBF,
			r >= 0xF900 && r <= 0xFAFF:
			cjk++
		case r >= 0x80 && r <= 0xFF, r == utf8.RuneError:
			mojibake++
		}
	}
	return cjk, mojibake
}

// decodeUTF16 decodes bytes following a UTF-16 BOM. Unpaired surrogates
// come out as the replacement character.
func decodeUTF16(b []byte, bigEndian bool) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		if bigEndian {
			units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
		} else {
			units = append(units, uint16(b[i+1])<<8|uint16(b[i]))
		}
	}
	return string(utf16.Decode(units))
}
