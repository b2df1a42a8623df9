package email

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// Fingerprint computes the deduplication key for cleaned email content:
// the SHA-256 of the text with every whitespace rune removed and all
// letters lower-cased. Two emails with the same fingerprint are treated as
// the same content everywhere in the system.
func Fingerprint(r io.Reader) (string, error) {
	h := sha256.New()
	w := &normalizingWriter{h: h}
	if _, err := io.Copy(w, r); err != nil {
		return "", eris.Wrap(err, "email: fingerprint")
	}
	if err := w.flush(); err != nil {
		return "", eris.Wrap(err, "email: fingerprint")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintString is Fingerprint over an in-memory string.
func FingerprintString(s string) string {
	fp, _ := Fingerprint(strings.NewReader(s))
	return fp
}

// normalizingWriter lower-cases and strips whitespace on the way into the
// hash. Carries partial UTF-8 sequences across Write boundaries so chunked
// reads hash identically to one large read.
type normalizingWriter struct {
	h    hash.Hash
	rem  [utf8.UTFMax]byte
	nrem int
}

func (w *normalizingWriter) Write(p []byte) (int, error) {
	total := len(p)

	data := p
	if w.nrem > 0 {
		data = append(append([]byte{}, w.rem[:w.nrem]...), p...)
		w.nrem = 0
	}

	for len(data) > 0 {
		if !utf8.FullRune(data) {
			w.nrem = copy(w.rem[:], data)
			return total, nil
		}
		r, size := utf8.DecodeRune(data)
		if err := w.writeRune(r); err != nil {
			return 0, err
		}
		data = data[size:]
	}
	return total, nil
}

func (w *normalizingWriter) writeRune(r rune) error {
	if unicode.IsSpace(r) {
		return nil
	}
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], unicode.ToLower(r))
	_, err := w.h.Write(buf[:n])
	return err
}

// flush hashes any trailing bytes that never formed a complete rune.
func (w *normalizingWriter) flush() error {
	if w.nrem == 0 {
		return nil
	}
	_, err := w.h.Write(w.rem[:w.nrem])
	w.nrem = 0
	return err
}
