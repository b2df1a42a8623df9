// Package email parses .eml files, cleans their content, renders markdown
// and computes content fingerprints for deduplication.
package email

import (
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// Message holds the fields extracted from one .eml file.
type Message struct {
	FileName string
	From     string
	To       string
	Cc       string
	Subject  string
	Date     time.Time
	Body     string
}

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// wordDecoder decodes RFC 2047 encoded words in any charset the HTML
// encoding index knows about.
var wordDecoder = mime.WordDecoder{
	CharsetReader: charsetReader,
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "email: unknown charset %q", charset)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

// Parse reads one RFC 5322 message. Attachments are ignored; the body is the
// first text/plain part found, falling back to tag-stripped text/html.
func Parse(fileName string, r io.Reader) (*Message, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, eris.Wrapf(err, "email: parse %s", fileName)
	}

	m := &Message{
		FileName: fileName,
		From:     decodeHeader(msg.Header.Get("From")),
		To:       decodeHeader(msg.Header.Get("To")),
		Cc:       decodeHeader(msg.Header.Get("Cc")),
		Subject:  decodeHeader(msg.Header.Get("Subject")),
	}
	if d, err := msg.Header.Date(); err == nil {
		m.Date = d
	}

	plain, html, err := extractBody(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "email: extract body %s", fileName)
	}
	if plain != "" {
		m.Body = strings.TrimSpace(plain)
	} else {
		m.Body = strings.TrimSpace(htmlTagRe.ReplaceAllString(html, ""))
	}

	return m, nil
}

func decodeHeader(raw string) string {
	if raw == "" {
		return ""
	}
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(decoded)
}

// extractBody walks the MIME structure collecting text content. Returns the
// concatenated text/plain parts and, separately, any text/html fallback.
func extractBody(contentType, cte string, body io.Reader) (plain, html string, err error) {
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Malformed content type: treat the body as plain text.
		mediaType, params = "text/plain", nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return "", "", eris.New("email: multipart message without boundary")
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", "", eris.Wrap(err, "email: read part")
			}
			if isAttachment(part.Header.Get("Content-Disposition")) {
				continue
			}
			p, h, err := extractBody(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
			if err != nil {
				continue
			}
			plain += p
			if html == "" {
				html = h
			}
		}
		return plain, html, nil
	}

	text, err := decodePart(body, cte, params["charset"])
	if err != nil {
		return "", "", err
	}
	switch mediaType {
	case "text/plain":
		return text + "\n", "", nil
	case "text/html":
		return "", text, nil
	default:
		return "", "", nil
	}
}

func isAttachment(disposition string) bool {
	return strings.Contains(strings.ToLower(disposition), "attachment")
}

// decodePart applies the transfer encoding and charset to one body part.
func decodePart(r io.Reader, cte, charset string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(cte)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}

	if charset != "" && !strings.EqualFold(charset, "utf-8") && !strings.EqualFold(charset, "us-ascii") {
		decoded, err := charsetReader(charset, r)
		if err == nil {
			r = decoded
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", eris.Wrap(err, "email: decode part")
	}
	return string(data), nil
}
