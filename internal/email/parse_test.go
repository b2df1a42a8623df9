package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plainEML = `From: Alice <alice@example.com>
To: Bob <bob@example.com>
Subject: Quarterly numbers
Date: Tue, 14 Jan 2025 09:30:11 +0000
Content-Type: text/plain; charset=utf-8

Hi Bob,

The numbers are attached.

Alice
`

func TestParsePlain(t *testing.T) {
	m, err := Parse("report.eml", strings.NewReader(plainEML))
	require.NoError(t, err)

	assert.Equal(t, "report.eml", m.FileName)
	assert.Equal(t, "Alice <alice@example.com>", m.From)
	assert.Equal(t, "Bob <bob@example.com>", m.To)
	assert.Equal(t, "Quarterly numbers", m.Subject)
	assert.Equal(t, 2025, m.Date.Year())
	assert.Contains(t, m.Body, "The numbers are attached.")
}

func TestParseEncodedSubject(t *testing.T) {
	eml := "From: a@example.com\r\n" +
		"Subject: =?utf-8?B?5pel5oql?=\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"body\r\n"

	m, err := Parse("x.eml", strings.NewReader(eml))
	require.NoError(t, err)
	assert.Equal(t, "日报", m.Subject)
}

func TestParseMultipartPrefersPlain(t *testing.T) {
	eml := `From: a@example.com
Subject: mixed
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="BOUND"

--BOUND
Content-Type: text/html; charset=utf-8

<html><body><b>bold html</b></body></html>
--BOUND
Content-Type: text/plain; charset=utf-8

plain text wins
--BOUND--
`
	m, err := Parse("x.eml", strings.NewReader(eml))
	require.NoError(t, err)
	assert.Equal(t, "plain text wins", m.Body)
}

func TestParseHTMLFallbackStripsTags(t *testing.T) {
	eml := `From: a@example.com
Subject: html only
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="BOUND"

--BOUND
Content-Type: text/html; charset=utf-8

<html><body><p>only html here</p></body></html>
--BOUND--
`
	m, err := Parse("x.eml", strings.NewReader(eml))
	require.NoError(t, err)
	assert.Equal(t, "only html here", m.Body)
	assert.NotContains(t, m.Body, "<p>")
}

func TestParseSkipsAttachments(t *testing.T) {
	eml := `From: a@example.com
Subject: with attachment
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="BOUND"

--BOUND
Content-Type: text/plain; charset=utf-8

the body
--BOUND
Content-Type: text/plain; charset=utf-8
Content-Disposition: attachment; filename="notes.txt"

attachment content
--BOUND--
`
	m, err := Parse("x.eml", strings.NewReader(eml))
	require.NoError(t, err)
	assert.Contains(t, m.Body, "the body")
	assert.NotContains(t, m.Body, "attachment content")
}

func TestParseQuotedPrintable(t *testing.T) {
	eml := "From: a@example.com\r\n" +
		"Subject: qp\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"caf=C3=A9 meeting\r\n"

	m, err := Parse("x.eml", strings.NewReader(eml))
	require.NoError(t, err)
	assert.Equal(t, "café meeting", m.Body)
}

func TestParseBase64GBK(t *testing.T) {
	// "你好" in GBK, base64-encoded.
	eml := "From: a@example.com\r\n" +
		"Subject: gbk\r\n" +
		"Content-Type: text/plain; charset=gbk\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"xOO6ww==\r\n"

	m, err := Parse("x.eml", strings.NewReader(eml))
	require.NoError(t, err)
	assert.Equal(t, "你好", m.Body)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("bad.eml", strings.NewReader("not an email at all"))
	assert.Error(t, err)
}
