package email

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plainMessage = "From: Alice <alice@example.com>\r\n" +
	"To: bob@example.com, carol@example.com\r\n" +
	"Subject: Lunch tomorrow\r\n" +
	"\r\n" +
	"Are we still on for lunch?\r\n"

const multipartMessage = "From: promo@deals.biz\r\n" +
	"To: you@example.com\r\n" +
	"Subject: =?UTF-8?B?RlJFRSBwcml6ZSE=?=\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=outer\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=inner\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Claim your prize =E2=82=AC100 now\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Claim your <b>prize</b></p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"invoice.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQK\r\n" +
	"--outer--\r\n"

const htmlOnlyMessage = "From: news@example.com\r\n" +
	"Subject: Newsletter\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><body>Big <i>savings</i></body></html>\r\n"

func TestParsePlain(t *testing.T) {
	email, err := NewParser().Parse(strings.NewReader(plainMessage))
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", email.From)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, email.To)
	assert.Equal(t, "Lunch tomorrow", email.Subject)
	assert.Contains(t, email.Body, "Are we still on for lunch?")
	assert.Equal(t, "Lunch tomorrow", email.Headers["Subject"])
	assert.Empty(t, email.Attachments)
	assert.False(t, email.ParsedAt.IsZero())
}

func TestParseMultipart(t *testing.T) {
	email, err := NewParser().Parse(strings.NewReader(multipartMessage))
	require.NoError(t, err)

	assert.Equal(t, "FREE prize!", email.Subject)
	assert.Contains(t, email.Body, "Claim your prize €100 now")
	assert.NotContains(t, email.Body, "<p>", "html alternative is ignored when text exists")

	require.Len(t, email.Attachments, 1)
	assert.Equal(t, "invoice.pdf", email.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", email.Attachments[0].ContentType)
	assert.Greater(t, email.Attachments[0].Size, int64(0))

	text := email.Text()
	assert.True(t, strings.HasPrefix(text, "FREE prize!\n"))
}

func TestParseHTMLOnly(t *testing.T) {
	email, err := NewParser().Parse(strings.NewReader(htmlOnlyMessage))
	require.NoError(t, err)
	assert.Contains(t, email.Body, "<i>savings</i>")
}

func TestParseFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mail.eml")
	require.NoError(t, os.WriteFile(path, []byte(plainMessage), 0o644))

	email, err := NewParser().ParseFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Lunch tomorrow", email.Subject)

	_, err = NewParser().ParseFromFile(filepath.Join(t.TempDir(), "missing.eml"))
	assert.Error(t, err)
}

func TestExtractText(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name     string
		input    string
		contains string
		exact    bool
	}{
		{name: "message", input: plainMessage, contains: "Lunch tomorrow\n"},
		{name: "raw text", input: "Free money, click here!", contains: "Free money, click here!", exact: true},
		{name: "colon in prose", input: "Note to self: buy milk", contains: "Note to self: buy milk", exact: true},
		{name: "empty", input: "", contains: "", exact: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.ExtractText([]byte(tt.input))
			if tt.exact {
				assert.Equal(t, tt.contains, got)
			} else {
				assert.Contains(t, got, tt.contains)
			}
		})
	}
}

func TestEmailText(t *testing.T) {
	assert.Equal(t, "body", (&Email{Body: "body"}).Text())
	assert.Equal(t, "subj\nbody", (&Email{Subject: "subj", Body: "body"}).Text())
}
