package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Email represents a parsed email reduced to what the classifier reads
type Email struct {
	From        string
	To          []string
	Subject     string
	Body        string
	Headers     map[string]string
	Attachments []Attachment
	ParsedAt    time.Time
}

// Attachment represents an email attachment
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
}

// Text returns the subject and body as one document for classification
func (e *Email) Text() string {
	if e.Subject == "" {
		return e.Body
	}
	return e.Subject + "\n" + e.Body
}

// Parser handles email parsing
type Parser struct {
	// MaxPartBytes caps how much of each text part is read, 0 = unlimited
	MaxPartBytes int64
}

// NewParser creates a new email parser
func NewParser() *Parser {
	return &Parser{MaxPartBytes: 1 << 20}
}

// ParseFromFile parses an email from a file
func (p *Parser) ParseFromFile(filepath string) (*Email, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return p.Parse(file)
}

// Parse parses an RFC 5322 message. Plain text parts make up the body; HTML
// parts are used only when there is no plain text.
func (p *Parser) Parse(reader io.Reader) (*Email, error) {
	mr, err := mail.CreateReader(reader)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse email: %w", err)
	}
	defer mr.Close()

	email := &Email{
		Headers:  make(map[string]string),
		ParsedAt: time.Now(),
	}

	fields := mr.Header.Fields()
	for fields.Next() {
		if _, seen := email.Headers[fields.Key()]; !seen {
			email.Headers[fields.Key()] = fields.Value()
		}
	}

	if subject, err := mr.Header.Subject(); err == nil {
		email.Subject = subject
	} else {
		email.Subject = mr.Header.Get("Subject")
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		email.From = from[0].Address
	} else {
		email.From = mr.Header.Get("From")
	}
	if to, err := mr.Header.AddressList("To"); err == nil {
		for _, addr := range to {
			email.To = append(email.To, addr.Address)
		}
	}

	var plain, html []string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("failed to read message part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			text, err := p.readPart(part.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s part: %w", contentType, err)
			}
			switch {
			case contentType == "text/html":
				html = append(html, text)
			case contentType == "" || strings.HasPrefix(contentType, "text/"):
				plain = append(plain, text)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			size, _ := io.Copy(io.Discard, part.Body)
			email.Attachments = append(email.Attachments, Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        size,
			})
		}
	}

	if len(plain) > 0 {
		email.Body = strings.Join(plain, "\n")
	} else {
		email.Body = strings.Join(html, "\n")
	}

	return email, nil
}

func (p *Parser) readPart(body io.Reader) (string, error) {
	if p.MaxPartBytes > 0 {
		body = io.LimitReader(body, p.MaxPartBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ExtractText returns the classifiable text of data. Data that does not start
// with a header block is returned unchanged.
func (p *Parser) ExtractText(data []byte) string {
	if !looksLikeMessage(data) {
		return string(data)
	}
	email, err := p.Parse(bytes.NewReader(data))
	if err != nil {
		return string(data)
	}
	return email.Text()
}

// looksLikeMessage reports whether data opens with an RFC 5322 header field
func looksLikeMessage(data []byte) bool {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return false
	}
	for _, c := range line[:colon] {
		if c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}
