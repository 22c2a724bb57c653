package milter

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/d--j/go-milter"
	"github.com/rs/zerolog"

	"github.com/zpam/mailclass/pkg/config"
	"github.com/zpam/mailclass/pkg/email"
	"github.com/zpam/mailclass/pkg/learning"
)

// maxBodyBytes bounds how much of a message body is buffered for classification
const maxBodyBytes = 1 << 20

// Handler implements the milter.Milter interface for one SMTP session
type Handler struct {
	milter.NoOpMilter
	config     *config.MilterConfig
	classifier learning.Classifier
	parser     *email.Parser
	logger     zerolog.Logger

	// Message data being built during the milter session
	from    string
	rcpts   []string
	headers []headerField
	subject string
	body    bytes.Buffer

	// Connection/session data
	connectHost string
	connectAddr string
	heloName    string

	// Performance tracking
	startTime time.Time
}

type headerField struct {
	name  string
	value string
}

// NewHandler creates a new milter handler
func NewHandler(cfg *config.MilterConfig, classifier learning.Classifier, logger zerolog.Logger) *Handler {
	return &Handler{
		config:     cfg,
		classifier: classifier,
		parser:     email.NewParser(),
		logger:     logger,
		startTime:  time.Now(),
	}
}

// NewConnection is called when a new SMTP connection is established
func (h *Handler) NewConnection(m milter.Modifier) error {
	h.startTime = time.Now()
	return nil
}

// Connect is called when connection information is available
func (h *Handler) Connect(host string, family string, port uint16, addr string, m milter.Modifier) (*milter.Response, error) {
	h.connectHost = host
	h.connectAddr = addr
	return milter.RespContinue, nil
}

// Helo is called when HELO/EHLO is received
func (h *Handler) Helo(name string, m milter.Modifier) (*milter.Response, error) {
	h.heloName = name
	return milter.RespContinue, nil
}

// MailFrom is called when MAIL FROM is received
func (h *Handler) MailFrom(from string, esmtpArgs string, m milter.Modifier) (*milter.Response, error) {
	h.reset()
	h.from = from
	h.startTime = time.Now()
	return milter.RespContinue, nil
}

// RcptTo is called for each RCPT TO
func (h *Handler) RcptTo(rcptTo string, esmtpArgs string, m milter.Modifier) (*milter.Response, error) {
	h.rcpts = append(h.rcpts, rcptTo)
	return milter.RespContinue, nil
}

// Header is called for each header
func (h *Handler) Header(name string, value string, m milter.Modifier) (*milter.Response, error) {
	h.headers = append(h.headers, headerField{name: name, value: value})
	if strings.EqualFold(name, "subject") {
		h.subject = value
	}
	return milter.RespContinue, nil
}

// BodyChunk is called for each body chunk
func (h *Handler) BodyChunk(chunk []byte, m milter.Modifier) (*milter.Response, error) {
	if room := maxBodyBytes - h.body.Len(); room > 0 {
		if len(chunk) > room {
			chunk = chunk[:room]
		}
		h.body.Write(chunk)
	}
	return milter.RespContinue, nil
}

// EndOfMessage classifies the message and applies the verdict
func (h *Handler) EndOfMessage(m milter.Modifier) (*milter.Response, error) {
	result, err := h.classifier.Classify(h.messageText())
	if err != nil {
		h.logger.Error().Err(err).Str("from", h.from).Msg("Classification failed")
		return milter.RespTempFail, nil
	}

	verdict := Decide(result, h.config)
	elapsed := time.Since(h.startTime)

	h.logger.Info().
		Str("from", h.from).
		Strs("rcpt", h.rcpts).
		Str("client", h.connectAddr).
		Str("client_host", h.connectHost).
		Str("helo", h.heloName).
		Str("category", verdict.Category).
		Float64("spam_probability", verdict.SpamProbability).
		Bool("spam", verdict.Spam).
		Bool("reject", verdict.Reject).
		Dur("elapsed", elapsed).
		Msg("Message classified")

	if h.config.AddHeaders && h.config.CanAddHeaders {
		if err := h.addHeaders(m, verdict, elapsed); err != nil {
			return milter.RespTempFail, fmt.Errorf("failed to add classification headers: %w", err)
		}
	}

	return h.respond(verdict), nil
}

// Abort is called when the message is aborted
func (h *Handler) Abort(m milter.Modifier) error {
	h.reset()
	return nil
}

// Cleanup is called when the connection is closed
func (h *Handler) Cleanup(m milter.Modifier) {
	h.reset()
}

func (h *Handler) reset() {
	h.from = ""
	h.rcpts = nil
	h.headers = nil
	h.subject = ""
	h.body.Reset()
}

// messageText rebuilds the message and extracts subject and decoded text.
// Messages the parser rejects fall back to the raw subject and body.
func (h *Handler) messageText() string {
	var raw bytes.Buffer
	for _, f := range h.headers {
		fmt.Fprintf(&raw, "%s: %s\r\n", f.name, f.value)
	}
	raw.WriteString("\r\n")
	raw.Write(h.body.Bytes())

	if parsed, err := h.parser.Parse(&raw); err == nil {
		return parsed.Text()
	}
	if h.subject == "" {
		return h.body.String()
	}
	return h.subject + "\n" + h.body.String()
}

// addHeaders adds X-Mailclass-* headers with the classification result
func (h *Handler) addHeaders(m milter.Modifier, verdict Verdict, elapsed time.Duration) error {
	prefix := h.config.HeaderPrefix

	status := "Clean"
	if verdict.Spam {
		status = "Spam"
	}
	if err := m.AddHeader(prefix+"Status", status); err != nil {
		return err
	}

	if err := m.AddHeader(prefix+"Category", verdict.Category); err != nil {
		return err
	}

	if err := m.AddHeader(prefix+"Spam-Probability", fmt.Sprintf("%.4f", verdict.SpamProbability)); err != nil {
		return err
	}

	info := fmt.Sprintf("mailclass; %.2fms", float64(elapsed.Microseconds())/1000)
	return m.AddHeader(prefix+"Info", info)
}

// respond maps a verdict to the milter response
func (h *Handler) respond(verdict Verdict) *milter.Response {
	if !verdict.Reject {
		return milter.RespContinue
	}

	message := h.config.RejectMessage
	if message == "" {
		message = fmt.Sprintf("5.7.1 Message rejected as spam (probability: %.2f)", verdict.SpamProbability)
	}
	resp, _ := milter.RejectWithCodeAndReason(550, message)
	return resp
}

// Verdict is the milter decision for one message
type Verdict struct {
	Category        string
	SpamProbability float64
	Spam            bool
	Reject          bool
}

// Decide applies the tag and reject thresholds to a classification
func Decide(result learning.Result, cfg *config.MilterConfig) Verdict {
	category, _ := result.Best()
	spamCategory := cfg.SpamCategory
	if spamCategory == "" {
		spamCategory = "spam"
	}

	p := result[spamCategory]
	return Verdict{
		Category:        category,
		SpamProbability: p,
		Spam:            p >= cfg.TagThreshold,
		Reject:          p >= cfg.RejectThreshold,
	}
}
