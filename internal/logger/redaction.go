package logger

import (
	"io"
	"regexp"
)

// The credentials parley actually handles: provider API keys from the config
// profiles, the gateway shared secret (header or PARLEY_* env form), and
// bearer tokens on forwarded requests. The trailing rules catch generic
// key=value spills.
var defaultRules = []rule{
	{"anthropic_key", regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{16,}`)},
	{"openai_key", regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`)},
	{"gateway_secret", regexp.MustCompile(`(?i)x-parley-secret["'\s:=]+\S+`)},
	{"env_credential", regexp.MustCompile(`PARLEY_[A-Z_]*(?:SECRET|KEY|TOKEN)[A-Z_]*=\S+`)},
	{"bearer_token", regexp.MustCompile(`Bearer\s+[A-Za-z0-9._~+/=-]+`)},
	{"aws_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"generic", regexp.MustCompile(`(?i)(?:password|passwd|api_key|apikey|secret|token)["'\s:=]+[^\s"']+`)},
}

type rule struct {
	name string
	re   *regexp.Regexp
}

// Redactor scrubs credentials from log output before it reaches a sink.
type Redactor struct {
	rules []rule
}

// NewRedactor returns a redactor carrying the default rule set.
func NewRedactor() *Redactor {
	rules := make([]rule, len(defaultRules))
	copy(rules, defaultRules)
	return &Redactor{rules: rules}
}

// AddPattern appends a custom rule. The pattern must compile.
func (r *Redactor) AddPattern(name, pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{name: name, re: re})
	return nil
}

// Redact replaces every rule match in s with a [REDACTED:name] marker.
func (r *Redactor) Redact(s string) string {
	for _, rule := range r.rules {
		s = rule.re.ReplaceAllString(s, "[REDACTED:"+rule.name+"]")
	}
	return s
}

// Wrap returns a writer that redacts each write before passing it to w.
// Zerolog hands Write one complete event at a time, so matching never
// straddles a write boundary.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{sink: w, redactor: r}
}

type redactingWriter struct {
	sink     io.Writer
	redactor *Redactor
}

// Write reports the input length on success so wrappers upstream do not see
// a short write when redaction changes the byte count.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.sink.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
