package i18n

import (
	stderrors "errors"
	"net/http"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"merchant-verify-client/internal/platform/errors"
)

var retryableCodes = map[string]bool{
	errors.CodeConnection: true,
	errors.CodeTimeout:    true,
	"network_error":       true,
	"server_error":        true,
	"rate_limit_exceeded": true,
	errors.CodeBusy:       true,
}

// Translator turns errors into short user-facing text in one locale.
type Translator struct {
	catalog    *Catalog
	printer    *message.Printer
	locale     string
	codeLength int
}

// NewTranslator picks the closest supported locale to the requested one.
func NewTranslator(c *Catalog, locale string, codeLength int) *Translator {
	supported := make([]language.Tag, 0, len(c.locales))
	names := c.Locales()
	// the matcher falls back to its first entry
	ordered := append([]string{BaseLocale}, names...)
	seen := map[string]bool{}
	var keys []string
	for _, n := range ordered {
		if seen[n] {
			continue
		}
		seen[n] = true
		keys = append(keys, n)
		supported = append(supported, language.Make(n))
	}
	_, idx := language.MatchStrings(language.NewMatcher(supported), locale)
	chosen := keys[idx]

	if codeLength <= 0 {
		codeLength = 6
	}
	return &Translator{
		catalog:    c,
		printer:    message.NewPrinter(language.Make(chosen), message.Catalog(c.builder)),
		locale:     chosen,
		codeLength: codeLength,
	}
}

// Locale returns the locale actually in use.
func (t *Translator) Locale() string {
	return t.locale
}

// Text returns the message for a code, or the generic message for unknown codes.
func (t *Translator) Text(code string) string {
	if !t.catalog.Has(code) {
		code = "generic"
	}
	if code == errors.CodeInvalidCode {
		return t.printer.Sprintf(code, t.codeLength)
	}
	return t.printer.Sprintf(code)
}

// Translate maps an error to user-facing text. Known codes win; then a message
// the server supplied; then a message chosen from the error kind and status.
func (t *Translator) Translate(err error) string {
	if err == nil {
		return ""
	}
	var typed *errors.Error
	if !stderrors.As(err, &typed) {
		return t.Text(classifyText(err.Error()))
	}
	if typed.Code != "" && t.catalog.Has(typed.Code) {
		return t.Text(typed.Code)
	}

	switch typed.Kind {
	case errors.KindValidation:
		return t.Text("validation_error")
	case errors.KindUnauthenticated:
		return t.Text(errors.CodeTokenExpired)
	case errors.KindAttemptBudget:
		return t.Text(errors.CodeMaxAttempts)
	case errors.KindProtocol:
		return t.Text(errors.CodeWebsocketError)
	case errors.KindNetwork:
		return t.Text("network_error")
	case errors.KindServer:
		if msg := serverMessage(typed); msg != "" {
			return msg
		}
		return t.Text(statusCode(typed.Status))
	}
	return t.Text("generic")
}

// TranslateFields translates per-field error codes, joining several codes with a space.
func (t *Translator) TranslateFields(fields map[string][]string) map[string]string {
	out := make(map[string]string, len(fields))
	for field, codes := range fields {
		parts := make([]string, 0, len(codes))
		for _, c := range codes {
			parts = append(parts, t.Text(c))
		}
		out[field] = strings.Join(parts, " ")
	}
	return out
}

// RetryHint returns a hint when the error is worth retrying.
func (t *Translator) RetryHint(err error) (string, bool) {
	code := errors.CodeOf(err)
	if code == "" {
		switch errors.KindOf(err) {
		case errors.KindNetwork:
			code = "network_error"
		case errors.KindServer:
			code = statusCode(errors.StatusOf(err))
		}
	}
	if !retryableCodes[code] {
		return "", false
	}
	return t.Text("retry_hint"), true
}

func serverMessage(e *errors.Error) string {
	msg := strings.TrimSpace(e.Message)
	// generic transport phrases are not worth showing
	if msg == "" || strings.HasPrefix(msg, "HTTP ") {
		return ""
	}
	return msg
}

func statusCode(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return "bad_request"
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusForbidden:
		return "permission_denied"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusTooManyRequests:
		return "rate_limit_exceeded"
	case status >= 500:
		return "server_error"
	}
	return "generic"
}

func classifyText(s string) string {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "connection") || strings.Contains(s, "refused"):
		return errors.CodeConnection
	case strings.Contains(s, "timeout"):
		return errors.CodeTimeout
	case strings.Contains(s, "unauthorized") || strings.Contains(s, "401"):
		return "unauthorized"
	case strings.Contains(s, "404"):
		return "not_found"
	case strings.Contains(s, "500") || strings.Contains(s, "server error"):
		return "server_error"
	}
	return "generic"
}
