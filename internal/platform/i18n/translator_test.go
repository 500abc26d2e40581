package i18n

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-verify-client/internal/platform/errors"
)

func newTestTranslator(t *testing.T, locale string) *Translator {
	t.Helper()
	c, err := LoadEmbedded()
	require.NoError(t, err)
	return NewTranslator(c, locale, 6)
}

func TestCatalogsAreComplete(t *testing.T) {
	c, err := LoadEmbedded()
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "zh"}, c.Locales())
	assert.Empty(t, c.Missing("zh"))
}

func TestTranslate(t *testing.T) {
	tr := newTestTranslator(t, "en-US")
	assert.Equal(t, "en", tr.Locale())

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "server code wins over message",
			err:  errors.New(errors.KindServer, "rest.call", "Bad pin").WithStatus(400, "invalid_pin"),
			want: "The PIN code you entered is incorrect",
		},
		{
			name: "server message without known code",
			err:  errors.New(errors.KindServer, "rest.call", "Merchant is suspended").WithStatus(403, ""),
			want: "Merchant is suspended",
		},
		{
			name: "status fallback",
			err:  errors.New(errors.KindServer, "rest.call", "HTTP 503").WithStatus(503, ""),
			want: "Server error occurred. Please try again later",
		},
		{
			name: "timeout",
			err:  errors.Wrap(errors.KindNetwork, "rest.call", "request timed out", stderrors.New("deadline")).WithCode(errors.CodeTimeout),
			want: "Request timed out. Please try again",
		},
		{
			name: "attempt budget",
			err:  errors.New(errors.KindAttemptBudget, "verification.submit", "no attempts left"),
			want: "Maximum verification attempts exceeded. Please try again later",
		},
		{
			name: "unauthenticated",
			err:  errors.New(errors.KindUnauthenticated, "rest.call", "no valid token"),
			want: "Your session has expired. Please log in again",
		},
		{
			name: "code length is interpolated",
			err:  errors.New(errors.KindValidation, "verification.submit", "bad code").WithCode(errors.CodeInvalidCode),
			want: "The code must be exactly 6 digits",
		},
		{
			name: "untyped connection error",
			err:  stderrors.New("dial tcp 10.0.0.1:80: connection refused"),
			want: "Unable to connect to server. Please check your internet connection",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.Translate(tt.err))
		})
	}
}

func TestTranslateChinese(t *testing.T) {
	tr := newTestTranslator(t, "zh-CN")
	assert.Equal(t, "zh", tr.Locale())
	assert.Equal(t, "验证码必须为 6 位数字", tr.Text(errors.CodeInvalidCode))
	assert.Equal(t, "发生错误", tr.Text("no_such_code"))
}

func TestUnknownLocaleFallsBackToEnglish(t *testing.T) {
	tr := newTestTranslator(t, "fr")
	assert.Equal(t, "en", tr.Locale())
}

func TestTranslateFields(t *testing.T) {
	tr := newTestTranslator(t, "en")
	got := tr.TranslateFields(map[string][]string{
		"email": {errors.CodeRequiredField, errors.CodeInvalidEmail},
	})
	assert.Equal(t, "This field is required Invalid email address format", got["email"])
}

func TestRetryHint(t *testing.T) {
	tr := newTestTranslator(t, "en")

	hint, ok := tr.RetryHint(errors.New(errors.KindServer, "rest.call", "HTTP 429").WithStatus(429, ""))
	assert.True(t, ok)
	assert.Equal(t, "Please try again in a few moments", hint)

	_, ok = tr.RetryHint(errors.New(errors.KindServer, "rest.call", "bad").WithStatus(400, "invalid_pin"))
	assert.False(t, ok)

	_, ok = tr.RetryHint(errors.New(errors.KindNetwork, "rest.call", "down"))
	assert.True(t, ok)
}
