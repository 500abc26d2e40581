package verification

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-verify-client/internal/domain/eventbus"
	"merchant-verify-client/internal/platform/storage"
	"merchant-verify-client/internal/transport/rest"
)

func TestTargetIDRules(t *testing.T) {
	v := NewValidator(6, 50)
	cases := []struct {
		id string
		ok bool
	}{
		{merchantUUID, true},
		{"42", true},
		{"99999999999999999999999", true},
		{"PG-merchant-007", true},
		{strings.Repeat("x", 50), true},
		{strings.Repeat("x", 51), false},
		{"0", false},
		{"-3", false},
		{"", false},
		{"   ", false},
	}
	for _, tc := range cases {
		err := v.TargetID(tc.id)
		assert.Equal(t, tc.ok, err == nil, "id %q", tc.id)
	}
}

func TestContactRules(t *testing.T) {
	v := NewValidator(6, 50)
	assert.NoError(t, v.Email("a.b+c@shop.example.com"))
	assert.Error(t, v.Email("a@b"))
	assert.Error(t, v.Email(strings.Repeat("a", 250)+"@x.com"))

	assert.NoError(t, v.Phone("+1 (555) 123-4567"))
	assert.NoError(t, v.Phone("555.123.4567"))
	assert.Error(t, v.Phone("12345"))
	assert.Error(t, v.Phone("+1234567890123456"))
	assert.Error(t, v.Phone("555-CALL-NOW"))
}

func TestCodeRules(t *testing.T) {
	v := NewValidator(6, 50)
	assert.NoError(t, v.Code("012345"))
	assert.Error(t, v.Code("12345"))
	assert.Error(t, v.Code("1234567"))
	assert.Error(t, v.Code("12.456"))
	assert.Error(t, v.Code(""))
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "j*******@example.com", MaskEmail("john.doe@example.com"))
	assert.Equal(t, "+*******4567", MaskPhone("+1 555 123 4567"))
	assert.Equal(t, "***", MaskSecret("abc", 4))
	assert.Equal(t, "(555) 123-4567", FormatPhone("5551234567"))
	assert.Equal(t, "+1 (555) 123-4567", FormatPhone("1-555-123-4567"))
	assert.Equal(t, "+44 20 7946 0958", FormatPhone("+44 20 7946 0958"))
	assert.Equal(t, "Failed Attempt", FormatStatus("failed_attempt"))
	assert.Equal(t, "N/A", ShortID(""))
	assert.Equal(t, "xy", Sanitize(" x\x00y "))
}

func TestHistoryFetchCapsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/history/", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "sms", r.URL.Query().Get("method"))
		assert.Equal(t, "x", r.URL.Query().Get("custom"))
		_, _ = io.WriteString(w, `[{"id":1,"merchant_id":"m-1","verification_method":"sms","status":"verified"}, "junk"]`)
	}))
	defer srv.Close()

	engine := rest.New(rest.Config{BaseURL: srv.URL + "/api"}, staticToken("tok"), nil)
	entries, err := NewHistory(engine).Fetch(context.Background(), HistoryFilter{
		Limit:  500,
		Method: "sms",
		Extra:  map[string]string{"custom": "x", "limit": "7"},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0].ID)
	assert.Equal(t, "sms", entries[0].Method)
	assert.Equal(t, "verified", entries[0].Status)
}

type staticToken string

func (s staticToken) BearerToken() (string, bool) { return string(s), s != "" }

func TestRecorderPersistsFinishedSessions(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	repo := storage.NewVerificationRecordRepository(db)

	bus := eventbus.New(nil, 1)
	defer bus.Close()
	rec := NewRecorder(repo, nil, true)
	rec.Attach(bus)
	defer rec.Detach()

	m := NewMachine(Options{Strategy: EmailStrategy{}, Bus: bus})
	toAwaiting(t, m, "auth-1")
	require.NoError(t, m.Cancel())
	bus.WaitAsync()

	rows, err := repo.List(context.Background(), storage.JournalFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, OutcomeCancelled, rows[0].Outcome)
	assert.Equal(t, "o****@shop.example", rows[0].Contact)
	assert.Equal(t, "auth-1", rows[0].ServerID)
	assert.WithinDuration(t, time.Now(), rows[0].FinishedAt, time.Minute)
	assert.Contains(t, string(rows[0].Detail), "cancelled by operator")
}
