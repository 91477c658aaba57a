package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"advisor/schemas"
)

const sampleFunnelYAML = `
company_name: DB Financials
booking_url: https://calendly.com/your-link
sheet:
  id: sheet-123
videos:
  intro: https://www.youtube.com/watch?v=LXb3EKWsInQ
  recruit: https://www.youtube.com/watch?v=jNQXAC9IVRw
  sales: https://www.youtube.com/watch?v=aqz-KE-bpKQ
paths:
  - tag: recruit
    label: I want to recruit agents
  - tag: sales
    label: I want to sell more policies
feedback: true
required_fields: [email]
texts:
  final_screen_title: "Perfect, {firstName}!"
timing:
  intro_fallback: 3s
player:
  retry_interval: 250ms
  retry_multiplier: 2
`

func TestParseFunnelConfig(t *testing.T) {
	cfg, err := ParseFunnelConfig([]byte(sampleFunnelYAML))
	require.NoError(t, err)

	assert.Equal(t, "DB Financials", cfg.CompanyName)
	assert.Equal(t, schemas.SheetTarget{SheetID: "sheet-123", Tab: schemas.DefaultSheetTab}, cfg.Target())
	assert.Len(t, cfg.Paths, 2)
	assert.True(t, cfg.Feedback)
	assert.Equal(t, 3*time.Second, cfg.Timing.IntroFallback)
	assert.Equal(t, schemas.DefaultPathFallback, cfg.Timing.PathFallback)
	assert.Equal(t, schemas.FallbackAdvance, cfg.Timing.FallbackAction)
	assert.Equal(t, 250*time.Millisecond, cfg.Player.RetryInterval)
	assert.Equal(t, "Perfect, {firstName}!", cfg.Text("final_screen_title"))
}

func TestParseFunnelConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"empty", "  \n", ErrConfigAbsent},
		{"unknown key", sampleFunnelYAML + "colour: red\n", ErrConfigInvalid},
		{"no intro", "booking_url: x\npaths: [{tag: a}]\n", ErrConfigInvalid},
		{"no paths", "booking_url: x\nvideos: {intro: abc}\n", ErrConfigInvalid},
		{"duplicate tag", "booking_url: x\nvideos: {intro: abc}\npaths: [{tag: a}, {tag: a}]\n", ErrConfigInvalid},
		{"bad required field", "booking_url: x\nvideos: {intro: abc}\npaths: [{tag: a}]\nrequired_fields: [age]\n", ErrConfigInvalid},
		{"bad fallback", "booking_url: x\nvideos: {intro: abc}\npaths: [{tag: a}]\ntiming: {fallback_action: wait}\n", ErrConfigInvalid},
		{"no booking url", "videos: {intro: abc}\npaths: [{tag: a}]\n", ErrConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFunnelConfig([]byte(tt.yaml))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestLoadFunnelConfig_Missing(t *testing.T) {
	_, err := LoadFunnelConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrConfigAbsent)

	_, err = LoadFunnelConfig("")
	assert.ErrorIs(t, err, ErrConfigAbsent)

	path := filepath.Join(t.TempDir(), "funnel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFunnelYAML), 0o600))
	cfg, err := LoadFunnelConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://calendly.com/your-link", cfg.BookingURL)
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), ".env")
	content := "# funnel\nENV=homolog\nPORT=\"9090\"\nFUNNEL_CONFIG='funnel.yaml'\nSTORE_BACKEND=memory\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	LoadEnvFile(path)
	assert.Equal(t, "homolog", os.Getenv(ENV))
	assert.Equal(t, "9090", os.Getenv(PORT))
	assert.Equal(t, "funnel.yaml", os.Getenv(FUNNEL_CONFIG))

	cfg, err := ParseServerConfig()
	require.NoError(t, err)
	assert.Equal(t, BACKEND_MEMORY, cfg.StoreBackend)
	assert.Equal(t, 15*time.Second, cfg.StoreTimeout)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestLoadEnvFile_Panics(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"unknown key":    "ENV=development\nPORT=1\nFUNNEL_CONFIG=x\nSECRET=1\n",
		"bad env":        "ENV=staging\nPORT=1\nFUNNEL_CONFIG=x\n",
		"missing keys":   "ENV=development\n",
		"malformed line": "ENV=development\nPORT\n",
		"empty file":     "",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ".env")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			assert.Panics(t, func() { LoadEnvFile(path) })
		})
	}
}

func TestParseServerConfig_BackendRequirements(t *testing.T) {
	clearEnv(t)
	t.Setenv(FUNNEL_CONFIG, "funnel.yaml")
	t.Setenv(ENV, ENV_DEVELOPMENT)

	t.Setenv(STORE_BACKEND, "sheets")
	t.Setenv(GOOGLE_CREDENTIALS, "")
	t.Setenv(GOOGLE_CREDENTIALS_FILE, "")
	_, err := ParseServerConfig()
	assert.Error(t, err)

	t.Setenv(STORE_BACKEND, "MongoDB")
	t.Setenv(MONGODB_URI, "")
	_, err = ParseServerConfig()
	assert.Error(t, err)

	t.Setenv(MONGODB_URI, "mongodb://localhost:27017")
	cfg, err := ParseServerConfig()
	require.NoError(t, err)
	assert.Equal(t, BACKEND_MONGODB, cfg.StoreBackend)

	t.Setenv(STORE_BACKEND, "postgres")
	_, err = ParseServerConfig()
	assert.Error(t, err)

	t.Setenv(STORE_BACKEND, "memory")
	t.Setenv(ENV, "staging")
	_, err = ParseServerConfig()
	assert.Error(t, err)
}

func TestGoogleCredentialsJSON(t *testing.T) {
	inline := ServerConfig{GoogleCredentials: `{"type":"service_account"}`}
	data, err := inline.GoogleCredentialsJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"service_account"}`, string(data))

	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o600))
	data, err = ServerConfig{GoogleCredentialsFile: path}.GoogleCredentialsJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestSendResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	SendResponse(rec, http.StatusOK, "ok", map[string]int{"n": 1}, 0)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"ok","data":{"n":1}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	SendResponse(rec, http.StatusBadGateway, "store down", nil, LEADS_CANNOT_PERSIST)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body schemas.ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Message, "Cod: 2")
	assert.NotContains(t, body.Message, "store down")

	rec = httptest.NewRecorder()
	SendResponse(rec, http.StatusNoContent, "", nil, 0)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestIsValidDate(t *testing.T) {
	assert.True(t, IsValidDate("2024-04-01"))
	assert.True(t, IsValidDate("2024-04-01T10:30"))
	assert.True(t, IsValidDate("2024-04-01T10:30:00Z"))
	assert.False(t, IsValidDate(""))
	assert.False(t, IsValidDate("01/04/2024"))
	assert.False(t, IsValidDate("2024-13-01"))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, ENV_RELEASE).Info("hello", "k", "v")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])

	buf.Reset()
	NewLogger(&buf, ENV_DEVELOPMENT).Debug("dev")
	assert.Contains(t, buf.String(), "msg=dev")
}

func TestSetupTracing_NoopWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "advisor-test", "")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupTracing_WithEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "advisor-test", "http://192.0.2.1:4318")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, shutdown(ctx))
}

// clearEnv unsets every known key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allowedKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}
