package module

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithNoError(t *testing.T) {
	called := false
	h := WithNoError(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	err := h(rec, httptest.NewRequest(http.MethodGet, "/ingestwatch/health", nil))
	assert.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCloseWithoutInit(t *testing.T) {
	assert.NotPanics(t, Close)
}

func TestLoadSettingsReadsDotEnv(t *testing.T) {
	env := filepath.Join(t.TempDir(), "module.env")
	require.NoError(t, os.WriteFile(env, []byte("INGESTWATCH_FILES_DIR=/from/dotenv\nINGESTWATCH_CACHE_TTL=30m\n"), 0o644))
	for _, k := range []string{"INGESTWATCH_FILES_DIR", "INGESTWATCH_CACHE_TTL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	s, err := loadSettings(env)
	require.NoError(t, err)
	assert.Equal(t, "/from/dotenv", s.FilesDir)
	assert.Equal(t, "30m0s", s.CacheTTL.String())
}
