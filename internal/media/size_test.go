package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadSizer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "4096")
	}))
	defer server.Close()

	size, err := NewHeadSizer(time.Second).Size(context.Background(), server.URL+"/acc-os.iso")
	require.NoError(t, err)
	assert.Equal(t, int64(4096), size)
}

func TestHeadSizerRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewHeadSizer(time.Second).Size(context.Background(), server.URL+"/acc-os.iso")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSizeUnknown))
}

func TestHeadSizerRejectsMissingContentLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// no Content-Length, transfer completion could never be verified
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := NewHeadSizer(time.Second).Size(context.Background(), server.URL+"/acc-os.iso")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSizeUnknown))
}

func TestExtractServer(t *testing.T) {
	server, err := extractServer("http://192.0.2.10:8080/acc-os.iso")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", server)

	_, err = extractServer("not a url at all\x7f")
	assert.Error(t, err)
}

func TestExtractFilename(t *testing.T) {
	name, err := extractFilename("http://192.0.2.10:8080/images/acc-os.iso")
	require.NoError(t, err)
	assert.Equal(t, "acc-os.iso", name)

	_, err = extractFilename("http://192.0.2.10:8080")
	assert.Error(t, err)
}
