package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadBase(t *testing.T) {
	_, err := New("not a url", 0, nil)
	assert.Error(t, err)

	_, err = New("ftp://files.test", 0, nil)
	assert.Error(t, err)
}

func TestResolveMediaURL(t *testing.T) {
	c, err := New("http://wa.test:8002/api", 0, nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"direct path", "/v/t62.7118-24/abc.enc?ccb=11", "http://wa.test:8002/api/v/t62.7118-24/abc.enc?ccb=11", false},
		{"relative path", "media/1.jpg", "http://wa.test:8002/api/media/1.jpg", false},
		{"absolute on upstream host", "http://wa.test:8002/files/1.jpg", "http://wa.test:8002/files/1.jpg", false},
		{"foreign host", "https://mmg.whatsapp.net/v/t62/abc", "", true},
		{"protocol relative foreign host", "//evil.test/x", "", true},
		{"traversal", "../../etc/passwd", "", true},
		{"bad scheme", "file:///etc/passwd", "", true},
		{"empty", "  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ResolveMediaURL(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrPathNotAllowed))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestNotConfigured(t *testing.T) {
	c, err := New("", 0, nil)
	require.NoError(t, err)

	_, err = c.FetchMedia(context.Background(), "/x")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Empty(t, c.BaseURL())
}

func TestFetchMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v/t62/img.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpegbytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, 0, nil)
	require.NoError(t, err)

	media, err := c.FetchMedia(context.Background(), "/v/t62/img.jpg")
	require.NoError(t, err)
	defer media.Body.Close()

	assert.Equal(t, http.StatusOK, media.StatusCode)
	assert.Equal(t, "image/jpeg", media.ContentType)
	body, err := io.ReadAll(media.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpegbytes", string(body))

	missing, err := c.FetchMedia(context.Background(), "/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
