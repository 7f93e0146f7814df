package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascade-sh/cascade/pkg/config"
)

func manifestServer(t *testing.T, tags map[string]bool, wantAuth bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		require.True(t, strings.HasPrefix(r.URL.Path, "/v2/"))
		require.Contains(t, r.Header.Get("Accept"), "manifest")

		if wantAuth {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "deployer" || pass != "s3cret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}

		if tags[r.URL.Path] {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
}

func TestTagExists(t *testing.T) {
	server := manifestServer(t, map[string]bool{"/v2/team/api/manifests/1.2.3": true}, false)
	defer server.Close()

	client := NewClient(config.Registry{URL: server.URL})
	defer client.Close()

	exists, err := client.TagExists(context.Background(), "team/api", "1.2.3")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.TagExists(context.Background(), "team/api", "9.9.9")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTagExistsStripsRegistryHost(t *testing.T) {
	server := manifestServer(t, map[string]bool{"/v2/team/api/manifests/2.0.0": true}, false)
	defer server.Close()

	client := NewClient(config.Registry{URL: server.URL})
	defer client.Close()

	host := strings.TrimPrefix(server.URL, "http://")
	exists, err := client.TagExists(context.Background(), host+"/team/api", "2.0.0")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestTagExistsWithBasicAuth(t *testing.T) {
	server := manifestServer(t, map[string]bool{"/v2/team/api/manifests/1.0.0": true}, true)
	defer server.Close()

	client := NewClient(config.Registry{URL: server.URL, Username: "deployer", Password: "s3cret"})
	defer client.Close()

	exists, err := client.TagExists(context.Background(), "team/api", "1.0.0")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestTagExistsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(config.Registry{URL: server.URL})
	defer client.Close()

	_, err := client.TagExists(context.Background(), "team/api", "1.0.0")
	assert.Error(t, err)
}

func TestNewClientNormalizesURL(t *testing.T) {
	client := NewClient(config.Registry{URL: "registry.example.com/"})
	defer client.Close()
	assert.Equal(t, "https://registry.example.com", client.base)
	assert.Equal(t, "registry.example.com", client.host)
}
