package registry

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"

	"github.com/cascade-sh/cascade/pkg/config"
	"github.com/cascade-sh/cascade/pkg/log"
)

const acceptManifests = "application/vnd.docker.distribution.manifest.v2+json, application/vnd.oci.image.manifest.v1+json, application/vnd.oci.image.index.v1+json"

// Client checks image existence against a Docker Registry v2 API
type Client struct {
	client *resty.Client
	base   string
	host   string
	logger zerolog.Logger
}

func NewClient(cfg config.Registry) *Client {
	base := strings.TrimSuffix(cfg.URL, "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "https://" + base
	}
	host := base
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}

	client := resty.New().
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	if cfg.Username != "" {
		client.SetBasicAuth(cfg.Username, cfg.Password)
	}

	return &Client{
		client: client,
		base:   base,
		host:   host,
		logger: log.WithComponent("registry"),
	}
}

// TagExists asks the registry for the tag's manifest. A 404 means the tag
// is absent; any other failure is an error, so a flaky registry never reads
// as a missing image.
func (c *Client) TagExists(ctx context.Context, repository, version string) (bool, error) {
	name := repository
	if c.host != "" {
		name = strings.TrimPrefix(name, c.host+"/")
	}
	url := fmt.Sprintf("%s/v2/%s/manifests/%s", c.base, name, version)

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", acceptManifests).
		Head(url)
	if err != nil {
		return false, fmt.Errorf("registry request for %s:%s failed: %w", repository, version, err)
	}

	switch {
	case resp.IsSuccess():
		c.logger.Debug().Str("repository", repository).Str("version", version).Msg("Image tag present")
		return true, nil
	case resp.StatusCode() == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("registry returned status %d for %s:%s", resp.StatusCode(), repository, version)
	}
}

// Close releases the underlying HTTP client
func (c *Client) Close() error {
	return c.client.Close()
}
