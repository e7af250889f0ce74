package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/logger"
)

const (
	storageScope = "https://www.googleapis.com/auth/devstorage.read_write"
	pingTimeout  = 5 * time.Second
	errBodyLimit = 2048
)

const (
	defaultAPIBase    = "https://storage.googleapis.com/storage/v1"
	defaultUploadBase = "https://storage.googleapis.com/upload/storage/v1"
	defaultPublicBase = "https://storage.googleapis.com"
)

// Client talks to the GCS JSON API for avatar objects.
type Client struct {
	httpClient    *http.Client
	tokens        oauth2.TokenSource
	defaultBucket string
	publicBase    string
	apiBase       string
	uploadBase    string
}

type Pinger interface {
	Ping(ctx context.Context) error
}

func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	tokens, err := credentialsTokenSource(ctx, httpClient, gcp)
	if err != nil {
		return nil, err
	}

	client := &Client{
		httpClient:    httpClient,
		tokens:        tokens,
		defaultBucket: cfg.BucketName,
		publicBase:    strings.TrimRight(cfg.PublicBaseURL, "/"),
		apiBase:       defaultAPIBase,
		uploadBase:    defaultUploadBase,
	}
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.BucketName), "gcs.client_ready")
	}
	return client, nil
}

// credentialsTokenSource prefers inline service account JSON, then a key
// file, then application default credentials (metadata server on GCP).
func credentialsTokenSource(ctx context.Context, httpClient *http.Client, gcp config.GCPConfig) (oauth2.TokenSource, error) {
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	key := []byte(gcp.CredentialsJSON)
	if len(key) == 0 && gcp.ApplicationCredentials != "" {
		raw, err := os.ReadFile(gcp.ApplicationCredentials)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		key = raw
	}
	if len(key) == 0 {
		ts, err := google.DefaultTokenSource(ctx, storageScope)
		if err != nil {
			return nil, fmt.Errorf("default gcs credentials: %w", err)
		}
		return ts, nil
	}

	jwtCfg, err := google.JWTConfigFromJSON(key, storageScope)
	if err != nil {
		return nil, fmt.Errorf("parsing service account credentials: %w", err)
	}
	return jwtCfg.TokenSource(tokenCtx), nil
}

func (c *Client) DefaultBucket() string {
	if c == nil {
		return ""
	}
	return c.defaultBucket
}

func (c *Client) Close() error {
	return nil
}

// Ping lists at most one object, which needs storage.objects.list on the bucket.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/b/%s/o?maxResults=1", c.api(), url.PathEscape(c.defaultBucket))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError("gcs object check failed", resp)
	}
	return nil
}

func (c *Client) ready() error {
	if c == nil || c.tokens == nil || c.httpClient == nil {
		return errors.New("gcs client not initialized")
	}
	if c.defaultBucket == "" {
		return errors.New("gcs bucket not configured")
	}
	return nil
}

// do attaches a bearer token and sends req.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("gcs token: %w", err)
	}
	tok.SetAuthHeader(req)
	return c.httpClient.Do(req)
}

func statusError(prefix string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
	if msg := strings.TrimSpace(string(b)); msg != "" {
		return fmt.Errorf("%s: %s: %s", prefix, resp.Status, msg)
	}
	return fmt.Errorf("%s: %s", prefix, resp.Status)
}
