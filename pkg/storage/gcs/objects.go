package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Object describes an uploaded object.
type Object struct {
	Bucket      string
	Name        string
	ContentType string
	Size        int64
	PublicURL   string
}

// ObjectStore is the storage surface the profile service needs.
type ObjectStore interface {
	Upload(ctx context.Context, object, contentType string, body io.Reader) (*Object, error)
	DeleteObject(ctx context.Context, bucket, object string) error
}

// Upload streams body into the default bucket with a simple media upload.
func (c *Client) Upload(ctx context.Context, object, contentType string, body io.Reader) (*Object, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	object = strings.TrimLeft(strings.TrimSpace(object), "/")
	if object == "" {
		return nil, errors.New("object name is required")
	}
	if strings.TrimSpace(contentType) == "" {
		return nil, errors.New("content type is required")
	}

	u := fmt.Sprintf("%s/b/%s/o?uploadType=media&name=%s",
		c.upload(), url.PathEscape(c.defaultBucket), url.QueryEscape(object))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", object, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("gcs upload failed", resp)
	}

	var meta struct {
		Name        string `json:"name"`
		Bucket      string `json:"bucket"`
		ContentType string `json:"contentType"`
		Size        int64  `json:"size,string"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decoding upload response: %w", err)
	}
	if meta.Name == "" {
		meta.Name = object
	}
	if meta.Bucket == "" {
		meta.Bucket = c.defaultBucket
	}
	return &Object{
		Bucket:      meta.Bucket,
		Name:        meta.Name,
		ContentType: meta.ContentType,
		Size:        meta.Size,
		PublicURL:   c.PublicURL(meta.Bucket, meta.Name),
	}, nil
}

// DeleteObject removes an object. Missing objects are not an error.
func (c *Client) DeleteObject(ctx context.Context, bucket, object string) error {
	if c == nil || c.tokens == nil || c.httpClient == nil {
		return errors.New("gcs client not initialized")
	}
	if bucket == "" {
		bucket = c.defaultBucket
	}
	if bucket == "" || strings.TrimSpace(object) == "" {
		return errors.New("bucket and object are required")
	}

	u := fmt.Sprintf("%s/b/%s/o/%s", c.api(), url.PathEscape(bucket), url.PathEscape(object))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return statusError("gcs delete failed", resp)
	}
}

// PublicURL returns the browser-facing URL for an object.
func (c *Client) PublicURL(bucket, object string) string {
	base := defaultPublicBase
	if c != nil && c.publicBase != "" {
		base = c.publicBase
	}
	segments := strings.Split(strings.TrimLeft(object, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/%s/%s", base, url.PathEscape(bucket), strings.Join(segments, "/"))
}

func (c *Client) api() string {
	if c.apiBase == "" {
		return defaultAPIBase
	}
	return c.apiBase
}

func (c *Client) upload() string {
	if c.uploadBase == "" {
		return defaultUploadBase
	}
	return c.uploadBase
}
