// Package webdav implements the remote directory client against a
// WebDAV-compatible surface: PROPFIND for listings, GET/PUT for content,
// DELETE, MOVE and MKCOL for tree manipulation.
package webdav

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"davsync/internal/domain"
	"davsync/internal/pkg/retry"
)

const propfindBody = `<?xml version="1.0" encoding="UTF-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:displayname/>
    <d:getcontentlength/>
    <d:getlastmodified/>
    <d:getetag/>
    <d:getcontenttype/>
    <d:resourcetype/>
  </d:prop>
</d:propfind>`

// TokenSource supplies the bearer token before each call. Refresh-on-401
// is the token source's responsibility, invoked transparently here.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Client talks to one WebDAV endpoint. Item ids are server-relative paths
// under the base URL.
type Client struct {
	http    *http.Client
	baseURL string // e.g. https://host/dav/files/alice, no trailing slash
	tokens  TokenSource
	retry   *retry.Policy
	log     *zap.Logger
}

// New creates a client for serverURL/dav/files/username.
func New(serverURL, username string, tokens TokenSource, policy *retry.Policy, log *zap.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: fmt.Sprintf("%s/dav/files/%s", strings.TrimRight(serverURL, "/"), username),
		tokens:  tokens,
		retry:   policy,
		log:     log,
	}
}

func (c *Client) do(ctx context.Context, method, itemPath string, headers map[string]string, body []byte) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+escapePath(itemPath), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &domain.HTTPError{Status: resp.StatusCode, Method: method, Path: itemPath}
	}
	return resp, nil
}

// List returns the direct children of the folder at path.
func (c *Client) List(ctx context.Context, dirPath string) ([]domain.RemoteEntry, error) {
	var entries []domain.RemoteEntry
	op := func() error {
		resp, err := c.do(ctx, "PROPFIND", dirPath, map[string]string{
			"Depth":        "1",
			"Content-Type": "application/xml",
		}, []byte(propfindBody))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		entries, err = c.parseMultistatus(raw, dirPath)
		return err
	}
	if err := c.retry.Do(ctx, "PROPFIND "+dirPath, op); err != nil {
		return nil, err
	}
	return entries, nil
}

// Download fetches the full content of the item.
func (c *Client) Download(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	op := func() error {
		resp, err := c.do(ctx, http.MethodGet, id, nil, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		return err
	}
	if err := c.retry.Do(ctx, "GET "+id, op); err != nil {
		return nil, err
	}
	return data, nil
}

// Upload writes data as parentPath/name and returns the resulting entry.
func (c *Client) Upload(ctx context.Context, parentPath, name string, data []byte) (domain.RemoteEntry, error) {
	id := path.Join("/", parentPath, name)
	var etag string
	op := func() error {
		resp, err := c.do(ctx, http.MethodPut, id, map[string]string{
			"Content-Type": "application/octet-stream",
		}, data)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		etag = strings.Trim(resp.Header.Get("ETag"), `"`)
		return nil
	}
	if err := c.retry.Do(ctx, "PUT "+id, op); err != nil {
		return domain.RemoteEntry{}, err
	}
	return domain.RemoteEntry{
		ID:       id,
		Path:     id,
		Name:     name,
		Size:     int64(len(data)),
		Modified: time.Now().UTC(),
		ETag:     etag,
	}, nil
}

// Delete removes the item. A 404 means the item is already gone and is
// treated as success so re-applied deletes stay idempotent.
func (c *Client) Delete(ctx context.Context, id string) error {
	op := func() error {
		resp, err := c.do(ctx, http.MethodDelete, id, nil, nil)
		if err != nil {
			var he *domain.HTTPError
			if errors.As(err, &he) && he.Status == http.StatusNotFound {
				return nil
			}
			return err
		}
		resp.Body.Close()
		return nil
	}
	return c.retry.Do(ctx, "DELETE "+id, op)
}

// Move relocates the item under newParentPath, keeping its name.
func (c *Client) Move(ctx context.Context, id, newParentPath string) error {
	dest := path.Join("/", newParentPath, path.Base(id))
	return c.move(ctx, id, dest)
}

// Rename changes the item's name in place.
func (c *Client) Rename(ctx context.Context, id, newName string) error {
	dest := path.Join(path.Dir(id), newName)
	return c.move(ctx, id, dest)
}

func (c *Client) move(ctx context.Context, id, dest string) error {
	op := func() error {
		resp, err := c.do(ctx, "MOVE", id, map[string]string{
			"Destination": c.baseURL + escapePath(dest),
			"Overwrite":   "T",
		}, nil)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
	return c.retry.Do(ctx, "MOVE "+id, op)
}

// Mkdir creates a folder. An already-existing folder (405) is a no-op.
func (c *Client) Mkdir(ctx context.Context, dirPath string) error {
	op := func() error {
		resp, err := c.do(ctx, "MKCOL", dirPath, nil, nil)
		if err != nil {
			var he *domain.HTTPError
			if errors.As(err, &he) && he.Status == http.StatusMethodNotAllowed {
				return nil
			}
			return err
		}
		resp.Body.Close()
		return nil
	}
	return c.retry.Do(ctx, "MKCOL "+dirPath, op)
}

type multistatus struct {
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href     string `xml:"href"`
	Propstat struct {
		Prop struct {
			DisplayName   string `xml:"displayname"`
			ContentLength int64  `xml:"getcontentlength"`
			LastModified  string `xml:"getlastmodified"`
			ETag          string `xml:"getetag"`
			ContentType   string `xml:"getcontenttype"`
			ResourceType  struct {
				Collection *struct{} `xml:"collection"`
			} `xml:"resourcetype"`
		} `xml:"prop"`
	} `xml:"propstat"`
}

// parseMultistatus maps a 207 body onto entries, skipping the folder's own
// response element.
func (c *Client) parseMultistatus(raw []byte, dirPath string) ([]domain.RemoteEntry, error) {
	var ms multistatus
	if err := xml.Unmarshal(raw, &ms); err != nil {
		return nil, fmt.Errorf("failed to parse multistatus: %w", err)
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	self := path.Join("/", dirPath)

	var entries []domain.RemoteEntry
	for _, r := range ms.Responses {
		href, err := url.PathUnescape(r.Href)
		if err != nil {
			c.log.Warn("skipping entry with bad href", zap.String("href", r.Href))
			continue
		}
		itemPath := path.Clean("/" + strings.TrimPrefix(href, base.Path))
		if itemPath == self {
			continue
		}

		prop := r.Propstat.Prop
		entry := domain.RemoteEntry{
			ID:       itemPath,
			Path:     itemPath,
			Name:     prop.DisplayName,
			IsFolder: prop.ResourceType.Collection != nil,
			Size:     prop.ContentLength,
			ETag:     strings.Trim(prop.ETag, `"`),
			MimeType: prop.ContentType,
		}
		if entry.Name == "" {
			entry.Name = path.Base(itemPath)
		}
		if prop.LastModified != "" {
			if t, err := time.Parse(time.RFC1123, prop.LastModified); err == nil {
				entry.Modified = t.UTC()
			} else if t, err := time.Parse(time.RFC1123Z, prop.LastModified); err == nil {
				entry.Modified = t.UTC()
			}
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func escapePath(p string) string {
	p = path.Join("/", p)
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
