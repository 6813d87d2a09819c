package loader

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/annel0/slime-worlds/internal/config"
	"github.com/annel0/slime-worlds/internal/logging"
	"github.com/annel0/slime-worlds/internal/slime"
)

// Header names shared with the world API server.
const (
	HeaderUser   = "X-Slime-User"
	ContentWorld = "application/octet-stream"
)

// ListResponse is the body of GET /worlds.
type ListResponse struct {
	Worlds []string `json:"worlds"`
}

// APILoader talks to a remote world API over HTTP:
//
//	HEAD   /worlds/{name}  exists
//	GET    /worlds         list
//	GET    /worlds/{name}  read
//	PUT    /worlds/{name}  write
//	DELETE /worlds/{name}  delete
type APILoader struct {
	client *http.Client
	base   string
	user   string
	token  string
}

// NewAPILoader builds the HTTP client. No request is made until the first operation.
func NewAPILoader(cfg config.APIConfig) (*APILoader, error) {
	if _, err := url.Parse(cfg.BaseURI); err != nil {
		return nil, fmt.Errorf("loader: api base uri: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.SkipTLSVerify {
		logging.GetLoaderLogger().Warn("⚠️ TLS certificate verification is disabled for %s", cfg.BaseURI)
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // явно включается в конфиге
	}

	return NewAPILoaderWithClient(cfg, &http.Client{Transport: transport, Timeout: timeout}), nil
}

// NewAPILoaderWithClient uses the given client as is (httptest servers in tests).
func NewAPILoaderWithClient(cfg config.APIConfig, client *http.Client) *APILoader {
	return &APILoader{
		client: client,
		base:   cfg.BaseURI,
		user:   cfg.Username,
		token:  cfg.Token,
	}
}

// BaseURI - адрес удалённого API
func (a *APILoader) BaseURI() string { return a.base }

func (a *APILoader) do(ctx context.Context, method string, body []byte, elem ...string) (*http.Response, error) {
	target, err := url.JoinPath(a.base, elem...)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if a.user != "" {
		req.Header.Set(HeaderUser, a.user)
	}
	if body != nil {
		req.Header.Set("Content-Type", ContentWorld)
	}
	return a.client.Do(req)
}

func statusErr(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("unexpected status %s: %s", resp.Status, bytes.TrimSpace(msg))
}

func (a *APILoader) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	resp, err := a.do(ctx, http.MethodHead, nil, "worlds", name)
	if err != nil {
		return false, ioErr("exists", name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, ioErr("exists", name, statusErr(resp))
}

func (a *APILoader) List(ctx context.Context) ([]string, error) {
	resp, err := a.do(ctx, http.MethodGet, nil, "worlds")
	if err != nil {
		return nil, ioErr("list", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ioErr("list", "", statusErr(resp))
	}
	var body ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, ioErr("list", "", err)
	}
	return body.Worlds, nil
}

func (a *APILoader) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	resp, err := a.do(ctx, http.MethodGet, nil, "worlds", name)
	if err != nil {
		return nil, ioErr("read", name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, notFound(name)
	case http.StatusUnprocessableEntity:
		// сервер не смог прочитать собственную копию мира
		return nil, fmt.Errorf("%w: %v", slime.ErrCorruptedWorld, statusErr(resp))
	default:
		return nil, ioErr("read", name, statusErr(resp))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ioErr("read", name, err)
	}
	return data, nil
}

// Write sends the whole world in one PUT; the server stores it through its own atomic loader.
func (a *APILoader) Write(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	resp, err := a.do(ctx, http.MethodPut, data, "worlds", name)
	if err != nil {
		return ioErr("write", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return ioErr("write", name, statusErr(resp))
	}
	return nil
}

func (a *APILoader) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	resp, err := a.do(ctx, http.MethodDelete, nil, "worlds", name)
	if err != nil {
		return ioErr("delete", name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return notFound(name)
	}
	return ioErr("delete", name, statusErr(resp))
}

func (a *APILoader) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
