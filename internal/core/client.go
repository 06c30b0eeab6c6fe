package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// SendResult is the server's answer to an upload.
type SendResult struct {
	Success      bool     `json:"success"`
	DownloadLink string   `json:"download_link"`
	PickupCode   string   `json:"pickup_code"`
	Filename     string   `json:"filename"`
	Kind         string   `json:"kind"`
	Size         int64    `json:"size"`
	Checksum     string   `json:"checksum"`
	Files        []string `json:"files"`
	Message      string   `json:"message"`
}

// ServerError is a non-success response from the relay.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// ErrNoFilename is returned when a download carries no usable file name.
var ErrNoFilename = errors.New("download has no file name")

// Client talks to a relay server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL. A nil httpClient
// uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Send uploads files as one transfer.
func (c *Client) Send(ctx context.Context, payload *Payload) (*SendResult, error) {
	body := payload.Reader()
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", payload.ContentType())
	req.ContentLength = payload.ContentLength()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	var result SendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ServerError{Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK || !result.Success {
		return nil, &ServerError{Status: resp.StatusCode, Message: result.Message}
	}
	return &result, nil
}

// Resolve returns the download link a pickup code was issued for.
func (c *Client) Resolve(ctx context.Context, code string) (string, error) {
	form := url.Values{"pickup_code": {code}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/download/pickup", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	noRedirect := *c.http
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		return "", fmt.Errorf("pickup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusFound {
		loc, err := resp.Location()
		if err != nil {
			return "", fmt.Errorf("pickup failed: %w", err)
		}
		return loc.String(), nil
	}
	return "", decodeFailure(resp)
}

// Download fetches link into dir and returns the written path.
func (c *Client) Download(ctx context.Context, link, dir string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, decodeFailure(resp)
	}

	name := downloadName(resp)
	if name == "" {
		return "", 0, ErrNoFilename
	}

	tmp, err := os.CreateTemp(dir, ".relay-*")
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("download failed: %w", err)
	}

	dest := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", 0, err
	}
	return dest, n, nil
}

// downloadName picks the file name from Content-Disposition, falling back
// to the last path segment. Only the base name is kept.
func downloadName(resp *http.Response) string {
	name := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	if name == "" && resp.Request != nil {
		name = path.Base(resp.Request.URL.Path)
	}
	name = filepath.Base(filepath.FromSlash(name))
	switch name {
	case ".", "..", string(filepath.Separator):
		return ""
	}
	return name
}

// decodeFailure turns an error response into a ServerError. JSON bodies
// carry a message; plain text bodies are used as is.
func decodeFailure(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return &ServerError{Status: resp.StatusCode, Message: body.Message}
	}
	return &ServerError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}
