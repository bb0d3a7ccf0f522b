// Package remote mirrors ledger data to a GitHub repository through the
// contents API. The remote side is best effort: failures are reported to the
// caller for logging and counting, never propagated into local writes.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrConflict means the file changed under us; re-read and retry with the
// fresh version token.
var ErrConflict = errors.New("remote version conflict")

// FileInfo describes a directory entry.
type FileInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Client talks to the GitHub contents API for a single repository.
type Client struct {
	BaseURL string
	Owner   string
	Repo    string
	Branch  string
	Token   string
	HTTP    *http.Client
}

// New creates a client for owner/repo on branch.
func New(owner, repo, branch, token string) *Client {
	if branch == "" {
		branch = "main"
	}
	return &Client{
		BaseURL: "https://api.github.com",
		Owner:   owner,
		Repo:    repo,
		Branch:  branch,
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.BaseURL, c.Owner, c.Repo, path)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return c.HTTP.Do(req)
}

// GetFile fetches a file's content and version token (blob sha). found is
// false when the file does not exist yet.
func (c *Client) GetFile(ctx context.Context, path string) (content []byte, sha string, found bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentsURL(path)+"?ref="+c.Branch, nil)
	if err != nil {
		return nil, "", false, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", false, fmt.Errorf("get %s: status %d", path, resp.StatusCode)
	}

	var body struct {
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", false, fmt.Errorf("get %s: decode: %w", path, err)
	}
	raw, err := base64.StdEncoding.DecodeString(stripNewlines(body.Content))
	if err != nil {
		return nil, "", false, fmt.Errorf("get %s: content: %w", path, err)
	}
	return raw, body.SHA, true, nil
}

// PutFile creates or updates a file. expectedSHA must be the token from the
// last GetFile (empty for a new file); a stale token yields ErrConflict.
func (c *Client) PutFile(ctx context.Context, path string, content []byte, message, expectedSHA string) (string, error) {
	payload := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  c.Branch,
	}
	if expectedSHA != "" {
		payload["sha"] = expectedSHA
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.contentsURL(path), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusUnprocessableEntity:
		io.Copy(io.Discard, resp.Body)
		return "", ErrConflict
	default:
		return "", fmt.Errorf("put %s: status %d", path, resp.StatusCode)
	}

	var result struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("put %s: decode: %w", path, err)
	}
	return result.Content.SHA, nil
}

// ListFiles returns the entries of a directory, or nil when it is absent.
func (c *Client) ListFiles(ctx context.Context, dir string) ([]FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentsURL(dir)+"?ref="+c.Branch, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list %s: status %d", dir, resp.StatusCode)
	}
	var files []FileInfo
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("list %s: decode: %w", dir, err)
	}
	return files, nil
}

func stripNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' && s[i] != '\r' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
