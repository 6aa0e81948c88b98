// Package github stores note files in a GitHub repository through the REST
// contents API. Blob shas serve as revisions, so GitHub itself rejects
// writes based on a stale read.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/aretw0/tilvault/pkg/adapters/remote"
	"github.com/aretw0/tilvault/pkg/git"
)

const (
	// DefaultBaseURL is the public GitHub API.
	DefaultBaseURL = "https://api.github.com"

	apiVersion = "2022-11-28"
)

// Config describes the repository holding the notes.
type Config struct {
	// Repo is "owner/name".
	Repo  string
	Token string
	// Branch to read and write. Empty means the repository default.
	Branch string
	// BaseURL overrides the API root (GitHub Enterprise, tests).
	BaseURL string
	// AutoCreate creates a missing repository on Initialize.
	AutoCreate bool
	// Private applies to repositories created by AutoCreate.
	Private bool
	// RequestsPerSecond paces outgoing calls. Zero means 10.
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Store implements remote.FileStore on a GitHub repository.
type Store struct {
	config  Config
	baseURL string
	owner   string
	name    string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var (
	_ remote.FileStore   = (*Store)(nil)
	_ remote.Initializer = (*Store)(nil)
)

// New validates config and creates a store.
func New(config Config) (*Store, error) {
	owner, name, ok := strings.Cut(config.Repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("github repository must be owner/name, got %q", config.Repo)
	}
	if config.Token == "" {
		return nil, fmt.Errorf("%w: no GitHub token", remote.ErrUnauthorized)
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Store{
		config:  config,
		baseURL: baseURL,
		owner:   owner,
		name:    name,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger:  logger.With("repo", config.Repo),
	}, nil
}

// contentItem is an entry of the contents API.
type contentItem struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// writeRequest is the body of a contents PUT or DELETE. PUT always carries
// content, even an empty one; DELETE leaves it nil.
type writeRequest struct {
	Message string  `json:"message"`
	Content *string `json:"content,omitempty"`
	SHA     string  `json:"sha,omitempty"`
	Branch  string  `json:"branch,omitempty"`
}

type writeResponse struct {
	Content contentItem `json:"content"`
}

type apiError struct {
	Message string `json:"message"`
}

// Fetch implements remote.FileStore.
func (s *Store) Fetch(ctx context.Context, p string) (remote.File, error) {
	var item contentItem
	if err := s.do(ctx, http.MethodGet, s.contentsURL(p, true), nil, &item); err != nil {
		return remote.File{}, err
	}
	if item.Type != "file" {
		return remote.File{}, fmt.Errorf("%w: %s is a %s", remote.ErrFileNotFound, p, item.Type)
	}
	if item.Encoding != "" && item.Encoding != "base64" {
		return remote.File{}, fmt.Errorf("unsupported content encoding %q for %s", item.Encoding, p)
	}
	content, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(item.Content, "\n", ""))
	if err != nil {
		return remote.File{}, fmt.Errorf("decode %s: %w", p, err)
	}
	return remote.File{Path: p, Content: content, Revision: item.SHA}, nil
}

// Put implements remote.FileStore. GitHub answers 422 when a create targets
// an existing path and 409 when the sha is stale. A create that races
// another writer may also get 409; without a sha that means the path exists.
func (s *Store) Put(ctx context.Context, p string, content []byte, revision, message string) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(content)
	req := writeRequest{
		Message: message,
		Content: &encoded,
		SHA:     revision,
		Branch:  s.config.Branch,
	}
	var resp writeResponse
	err := s.do(ctx, http.MethodPut, s.contentsURL(p, false), req, &resp)
	if revision == "" && (errors.Is(err, errUnprocessable) || errors.Is(err, remote.ErrRevisionMismatch)) {
		return "", fmt.Errorf("%w: %s", remote.ErrFileExists, p)
	}
	if errors.Is(err, errUnprocessable) {
		return "", fmt.Errorf("%w: %s", remote.ErrRevisionMismatch, p)
	}
	if err != nil {
		return "", err
	}
	return resp.Content.SHA, nil
}

// Remove implements remote.FileStore.
func (s *Store) Remove(ctx context.Context, p, revision, message string) error {
	if revision == "" {
		f, err := s.Fetch(ctx, p)
		if err != nil {
			return err
		}
		revision = f.Revision
	}
	req := writeRequest{Message: message, SHA: revision, Branch: s.config.Branch}
	err := s.do(ctx, http.MethodDelete, s.contentsURL(p, false), req, nil)
	if errors.Is(err, errUnprocessable) {
		return fmt.Errorf("%w: %s", remote.ErrRevisionMismatch, p)
	}
	return err
}

// List implements remote.FileStore. The contents API returns a directory in
// one response, so there is a single page.
func (s *Store) List(ctx context.Context, dir, cursor string) (remote.Page, error) {
	var items []contentItem
	err := s.do(ctx, http.MethodGet, s.contentsURL(dir, true), nil, &items)
	if errors.Is(err, remote.ErrFileNotFound) {
		return remote.Page{}, nil
	}
	if err != nil {
		return remote.Page{}, err
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	var page remote.Page
	for _, item := range items {
		if item.Type != "file" || strings.HasPrefix(item.Name, ".") || item.Path <= cursor {
			continue
		}
		page.Entries = append(page.Entries, remote.Entry{Path: item.Path, Revision: item.SHA})
	}
	return page, nil
}

// Initialize makes sure the repository and the note directory exist.
func (s *Store) Initialize(ctx context.Context, dir string) error {
	err := s.do(ctx, http.MethodGet, s.repoURL(), nil, nil)
	switch {
	case errors.Is(err, remote.ErrFileNotFound) && s.config.AutoCreate:
		s.logger.Info("creating repository", "private", s.config.Private)
		if err := s.createRepo(ctx); err != nil {
			return err
		}
	case errors.Is(err, remote.ErrFileNotFound):
		return fmt.Errorf("%w: repository %s does not exist", remote.ErrFileNotFound, s.config.Repo)
	case err != nil:
		return err
	}

	var listing json.RawMessage
	err = s.do(ctx, http.MethodGet, s.contentsURL(dir, true), nil, &listing)
	if !errors.Is(err, remote.ErrFileNotFound) {
		return err
	}
	msg := git.FormatCommitMessage(git.CommitTypeChore, "notes", "initialize "+dir, "")
	_, err = s.Put(ctx, path.Join(dir, ".gitkeep"), nil, "", msg)
	if errors.Is(err, remote.ErrFileExists) {
		return nil
	}
	return err
}

func (s *Store) createRepo(ctx context.Context) error {
	body := map[string]any{
		"name":        s.name,
		"description": "TIL (Today I Learned) notes",
		"private":     s.config.Private,
		"auto_init":   true,
	}
	endpoint := s.baseURL + "/user/repos"
	if !strings.EqualFold(s.owner, s.authenticatedLogin(ctx)) {
		endpoint = s.baseURL + "/orgs/" + url.PathEscape(s.owner) + "/repos"
	}
	err := s.do(ctx, http.MethodPost, endpoint, body, nil)
	if errors.Is(err, errUnprocessable) {
		// Created concurrently.
		return nil
	}
	return err
}

func (s *Store) authenticatedLogin(ctx context.Context) string {
	var user struct {
		Login string `json:"login"`
	}
	if err := s.do(ctx, http.MethodGet, s.baseURL+"/user", nil, &user); err != nil {
		s.logger.Debug("could not resolve authenticated user", "error", err)
		return s.owner
	}
	return user.Login
}

func (s *Store) repoURL() string {
	return s.baseURL + "/repos/" + url.PathEscape(s.owner) + "/" + url.PathEscape(s.name)
}

func (s *Store) contentsURL(p string, read bool) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	u := s.repoURL() + "/contents/" + strings.Join(segments, "/")
	if read && s.config.Branch != "" {
		u += "?ref=" + url.QueryEscape(s.config.Branch)
	}
	return u
}

// errUnprocessable is a 422, whose meaning depends on the request.
var errUnprocessable = errors.New("unprocessable request")

func (s *Store) do(ctx context.Context, method, endpoint string, in, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.config.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %w", remote.ErrTransient, method, endpoint, err)
	}
	defer resp.Body.Close()

	s.logger.Debug("github api", "method", method, "url", endpoint, "status", resp.StatusCode)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
		return nil
	}
	return statusError(resp)
}

// statusError maps a failed response onto the remote signals.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var apiErr apiError
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	detail := fmt.Sprintf("github %d: %s", resp.StatusCode, msg)

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", remote.ErrRateLimited, detail)
	case code == http.StatusForbidden && (resp.Header.Get("X-RateLimit-Remaining") == "0" ||
		resp.Header.Get("Retry-After") != "" ||
		strings.Contains(strings.ToLower(msg), "rate limit")):
		return fmt.Errorf("%w: %s", remote.ErrRateLimited, detail)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", remote.ErrUnauthorized, detail)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", remote.ErrFileNotFound, detail)
	case code == http.StatusConflict, code == http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %s", remote.ErrRevisionMismatch, detail)
	case code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", errUnprocessable, detail)
	case code >= 500:
		return fmt.Errorf("%w: %s", remote.ErrTransient, detail)
	}
	return errors.New(detail)
}
