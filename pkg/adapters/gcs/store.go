// Package gcs keeps note files as objects in a Google Cloud Storage bucket.
// Object generations act as revisions.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/aretw0/tilvault/pkg/adapters/remote"
)

// Config describes the bucket.
type Config struct {
	Bucket    string
	Prefix    string
	ProjectID string
	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string
	// Endpoint targets an emulator; authentication is skipped.
	Endpoint string
	// AutoCreate creates a missing bucket in ProjectID on Initialize.
	AutoCreate bool
	PageSize   int
	Logger     *slog.Logger
}

// object is a listed object.
type object struct {
	Name       string
	Generation int64
}

// objectAPI is what the store needs from a bucket. It is implemented over
// *storage.Client below and faked in tests.
type objectAPI interface {
	Read(ctx context.Context, name string) ([]byte, int64, error)
	// Write stores data if the object is at generation, or absent when
	// generation is 0.
	Write(ctx context.Context, name string, data []byte, generation int64, metadata map[string]string) (int64, error)
	Delete(ctx context.Context, name string, generation int64) error
	List(ctx context.Context, prefix, token string, pageSize int) ([]object, string, error)
	BucketExists(ctx context.Context) (bool, error)
	CreateBucket(ctx context.Context, projectID string) error
	Close() error
}

// Store implements remote.FileStore on a GCS bucket.
type Store struct {
	api    objectAPI
	config Config
	logger *slog.Logger
}

var (
	_ remote.FileStore   = (*Store)(nil)
	_ remote.Initializer = (*Store)(nil)
	_ remote.Closer      = (*Store)(nil)
)

// New connects to GCS. The client's own retries are disabled; the backend
// retries rate-limited and transient failures itself.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	client.SetRetry(storage.WithPolicy(storage.RetryNever))

	return newStore(&bucketAPI{client: client, bucket: client.Bucket(cfg.Bucket)}, cfg), nil
}

func newStore(api objectAPI, cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Store{api: api, config: cfg, logger: logger.With("bucket", cfg.Bucket)}
}

func (s *Store) name(p string) string {
	if s.config.Prefix == "" {
		return p
	}
	return s.config.Prefix + "/" + p
}

func (s *Store) relative(name string) string {
	if s.config.Prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, s.config.Prefix+"/")
}

func revision(gen int64) string {
	return strconv.FormatInt(gen, 10)
}

func generation(p, rev string) (int64, error) {
	gen, err := strconv.ParseInt(rev, 10, 64)
	if err != nil || gen <= 0 {
		// Not a revision this store issued, so it cannot be current.
		return 0, fmt.Errorf("%w: %s at foreign revision %q", remote.ErrRevisionMismatch, p, rev)
	}
	return gen, nil
}

// Fetch implements remote.FileStore.
func (s *Store) Fetch(ctx context.Context, p string) (remote.File, error) {
	data, gen, err := s.api.Read(ctx, s.name(p))
	if err != nil {
		return remote.File{}, translate(err, p, false)
	}
	return remote.File{Path: p, Content: data, Revision: revision(gen)}, nil
}

// Put implements remote.FileStore.
func (s *Store) Put(ctx context.Context, p string, content []byte, rev, message string) (string, error) {
	var gen int64
	if rev != "" {
		var err error
		if gen, err = generation(p, rev); err != nil {
			return "", err
		}
	}
	newGen, err := s.api.Write(ctx, s.name(p), content, gen, map[string]string{"change": message})
	if err != nil {
		return "", translate(err, p, rev == "")
	}
	return revision(newGen), nil
}

// Remove implements remote.FileStore.
func (s *Store) Remove(ctx context.Context, p, rev, message string) error {
	var gen int64
	if rev != "" {
		var err error
		if gen, err = generation(p, rev); err != nil {
			return err
		}
	}
	if err := s.api.Delete(ctx, s.name(p), gen); err != nil {
		return translate(err, p, false)
	}
	s.logger.Debug("object removed", "object", s.name(p), "change", message)
	return nil
}

// List implements remote.FileStore. The cursor is the GCS page token.
func (s *Store) List(ctx context.Context, dir, cursor string) (remote.Page, error) {
	objects, next, err := s.api.List(ctx, s.name(dir)+"/", cursor, s.config.PageSize)
	if err != nil {
		return remote.Page{}, translate(err, dir, false)
	}
	page := remote.Page{Next: next}
	for _, o := range objects {
		p := s.relative(o.Name)
		if o.Name == "" || strings.HasPrefix(path.Base(p), ".") {
			continue
		}
		page.Entries = append(page.Entries, remote.Entry{Path: p, Revision: revision(o.Generation)})
	}
	return page, nil
}

// Initialize checks the bucket, creating it when allowed.
func (s *Store) Initialize(ctx context.Context, dir string) error {
	ok, err := s.api.BucketExists(ctx)
	if err != nil {
		return translate(err, s.config.Bucket, false)
	}
	if ok {
		return nil
	}
	if !s.config.AutoCreate || s.config.ProjectID == "" {
		return fmt.Errorf("%w: bucket %s does not exist", remote.ErrFileNotFound, s.config.Bucket)
	}
	s.logger.Info("creating bucket", "project", s.config.ProjectID)
	if err := s.api.CreateBucket(ctx, s.config.ProjectID); err != nil {
		return translate(err, s.config.Bucket, false)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.api.Close()
}

// translate maps GCS errors onto the remote signals. A failed
// precondition means "exists" for a create and "changed" otherwise.
func translate(err error, p string, create bool) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %s", remote.ErrFileNotFound, p)
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch code := apiErr.Code; {
	case code == http.StatusPreconditionFailed && create:
		return fmt.Errorf("%w: %s", remote.ErrFileExists, p)
	case code == http.StatusPreconditionFailed, code == http.StatusConflict:
		return fmt.Errorf("%w: %s", remote.ErrRevisionMismatch, p)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", remote.ErrFileNotFound, p)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", remote.ErrRateLimited, err)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: %w", remote.ErrUnauthorized, err)
	case code >= 500:
		return fmt.Errorf("%w: %w", remote.ErrTransient, err)
	}
	return err
}

// bucketAPI implements objectAPI with the GCS client.
type bucketAPI struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

func (b *bucketAPI) Read(ctx context.Context, name string) ([]byte, int64, error) {
	r, err := b.bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read %s: %w", remote.ErrTransient, name, err)
	}
	return data, r.Attrs.Generation, nil
}

func (b *bucketAPI) Write(ctx context.Context, name string, data []byte, gen int64, metadata map[string]string) (int64, error) {
	cond := storage.Conditions{DoesNotExist: true}
	if gen != 0 {
		cond = storage.Conditions{GenerationMatch: gen}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := b.bucket.Object(name).If(cond).NewWriter(ctx)
	w.ContentType = "text/markdown; charset=utf-8"
	w.Metadata = metadata
	if _, err := w.Write(data); err != nil {
		// Cancelling before Close aborts the upload.
		cancel()
		_ = w.Close()
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return w.Attrs().Generation, nil
}

func (b *bucketAPI) Delete(ctx context.Context, name string, gen int64) error {
	obj := b.bucket.Object(name)
	if gen != 0 {
		obj = obj.If(storage.Conditions{GenerationMatch: gen})
	}
	return obj.Delete(ctx)
}

func (b *bucketAPI) List(ctx context.Context, prefix, token string, pageSize int) ([]object, string, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	var attrs []*storage.ObjectAttrs
	next, err := iterator.NewPager(it, pageSize, token).NextPage(&attrs)
	if err != nil {
		return nil, "", err
	}
	out := make([]object, 0, len(attrs))
	for _, a := range attrs {
		// Synthetic "directory" entries carry only a Prefix.
		if a.Name == "" {
			continue
		}
		out = append(out, object{Name: a.Name, Generation: a.Generation})
	}
	return out, next, nil
}

func (b *bucketAPI) BucketExists(ctx context.Context) (bool, error) {
	_, err := b.bucket.Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (b *bucketAPI) CreateBucket(ctx context.Context, projectID string) error {
	return b.bucket.Create(ctx, projectID, nil)
}

func (b *bucketAPI) Close() error {
	return b.client.Close()
}
