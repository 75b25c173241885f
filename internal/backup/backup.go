// Package backup takes encrypted snapshots of a tenant's household data and
// stores them in S3-compatible object storage.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/chorechart/internal/docstore"
	"github.com/dukerupert/chorechart/internal/ledger"
	"github.com/dukerupert/chorechart/internal/model"
)

// ErrDisabled is returned when S3 or the passphrase is not configured.
var ErrDisabled = errors.New("backup not configured")

const (
	snapshotVersion = 1
	keyTimeLayout   = "2006-01-02T150405Z"
	keyPrefix       = "snapshot-"
	keySuffix       = ".json.enc"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type Config struct {
	S3         S3Config
	Passphrase string
	Tenant     string
}

func (c Config) enabled() bool {
	return c.S3.Bucket != "" && c.S3.AccessKey != "" && c.S3.SecretKey != "" && c.Passphrase != ""
}

// Snapshot is the plaintext content of one backup.
type Snapshot struct {
	Version   int            `json:"version"`
	Tenant    string         `json:"tenant"`
	CreatedAt time.Time      `json:"createdAt"`
	Config    model.Document `json:"config"`
	State     model.Document `json:"state"`
	Ledgers   []model.Ledger `json:"ledgers"`
}

// Object is a stored snapshot.
type Object struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Manager creates, lists, restores and prunes snapshots of one tenant.
type Manager struct {
	cfg    Config
	client s3Client
	config docstore.Store
	state  docstore.Store
	repo   ledger.Repository
	now    func() time.Time
	logger *slog.Logger
}

func NewManager(cfg Config, config, state docstore.Store, repo ledger.Repository, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		config: config,
		state:  state,
		repo:   repo,
		now:    time.Now,
		logger: logger.With("component", "backup"),
	}
	if cfg.enabled() {
		m.client = newS3Client(cfg.S3)
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func (m *Manager) Enabled() bool {
	return m.client != nil
}

func (m *Manager) prefix() string {
	return m.cfg.Tenant + "/" + keyPrefix
}

// Create snapshots config, state and every configured user's ledger.
func (m *Manager) Create(ctx context.Context) (Object, error) {
	if m.client == nil {
		return Object{}, ErrDisabled
	}

	snap, err := m.collect(ctx)
	if err != nil {
		return Object{}, err
	}
	plaintext, err := json.Marshal(snap)
	if err != nil {
		return Object{}, fmt.Errorf("encode snapshot: %w", err)
	}
	data, err := Encrypt(plaintext, m.cfg.Passphrase)
	if err != nil {
		return Object{}, fmt.Errorf("encrypt: %w", err)
	}

	key := m.prefix() + snap.CreatedAt.Format(keyTimeLayout) + keySuffix
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return Object{}, fmt.Errorf("upload to s3: %w", err)
	}

	m.logger.Info("snapshot uploaded", "key", key, "bytes", len(data), "ledgers", len(snap.Ledgers))
	return Object{Key: key, Size: int64(len(data)), CreatedAt: snap.CreatedAt}, nil
}

func (m *Manager) collect(ctx context.Context) (*Snapshot, error) {
	cfgDoc, err := m.config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	taskCfg, err := docstore.DecodeTaskConfig(cfgDoc)
	if err != nil {
		return nil, err
	}
	stateDoc, err := m.state.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	snap := &Snapshot{
		Version:   snapshotVersion,
		Tenant:    m.cfg.Tenant,
		CreatedAt: m.now().UTC().Truncate(time.Second),
		Config:    cfgDoc,
		State:     stateDoc,
		Ledgers:   []model.Ledger{},
	}
	for _, userID := range taskCfg.UserIDs() {
		l, err := m.repo.Export(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("export ledger %s: %w", userID, err)
		}
		snap.Ledgers = append(snap.Ledgers, *l)
	}
	return snap, nil
}

// List returns the tenant's snapshots, newest first.
func (m *Manager) List(ctx context.Context) ([]Object, error) {
	if m.client == nil {
		return nil, ErrDisabled
	}

	var objects []Object
	p := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Prefix: aws.String(m.prefix()),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			created, ok := m.keyTime(key)
			if !ok {
				continue
			}
			objects = append(objects, Object{Key: key, Size: aws.ToInt64(obj.Size), CreatedAt: created})
		}
	}

	slices.SortFunc(objects, func(a, b Object) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return objects, nil
}

func (m *Manager) keyTime(key string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(key, m.prefix())
	if !ok {
		return time.Time{}, false
	}
	stamp, ok := strings.CutSuffix(rest, keySuffix)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(keyTimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Restore downloads and decrypts key, then overwrites config, state and
// each ledger in the snapshot.
func (m *Manager) Restore(ctx context.Context, key string) (*Snapshot, error) {
	if m.client == nil {
		return nil, ErrDisabled
	}
	if _, ok := m.keyTime(key); !ok {
		return nil, fmt.Errorf("%q is not a snapshot of tenant %q", key, m.cfg.Tenant)
	}

	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	plaintext, err := Decrypt(data, m.cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(plaintext, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	if snap.Config != nil && !m.config.Save(ctx, snap.Config) {
		return nil, fmt.Errorf("restore config: %w", docstore.ErrSaveFailed)
	}
	if snap.State != nil && !m.state.Save(ctx, snap.State) {
		return nil, fmt.Errorf("restore state: %w", docstore.ErrSaveFailed)
	}
	for _, l := range snap.Ledgers {
		if err := m.repo.Import(ctx, l); err != nil {
			return nil, fmt.Errorf("restore ledger %s: %w", l.Account.UserID, err)
		}
	}

	m.logger.Info("snapshot restored", "key", key, "ledgers", len(snap.Ledgers))
	return &snap, nil
}

// Cleanup deletes snapshots older than retentionDays and returns how many
// were removed. Failed deletes are logged and skipped.
func (m *Manager) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	if m.client == nil || retentionDays <= 0 {
		return 0, nil
	}
	objects, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	before := m.now().UTC().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, obj := range objects {
		if !obj.CreatedAt.Before(before) {
			continue
		}
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(obj.Key),
		}); err != nil {
			m.logger.Warn("delete snapshot failed", "key", obj.Key, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		m.logger.Info("old snapshots removed", "count", deleted, "retention_days", retentionDays)
	}
	return deleted, nil
}
