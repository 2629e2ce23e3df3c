package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/niczy/changerequest/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStorage implements the Storage interface on Redis. Every committed
// change request is also archived to the object store, which serves reads
// when the Redis key has been evicted.
type RedisStorage struct {
	rdb         redis.UniversalClient
	objectStore ObjectStore
	keyPrefix   string
	logger      *zap.Logger
}

// RedisOption configures a RedisStorage.
type RedisOption func(*RedisStorage)

// WithLogger sets the logger used for archive failures.
func WithLogger(logger *zap.Logger) RedisOption {
	return func(s *RedisStorage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedisStorage creates a Redis-backed storage implementation.
// objectStore may be nil to disable the durable archive.
func NewRedisStorage(rdb redis.UniversalClient, objectStore ObjectStore, keyPrefix string, opts ...RedisOption) *RedisStorage {
	s := &RedisStorage{rdb: rdb, objectStore: objectStore, keyPrefix: keyPrefix, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func ensureCtx(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func prefixedKey(prefix string, parts ...string) string {
	if prefix == "" {
		prefix = "changerequest"
	}
	return fmt.Sprintf("%s:%s", prefix, strings.Join(parts, ":"))
}

func (s *RedisStorage) key(parts ...string) string {
	return prefixedKey(s.keyPrefix, parts...)
}

func (s *RedisStorage) durableKey(id string) string {
	return s.key("durable", "change_request", id)
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshal[T any](raw string, target *T) error {
	return json.Unmarshal([]byte(raw), target)
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// current reads the committed change request, falling back to the archive.
func (s *RedisStorage) current(ctx context.Context, cmd getter, id string) (*models.ChangeRequest, error) {
	raw, err := cmd.Get(ctx, s.key("change_request", id)).Result()
	if err == nil {
		var cr models.ChangeRequest
		if err := unmarshal(raw, &cr); err != nil {
			return nil, err
		}
		return &cr, nil
	}
	if err != redis.Nil {
		return nil, err
	}

	if s.objectStore == nil {
		return nil, ErrChangeRequestNotFound
	}
	var archived models.ChangeRequest
	if err := getJSON(ctx, s.objectStore, s.durableKey(id), &archived); err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil, ErrChangeRequestNotFound
		}
		return nil, err
	}
	return &archived, nil
}

// commit writes next unless key changed after tx started watching it.
func (s *RedisStorage) commit(ctx context.Context, tx *redis.Tx, next *models.ChangeRequest) error {
	raw, err := marshal(next)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("change_request", next.ID), raw, 0)
		pipe.SAdd(ctx, s.key("change_requests"), next.ID)
		for _, ref := range next.TargetDocuments() {
			pipe.SAdd(ctx, s.key("targets", ref), next.ID)
		}
		for _, r := range next.Reviews {
			pipe.Set(ctx, s.key("review", r.ID), next.ID, 0)
		}
		return nil
	})
	return err
}

func (s *RedisStorage) archive(ctx context.Context, cr *models.ChangeRequest) {
	if s.objectStore == nil {
		return
	}
	// Redis is authoritative and the commit already happened, so a failed
	// archive write leaves an older copy behind for evicted keys.
	if err := putJSON(ctx, s.objectStore, s.durableKey(cr.ID), cr); err != nil {
		s.logger.Warn("failed to archive change request",
			zap.String("change_request_id", cr.ID),
			zap.Int64("version", cr.Version),
			zap.Error(err))
	}
}

// Load retrieves a change request by ID.
func (s *RedisStorage) Load(ctx context.Context, id string) (*models.ChangeRequest, error) {
	ctx = ensureCtx(ctx)
	return s.current(ctx, s.rdb, id)
}

// Save commits cr with an optimistic WATCH on its key.
func (s *RedisStorage) Save(ctx context.Context, cr *models.ChangeRequest) error {
	ctx = ensureCtx(ctx)
	if cr == nil || cr.ID == "" {
		return ErrInvalidInput
	}

	var next *models.ChangeRequest
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := s.current(ctx, tx, cr.ID)
		if err != nil && !errors.Is(err, ErrChangeRequestNotFound) {
			return err
		}
		var storedVersion int64
		if stored != nil {
			storedVersion = stored.Version
		}
		if storedVersion != cr.Version {
			return ErrStaleVersion
		}

		next = stamp(cr)
		return s.commit(ctx, tx, next)
	}, s.key("change_request", cr.ID))
	if err == redis.TxFailedErr {
		return ErrStaleVersion
	}
	if err != nil {
		return err
	}

	s.archive(ctx, next)
	*cr = *next.Clone()
	return nil
}

// SaveReview replaces a saved review and bumps its change request version.
func (s *RedisStorage) SaveReview(ctx context.Context, review *models.Review) error {
	ctx = ensureCtx(ctx)
	if review == nil || review.ID == "" {
		return ErrInvalidInput
	}

	var next *models.ChangeRequest
	var updated *models.Review
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := s.current(ctx, tx, review.ChangeRequestID)
		if err != nil {
			return err
		}
		next, updated, err = replaceReview(stored, review)
		if err != nil {
			return err
		}
		return s.commit(ctx, tx, next)
	}, s.key("change_request", review.ChangeRequestID))
	if err == redis.TxFailedErr {
		return ErrStaleVersion
	}
	if err != nil {
		return err
	}

	s.archive(ctx, next)
	*review = *updated
	return nil
}

// GetReview resolves the owning change request through the review index.
func (s *RedisStorage) GetReview(ctx context.Context, reviewID string) (*models.Review, error) {
	ctx = ensureCtx(ctx)
	crID, err := s.rdb.Get(ctx, s.key("review", reviewID)).Result()
	if err == redis.Nil {
		return nil, ErrReviewNotFound
	}
	if err != nil {
		return nil, err
	}

	cr, err := s.Load(ctx, crID)
	if err != nil {
		return nil, err
	}
	review, ok := findReview(cr, reviewID)
	if !ok {
		return nil, ErrReviewNotFound
	}
	return review, nil
}

func (s *RedisStorage) loadMembers(ctx context.Context, setKey string, keep func(*models.ChangeRequest) bool) ([]*models.ChangeRequest, error) {
	ids, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	result := []*models.ChangeRequest{}
	for _, id := range ids {
		cr, err := s.Load(ctx, id)
		if errors.Is(err, ErrChangeRequestNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if keep(cr) {
			result = append(result, cr)
		}
	}
	sortChangeRequests(result)
	return result, nil
}

// FindTargeting returns change requests with a file change on the document.
func (s *RedisStorage) FindTargeting(ctx context.Context, documentRef string) ([]*models.ChangeRequest, error) {
	ctx = ensureCtx(ctx)
	return s.loadMembers(ctx, s.key("targets", documentRef), func(cr *models.ChangeRequest) bool {
		return targets(cr, documentRef)
	})
}

// MatchingTitle scans every change request title.
func (s *RedisStorage) MatchingTitle(ctx context.Context, text string) ([]*models.ChangeRequest, error) {
	ctx = ensureCtx(ctx)
	return s.loadMembers(ctx, s.key("change_requests"), func(cr *models.ChangeRequest) bool {
		return titleMatches(cr.Title, text)
	})
}

// Ping validates the Redis connection and object store accessibility.
func (s *RedisStorage) Ping(ctx context.Context) error {
	ctx = ensureCtx(ctx)
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	if s.objectStore == nil {
		return nil
	}
	// Verify object store is reachable via a small round trip.
	probeKey := s.key("healthcheck")
	if err := s.objectStore.PutObject(ctx, probeKey, []byte("ok")); err != nil {
		return err
	}
	_, err := s.objectStore.GetObject(ctx, probeKey)
	_ = s.objectStore.DeleteObject(ctx, probeKey)
	return err
}

// RedisDocumentStore keeps the version index of each document in Redis and
// the content of every version in the object store.
type RedisDocumentStore struct {
	rdb         redis.UniversalClient
	objectStore ObjectStore
	keyPrefix   string
}

// NewRedisDocumentStore creates a document store over Redis and an object store.
func NewRedisDocumentStore(rdb redis.UniversalClient, objectStore ObjectStore, keyPrefix string) *RedisDocumentStore {
	return &RedisDocumentStore{rdb: rdb, objectStore: objectStore, keyPrefix: keyPrefix}
}

func (s *RedisDocumentStore) key(parts ...string) string {
	return prefixedKey(s.keyPrefix, parts...)
}

// Document returns the current version of a document.
func (s *RedisDocumentStore) Document(ctx context.Context, ref string) (*models.Document, error) {
	ctx = ensureCtx(ctx)
	head, err := s.rdb.Get(ctx, s.key("document_head", ref)).Int64()
	if err == redis.Nil {
		return &models.Document{Reference: ref}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.DocumentAt(ctx, ref, head)
}

// DocumentAt returns a past version of a document.
func (s *RedisDocumentStore) DocumentAt(ctx context.Context, ref string, version int64) (*models.Document, error) {
	ctx = ensureCtx(ctx)
	if version == 0 {
		return &models.Document{Reference: ref}, nil
	}

	objectKey, err := s.rdb.HGet(ctx, s.key("document_versions", ref), strconv.FormatInt(version, 10)).Result()
	if err == redis.Nil {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}

	var doc models.Document
	if err := getJSON(ctx, s.objectStore, objectKey, &doc); err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// SaveDocument uploads the content, then moves the head pointer if it still
// equals expectedVersion.
func (s *RedisDocumentStore) SaveDocument(ctx context.Context, doc *models.Document, expectedVersion int64) (*models.Document, error) {
	ctx = ensureCtx(ctx)
	if doc == nil || doc.Reference == "" {
		return nil, ErrInvalidInput
	}

	saved := doc.Clone()
	saved.Version = expectedVersion + 1
	// Unique object keys keep a losing writer from clobbering the winner's content.
	objectKey := fmt.Sprintf("documents/%s/%d-%s", doc.Reference, saved.Version, uuid.NewString())
	if err := putJSON(ctx, s.objectStore, objectKey, saved); err != nil {
		return nil, err
	}

	headKey := s.key("document_head", doc.Reference)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		head, err := tx.Get(ctx, headKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if head != expectedVersion {
			return ErrStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, headKey, saved.Version, 0)
			pipe.HSet(ctx, s.key("document_versions", doc.Reference), strconv.FormatInt(saved.Version, 10), objectKey)
			return nil
		})
		return err
	}, headKey)
	if err == redis.TxFailedErr {
		err = ErrStaleVersion
	}
	if err != nil {
		_ = s.objectStore.DeleteObject(ctx, objectKey)
		return nil, err
	}
	return saved.Clone(), nil
}
