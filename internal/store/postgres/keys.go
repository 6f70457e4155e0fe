package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/keyloom/keyloom/internal/logging"
	"github.com/keyloom/keyloom/internal/metrics"
	"github.com/keyloom/keyloom/pkg/models"
)

var (
	// ErrNotFound is returned when a key, language or jurisdiction does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidPath is returned for malformed dotted key paths.
	ErrInvalidPath = errors.New("invalid key path")
)

// Key paths are dotted sequences of lowercase segments.
var keyPathPattern = regexp.MustCompile(`^[a-z0-9_-]+(\.[a-z0-9_-]+)*$`)

// ValidKeyPath reports whether p is a well-formed dotted key path.
func ValidKeyPath(p string) bool {
	return keyPathPattern.MatchString(p)
}

// CreateKey inserts a translation key.
func (s *Store) CreateKey(ctx context.Context, path, description string) (*models.TranslationKey, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_key", time.Since(start)) }()

	if !ValidKeyPath(path) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	var key models.TranslationKey
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO translation_keys (path, description) VALUES ($1, $2)
		 RETURNING id, path, description, created_at`,
		path, description).Scan(&key.ID, &key.Path, &key.Description, &key.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert key: %w", err)
	}

	s.updateKeySpaceSize(ctx)
	logging.Info("created translation key", zap.String("path", path))
	return &key, nil
}

// DeleteKeyPrefix removes the key at path and every key beneath it.
// Variants go with their keys via the foreign key cascade.
func (s *Store) DeleteKeyPrefix(ctx context.Context, path string) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_key_prefix", time.Since(start)) }()

	if !ValidKeyPath(path) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	// Escape the prefix: _ is valid in key paths but a wildcard in LIKE
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM translation_keys WHERE path = $1 OR path LIKE $2`,
		path, escapeLike(path)+".%")
	if err != nil {
		return 0, fmt.Errorf("delete keys: %w", err)
	}
	deleted, _ := result.RowsAffected()
	if deleted == 0 {
		return 0, ErrNotFound
	}

	s.updateKeySpaceSize(ctx)
	logging.Info("deleted key subtree",
		zap.String("path", path), zap.Int64("deleted", deleted))
	return deleted, nil
}

// SearchKeys returns keys whose path contains the query substring,
// ordered by path, with total count for pagination.
func (s *Store) SearchKeys(ctx context.Context, query string, offset, limit int) ([]models.TranslationKey, int, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("search_keys", time.Since(start)) }()

	pattern := "%" + escapeLike(query) + "%"

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM translation_keys WHERE path LIKE $1`, pattern).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count keys: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, description, created_at FROM translation_keys
		 WHERE path LIKE $1 ORDER BY path OFFSET $2 LIMIT $3`,
		pattern, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("search keys: %w", err)
	}
	defer rows.Close()

	keys := []models.TranslationKey{}
	for rows.Next() {
		var k models.TranslationKey
		if err := rows.Scan(&k.ID, &k.Path, &k.Description, &k.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, total, rows.Err()
}

// KeyExists reports whether the exact path is a key.
func (s *Store) KeyExists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM translation_keys WHERE path = $1)`, path).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("key exists: %w", err)
	}
	return exists, nil
}

// ListKeyChildren returns the direct children of a dotted prefix,
// alphabetically by segment. An empty parent lists the roots. An entry is a
// folder when deeper keys exist under it; its child count is the number of
// distinct next-level segments.
func (s *Store) ListKeyChildren(ctx context.Context, parent string) ([]models.KeyEntry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordDBQuery("list_key_children", time.Since(start))
		metrics.RecordChildrenListing()
	}()

	if parent != "" && !ValidKeyPath(parent) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, parent)
	}

	var (
		rows *sql.Rows
		err  error
	)
	if parent == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT path FROM translation_keys ORDER BY path`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT path FROM translation_keys WHERE path LIKE $1 ORDER BY path`,
			escapeLike(parent)+".%")
	}
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()

	prefix := ""
	if parent != "" {
		prefix = parent + "."
	}

	type childAgg struct {
		folder      bool
		subChildren map[string]struct{}
	}
	bySegment := make(map[string]*childAgg)

	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		rest := strings.TrimPrefix(path, prefix)
		parts := strings.SplitN(rest, ".", 3)
		agg := bySegment[parts[0]]
		if agg == nil {
			agg = &childAgg{subChildren: make(map[string]struct{})}
			bySegment[parts[0]] = agg
		}
		if len(parts) > 1 {
			agg.folder = true
			agg.subChildren[parts[1]] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	segments := make([]string, 0, len(bySegment))
	for seg := range bySegment {
		segments = append(segments, seg)
	}
	sort.Strings(segments)

	entries := make([]models.KeyEntry, 0, len(segments))
	for _, seg := range segments {
		agg := bySegment[seg]
		entries = append(entries, models.KeyEntry{
			FullPath:   prefix + seg,
			Segment:    seg,
			IsFolder:   agg.folder,
			ChildCount: len(agg.subChildren),
		})
	}

	logging.Debug("listed key children",
		zap.String("parent", parent), zap.Int("entries", len(entries)))
	return entries, nil
}

// ListVariants returns all variants of one key.
func (s *Store) ListVariants(ctx context.Context, path string) ([]models.Variant, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_variants", time.Since(start)) }()

	exists, err := s.KeyExists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT k.path, v.language, COALESCE(v.jurisdiction, ''), v.value, v.status, v.updated_at
		 FROM translation_variants v
		 JOIN translation_keys k ON k.id = v.key_id
		 WHERE k.path = $1
		 ORDER BY v.language, v.jurisdiction NULLS FIRST`, path)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()

	variants := []models.Variant{}
	for rows.Next() {
		var v models.Variant
		if err := rows.Scan(&v.KeyPath, &v.Language, &v.Jurisdiction,
			&v.Value, &v.Status, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// UpsertVariant sets the value of a key for a language and optional
// jurisdiction, replacing any existing value.
func (s *Store) UpsertVariant(ctx context.Context, path string, v models.Variant) (*models.Variant, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("upsert_variant", time.Since(start)) }()

	if v.Status == "" {
		v.Status = models.StatusDraft
	}
	if v.Status != models.StatusDraft && v.Status != models.StatusPublished {
		return nil, fmt.Errorf("invalid status: %q", v.Status)
	}

	var keyID int
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM translation_keys WHERE path = $1`, path).Scan(&keyID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup key: %w", err)
	}

	var langID int
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM languages WHERE code = $1 AND enabled`, v.Language).Scan(&langID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unknown or disabled language: %q", v.Language)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup language: %w", err)
	}

	if v.Jurisdiction != "" {
		var jurID int
		err = s.db.QueryRowContext(ctx,
			`SELECT id FROM jurisdictions WHERE code = $1`, v.Jurisdiction).Scan(&jurID)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("unknown jurisdiction: %q", v.Jurisdiction)
		}
		if err != nil {
			return nil, fmt.Errorf("lookup jurisdiction: %w", err)
		}
	}

	out := models.Variant{
		KeyPath:      path,
		Language:     v.Language,
		Jurisdiction: v.Jurisdiction,
		Value:        v.Value,
		Status:       v.Status,
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO translation_variants (key_id, language, jurisdiction, value, status, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, NOW())
		 ON CONFLICT (key_id, language, jurisdiction)
		 DO UPDATE SET value = EXCLUDED.value, status = EXCLUDED.status, updated_at = NOW()
		 RETURNING updated_at`,
		keyID, v.Language, v.Jurisdiction, v.Value, v.Status).Scan(&out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert variant: %w", err)
	}

	logging.Info("set variant",
		zap.String("path", path),
		zap.String("language", v.Language),
		zap.String("jurisdiction", v.Jurisdiction),
		zap.String("status", v.Status))
	return &out, nil
}

// Stats returns row counts for the admin dashboard.
func (s *Store) Stats(ctx context.Context) (keys, variants, languages, jurisdictions, users int64, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("stats", time.Since(start)) }()

	err = s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM translation_keys),
			(SELECT COUNT(*) FROM translation_variants),
			(SELECT COUNT(*) FROM languages),
			(SELECT COUNT(*) FROM jurisdictions),
			(SELECT COUNT(*) FROM users)`).
		Scan(&keys, &variants, &languages, &jurisdictions, &users)
	if err != nil {
		err = fmt.Errorf("query stats: %w", err)
	}
	return
}

func (s *Store) updateKeySpaceSize(ctx context.Context) {
	var count int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM translation_keys`).Scan(&count); err == nil {
		metrics.SetKeySpaceSize(count)
	}
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
