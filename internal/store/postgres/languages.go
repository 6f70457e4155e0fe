package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/keyloom/keyloom/internal/logging"
	"github.com/keyloom/keyloom/internal/metrics"
	"github.com/keyloom/keyloom/pkg/models"
)

// NormalizeLanguageCode validates a BCP-47 tag and returns its canonical form.
func NormalizeLanguageCode(code string) (string, error) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("invalid language code %q: %w", code, err)
	}
	return tag.String(), nil
}

// ListLanguages returns all languages ordered by code.
func (s *Store) ListLanguages(ctx context.Context) ([]models.Language, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_languages", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, name, enabled FROM languages ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list languages: %w", err)
	}
	defer rows.Close()

	langs := []models.Language{}
	for rows.Next() {
		var l models.Language
		if err := rows.Scan(&l.ID, &l.Code, &l.Name, &l.Enabled); err != nil {
			return nil, fmt.Errorf("scan language: %w", err)
		}
		langs = append(langs, l)
	}
	return langs, rows.Err()
}

// CreateLanguage adds a translation target language. The code is validated
// and canonicalized as a BCP-47 tag.
func (s *Store) CreateLanguage(ctx context.Context, code, name string) (*models.Language, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_language", time.Since(start)) }()

	code, err := NormalizeLanguageCode(code)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = code
	}

	lang := models.Language{Code: code, Name: name, Enabled: true}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO languages (code, name, enabled) VALUES ($1, $2, TRUE) RETURNING id`,
		code, name).Scan(&lang.ID)
	if err != nil {
		return nil, fmt.Errorf("insert language: %w", err)
	}

	logging.Info("created language", zap.String("code", code))
	return &lang, nil
}

// UpdateLanguage renames a language or toggles whether it accepts variants.
func (s *Store) UpdateLanguage(ctx context.Context, id int, name string, enabled *bool) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update_language", time.Since(start)) }()

	result, err := s.db.ExecContext(ctx,
		`UPDATE languages SET name = COALESCE(NULLIF($1, ''), name),
		        enabled = COALESCE($2, enabled)
		 WHERE id = $3`, name, enabled, id)
	if err != nil {
		return fmt.Errorf("update language: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLanguage removes a language. Fails while variants reference it.
func (s *Store) DeleteLanguage(ctx context.Context, id int) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_language", time.Since(start)) }()

	var code string
	err := s.db.QueryRowContext(ctx,
		`SELECT code FROM languages WHERE id = $1`, id).Scan(&code)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup language: %w", err)
	}

	var inUse bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM translation_variants WHERE language = $1)`, code).Scan(&inUse)
	if err != nil {
		return fmt.Errorf("check language usage: %w", err)
	}
	if inUse {
		return fmt.Errorf("language %q still has variants", code)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM languages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete language: %w", err)
	}
	return nil
}

// ListJurisdictions returns all jurisdictions ordered by code.
func (s *Store) ListJurisdictions(ctx context.Context) ([]models.Jurisdiction, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_jurisdictions", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, name FROM jurisdictions ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list jurisdictions: %w", err)
	}
	defer rows.Close()

	jurs := []models.Jurisdiction{}
	for rows.Next() {
		var j models.Jurisdiction
		if err := rows.Scan(&j.ID, &j.Code, &j.Name); err != nil {
			return nil, fmt.Errorf("scan jurisdiction: %w", err)
		}
		jurs = append(jurs, j)
	}
	return jurs, rows.Err()
}

// CreateJurisdiction adds a regional variant target.
func (s *Store) CreateJurisdiction(ctx context.Context, code, name string) (*models.Jurisdiction, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_jurisdiction", time.Since(start)) }()

	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("jurisdiction code required")
	}
	if name == "" {
		name = code
	}

	jur := models.Jurisdiction{Code: code, Name: name}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO jurisdictions (code, name) VALUES ($1, $2) RETURNING id`,
		code, name).Scan(&jur.ID)
	if err != nil {
		return nil, fmt.Errorf("insert jurisdiction: %w", err)
	}

	logging.Info("created jurisdiction", zap.String("code", code))
	return &jur, nil
}

// DeleteJurisdiction removes a jurisdiction. Fails while variants reference it.
func (s *Store) DeleteJurisdiction(ctx context.Context, id int) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_jurisdiction", time.Since(start)) }()

	var code string
	err := s.db.QueryRowContext(ctx,
		`SELECT code FROM jurisdictions WHERE id = $1`, id).Scan(&code)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup jurisdiction: %w", err)
	}

	var inUse bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM translation_variants WHERE jurisdiction = $1)`, code).Scan(&inUse)
	if err != nil {
		return fmt.Errorf("check jurisdiction usage: %w", err)
	}
	if inUse {
		return fmt.Errorf("jurisdiction %q still has variants", code)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM jurisdictions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete jurisdiction: %w", err)
	}
	return nil
}
