package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ltfpqrr/mailroom/internal/queue"
)

// TemplateStore handles database operations for email templates.
// Templates are keyed by unique name and read-only at render time.
type TemplateStore struct {
	db     *DB
	logger *zap.Logger
}

func NewTemplateStore(db *DB, logger *zap.Logger) *TemplateStore {
	return &TemplateStore{db: db, logger: logger}
}

// Create inserts a new template. Fails on duplicate name.
func (s *TemplateStore) Create(ctx context.Context, tpl *queue.Template) error {
	var inputs []byte
	if tpl.RequiredInputs != nil {
		var err error
		inputs, err = json.Marshal(tpl.RequiredInputs)
		if err != nil {
			return fmt.Errorf("marshal required inputs: %w", err)
		}
	}

	query := `
		INSERT INTO email_templates (
			name, subject, html_content, text_content, description,
			category, required_inputs, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := s.db.Pool().QueryRow(ctx, query,
		tpl.Name, tpl.SubjectPattern, tpl.HTMLPattern, nullable(tpl.TextPattern),
		nullable(tpl.Description), tpl.Category, inputs, tpl.IsActive,
	).Scan(&tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		s.logger.Error("failed to create template",
			zap.Error(err),
			zap.String("name", tpl.Name),
		)
		return fmt.Errorf("insert template: %w", err)
	}

	s.logger.Info("template created",
		zap.String("name", tpl.Name),
		zap.String("category", tpl.Category),
	)
	return nil
}

// GetByName retrieves an active template by its unique name.
func (s *TemplateStore) GetByName(ctx context.Context, name string) (*queue.Template, error) {
	query := `
		SELECT name, subject, html_content, text_content, description,
		       category, required_inputs, is_active, created_at, updated_at
		FROM email_templates
		WHERE name = $1 AND is_active = TRUE
	`

	var (
		tpl                    queue.Template
		textContent, desc      *string
		inputs                 []byte
	)
	err := s.db.Pool().QueryRow(ctx, query, name).Scan(
		&tpl.Name, &tpl.SubjectPattern, &tpl.HTMLPattern, &textContent, &desc,
		&tpl.Category, &inputs, &tpl.IsActive, &tpl.CreatedAt, &tpl.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}

	tpl.TextPattern = deref(textContent)
	tpl.Description = deref(desc)
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &tpl.RequiredInputs); err != nil {
			return nil, fmt.Errorf("unmarshal required inputs: %w", err)
		}
	}
	return &tpl, nil
}

// List returns every template, active or not, ordered by name.
func (s *TemplateStore) List(ctx context.Context) ([]*queue.Template, error) {
	query := `
		SELECT name, subject, html_content, text_content, description,
		       category, required_inputs, is_active, created_at, updated_at
		FROM email_templates
		ORDER BY name ASC
	`

	rows, err := s.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []*queue.Template
	for rows.Next() {
		var (
			tpl               queue.Template
			textContent, desc *string
			inputs            []byte
		)
		err := rows.Scan(
			&tpl.Name, &tpl.SubjectPattern, &tpl.HTMLPattern, &textContent, &desc,
			&tpl.Category, &inputs, &tpl.IsActive, &tpl.CreatedAt, &tpl.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		tpl.TextPattern = deref(textContent)
		tpl.Description = deref(desc)
		if len(inputs) > 0 {
			if err := json.Unmarshal(inputs, &tpl.RequiredInputs); err != nil {
				return nil, fmt.Errorf("unmarshal required inputs: %w", err)
			}
		}
		templates = append(templates, &tpl)
	}
	return templates, rows.Err()
}
