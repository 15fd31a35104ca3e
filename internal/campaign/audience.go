package campaign

import (
	"context"
	"fmt"

	"github.com/ltfpqrr/mailroom/internal/store"
)

// Target selectors understood by the audience resolver.
const (
	TargetAllUsers  = "all_users"
	TargetPartners  = "partners"
	TargetCustomers = "customers"
	TargetCustom    = "custom"
)

// PGAudience resolves target selectors against the users table.
type PGAudience struct {
	db *store.DB
}

func NewPGAudience(db *store.DB) *PGAudience {
	return &PGAudience{db: db}
}

func (a *PGAudience) Resolve(ctx context.Context, targetType string, criteria map[string]any) ([]Recipient, error) {
	switch targetType {
	case TargetAllUsers:
		return a.query(ctx, `
			SELECT id, email, first_name, last_name
			FROM users
			WHERE is_active = TRUE AND email_opt_in = TRUE
			ORDER BY id
		`)
	case TargetPartners:
		return a.query(ctx, `
			SELECT id, email, first_name, last_name
			FROM users
			WHERE is_active = TRUE AND email_opt_in = TRUE AND account_type = 'partner'
			ORDER BY id
		`)
	case TargetCustomers:
		return a.query(ctx, `
			SELECT id, email, first_name, last_name
			FROM users
			WHERE is_active = TRUE AND email_opt_in = TRUE AND account_type = 'customer'
			ORDER BY id
		`)
	case TargetCustom:
		return a.resolveCustom(ctx, criteria)
	default:
		return nil, fmt.Errorf("unknown target type %q", targetType)
	}
}

// resolveCustom looks up the explicit email list from the campaign
// criteria. Addresses without a matching user record are still included;
// they just render without user fields.
func (a *PGAudience) resolveCustom(ctx context.Context, criteria map[string]any) ([]Recipient, error) {
	raw, ok := criteria["emails"].([]any)
	if !ok {
		return nil, fmt.Errorf("custom target requires an emails list in criteria")
	}

	emails := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			emails = append(emails, s)
		}
	}
	if len(emails) == 0 {
		return nil, fmt.Errorf("custom target emails list is empty")
	}

	rows, err := a.db.Pool().Query(ctx, `
		SELECT id, email, first_name, last_name
		FROM users
		WHERE email = ANY($1)
	`, emails)
	if err != nil {
		return nil, fmt.Errorf("query custom audience: %w", err)
	}
	defer rows.Close()

	known := make(map[string]Recipient)
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.UserID, &r.Email, &r.FirstName, &r.LastName); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		known[r.Email] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	recipients := make([]Recipient, 0, len(emails))
	for _, email := range emails {
		if r, ok := known[email]; ok {
			recipients = append(recipients, r)
		} else {
			recipients = append(recipients, Recipient{Email: email})
		}
	}
	return recipients, nil
}

func (a *PGAudience) query(ctx context.Context, sql string) ([]Recipient, error) {
	rows, err := a.db.Pool().Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query audience: %w", err)
	}
	defer rows.Close()

	var recipients []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.UserID, &r.Email, &r.FirstName, &r.LastName); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}
