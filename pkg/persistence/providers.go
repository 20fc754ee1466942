package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const providerColumns = `id, type, name, base_url, api_key, model, context_window, max_tokens, is_default, created_at`

func scanProvider(row rowScanner) (*ProviderConfig, error) {
	var (
		p       ProviderConfig
		isDef   int
		created string
	)
	if err := row.Scan(&p.ID, &p.Type, &p.Name, &p.BaseURL, &p.APIKey, &p.Model, &p.ContextWindow,
		&p.MaxTokens, &isDef, &created); err != nil {
		return nil, err
	}
	p.IsDefault = isDef != 0
	p.CreatedAt = parseTime(created)
	return &p, nil
}

// CreateProvider stores a provider configuration. Marking it default clears
// the flag on every other provider.
func (s *Store) CreateProvider(ctx context.Context, p *ProviderConfig) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.ContextWindow == 0 {
		p.ContextWindow = 131072
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = 8192
	}
	p.CreatedAt = s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if p.IsDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE provider_configs SET is_default = 0`); err != nil {
				return fmt.Errorf("failed to clear default provider: %w", err)
			}
		}
		isDef := 0
		if p.IsDefault {
			isDef = 1
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO provider_configs (`+providerColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Type, p.Name, p.BaseURL, p.APIKey, p.Model, p.ContextWindow, p.MaxTokens, isDef,
			formatTime(p.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert provider %s: %w", p.Name, err)
		}
		return nil
	})
}

// GetProvider returns the provider with id.
func (s *Store) GetProvider(ctx context.Context, id string) (*ProviderConfig, error) {
	p, err := scanProvider(s.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM provider_configs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("provider %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider %s: %w", id, err)
	}
	return p, nil
}

// ListProviders returns every provider, default first.
func (s *Store) ListProviders(ctx context.Context) ([]*ProviderConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+providerColumns+` FROM provider_configs
		ORDER BY is_default DESC, created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()
	var out []*ProviderConfig
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// usableProvider is the SQL predicate for a provider that can serve calls:
// it has a key, or it is a local ollama endpoint.
const usableProvider = `(api_key != '' OR type = 'ollama')`

func (s *Store) firstProvider(ctx context.Context, where string, args ...any) (*ProviderConfig, error) {
	p, err := scanProvider(s.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM provider_configs
		WHERE `+where+` ORDER BY is_default DESC, created_at ASC, rowid ASC LIMIT 1`, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider: %w", err)
	}
	return p, nil
}

// ProviderByType returns the first usable provider of typ.
func (s *Store) ProviderByType(ctx context.Context, typ string) (*ProviderConfig, error) {
	return s.firstProvider(ctx, `type = ? AND `+usableProvider, typ)
}

// DefaultProvider returns the usable provider flagged default.
func (s *Store) DefaultProvider(ctx context.Context) (*ProviderConfig, error) {
	return s.firstProvider(ctx, `is_default = 1 AND `+usableProvider)
}

// AnyProvider returns any usable provider.
func (s *Store) AnyProvider(ctx context.Context) (*ProviderConfig, error) {
	return s.firstProvider(ctx, usableProvider)
}
