package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from the plugin tables. It is declared in
// package postgres so the external postgres_test package can reach the
// unexported db field through it.
func (s *PluginStore) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE versions, graphs, plugins RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate plugin tables: %w", err)
	}
	return nil
}
