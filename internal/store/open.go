package store

import (
	"context"

	"github.com/rotisserie/eris"
)

// Open builds the store selected by driver and applies its migrations.
// Driver "none" returns a nil Store.
func Open(ctx context.Context, driver, url string, connectAttempts int) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "none", "":
		return nil, nil
	case "sqlite":
		s, err = NewSQLite(url)
	case "postgres":
		s, err = NewPostgres(ctx, url, connectAttempts)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}
