package registry

import (
	"context"
)

// Open opens the registry selected by the configuration: the postgres registry when dsn is set,
// otherwise the file registry in dir. The returned close function is never nil.
func Open(ctx context.Context, dsn, dir string) (Registry, func() error, error) {
	if dsn != "" {
		r, err := OpenSQLRegistry(ctx, DialectPostgres, dsn)
		if err != nil {
			return nil, nil, err
		}

		return r, r.Close, nil
	}

	r, err := OpenFileRegistry(dir)
	if err != nil {
		return nil, nil, err
	}

	return r, func() error { return nil }, nil
}
