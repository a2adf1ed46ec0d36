//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	logx "tourcast/pkg/logx"
)

// Built without the sqlite tag: keep the driver name recognized but fail
// clearly at open time.
func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite storage driver not built in (rebuild with -tags sqlite)")
}
