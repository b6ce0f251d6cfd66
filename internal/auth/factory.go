package auth

import (
	"fmt"
	"strings"
)

const (
	ModeMemory = "memory"
	ModeSQLite = "sqlite"
)

// NewServiceFromEnv picks the account store for mode. The SQLite path comes
// from SH_AUTH_PATH.
func NewServiceFromEnv(mode string, opts Options) (Service, string, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	switch mode {
	case "", ModeMemory, "mem":
		return NewManager(opts), ModeMemory, nil
	case ModeSQLite, "local":
		manager, err := NewSQLiteManagerFromEnv(opts)
		if err != nil {
			return nil, ModeSQLite, err
		}
		return manager, ModeSQLite, nil
	default:
		return nil, mode, fmt.Errorf("invalid auth mode %q (supported: %s, %s)", mode, ModeMemory, ModeSQLite)
	}
}
