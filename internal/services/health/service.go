package health

import (
	"context"
	"database/sql"
)

// Service encapsulates health-related checks.
type Service struct {
	Env       string
	Provider  string
	StoreType string
	Version   string
	DB        *sql.DB
}

// NewService constructs a new health service. A nil db means the in-memory
// repositories are in use.
func NewService(env, provider, storeType, version string, db *sql.DB) *Service {
	return &Service{
		Env:       env,
		Provider:  provider,
		StoreType: storeType,
		Version:   version,
		DB:        db,
	}
}

// Status returns the health payload, pinging the database when one is
// configured.
func (s *Service) Status(ctx context.Context) map[string]any {
	status := map[string]any{
		"ok":       true,
		"env":      s.Env,
		"provider": s.Provider,
		"store":    s.StoreType,
		"version":  s.Version,
		"database": "memory",
	}
	if s.DB != nil {
		if err := s.DB.PingContext(ctx); err != nil {
			status["ok"] = false
			status["database"] = "unreachable"
		} else {
			status["database"] = "ok"
		}
	}
	return status
}
