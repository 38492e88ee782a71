package main

import (
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/meshbridge/internal/auth"
	"github.com/nerrad567/meshbridge/internal/infrastructure/config"
)

// issueToken signs an API token with the configured secret and writes it
// to w followed by a newline.
func issueToken(w io.Writer, subject, role string, ttl time.Duration) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return auth.ErrNoSecret
	}
	if !auth.IsValidRole(auth.Role(role)) {
		return fmt.Errorf("%w: %q", auth.ErrInvalidRole, role)
	}
	if ttl <= 0 {
		ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	}

	token, err := auth.GenerateToken(subject, auth.Role(role), cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
