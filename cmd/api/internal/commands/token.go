package commands

import (
	"fmt"
	"time"

	"brandlift/api/internal/auth"
	"brandlift/api/internal/config"
)

// TokenCmd prints a signed access token. Identity is issued upstream in
// production; this is for local development and smoke tests.
type TokenCmd struct {
	Subject    string        `name:"sub" help:"User id" required:""`
	Name       string        `help:"Display name" default:"Local User"`
	Org        string        `help:"Organization id"`
	Role       string        `help:"Role" default:"editor" enum:"viewer,editor,reviewer,admin"`
	SuperAdmin bool          `help:"Grant cross-tenant access"`
	TTL        time.Duration `help:"Token lifetime, defaults to BRANDLIFT_ACCESS_TTL"`
}

func (t *TokenCmd) Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if t.Org == "" && !t.SuperAdmin {
		return fmt.Errorf("--org is required unless --super-admin is set")
	}
	ttl := t.TTL
	if ttl <= 0 {
		ttl = cfg.AccessTTL
	}
	token, err := auth.IssueToken([]byte(cfg.JWTSecret), auth.NewClaims(t.Subject, t.Name, t.Org, t.Role, t.SuperAdmin, ttl))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
