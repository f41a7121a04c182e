package mcp

import (
	"context"
	"errors"
	"fmt"

	"webpilot-mcp-server/internal/auth"
	"webpilot-mcp-server/internal/browser"
)

// SaveCredentialTool stores an encrypted credential for a domain.
type SaveCredentialTool struct {
	creds *auth.CredentialStore
}

func (t *SaveCredentialTool) Name() string { return "save-credential" }
func (t *SaveCredentialTool) Description() string {
	return `Store a username and password for a domain, encrypted at rest.

Requires the WEBPILOT_CREDENTIALS_KEY environment variable. Secrets never
appear in logs or tool output.`
}
func (t *SaveCredentialTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"domain":   map[string]interface{}{"type": "string", "description": "Site domain, e.g. example.com"},
			"username": map[string]interface{}{"type": "string"},
			"password": map[string]interface{}{"type": "string"},
		},
		"required": []string{"domain", "username", "password"},
	}
}
func (t *SaveCredentialTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	domain, err := requiredString(args, "domain")
	if err != nil {
		return nil, err
	}
	username, err := requiredString(args, "username")
	if err != nil {
		return nil, err
	}
	password, err := requiredString(args, "password")
	if err != nil {
		return nil, err
	}

	if err := t.creds.Save(domain, username, password); err != nil {
		if errors.Is(err, auth.ErrNoKey) {
			return nil, fmt.Errorf("credential store locked: set %s", auth.EnvCredentialsKey)
		}
		return nil, err
	}
	return map[string]interface{}{"saved": true, "domain": domain}, nil
}

// DeleteCredentialTool removes a stored credential.
type DeleteCredentialTool struct {
	creds *auth.CredentialStore
}

func (t *DeleteCredentialTool) Name() string { return "delete-credential" }
func (t *DeleteCredentialTool) Description() string {
	return `Delete the stored credential for a domain.`
}
func (t *DeleteCredentialTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"domain": map[string]interface{}{"type": "string"},
		},
		"required": []string{"domain"},
	}
}
func (t *DeleteCredentialTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	domain, err := requiredString(args, "domain")
	if err != nil {
		return nil, err
	}
	if err := t.creds.Delete(domain); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return map[string]interface{}{"deleted": false, "reason": "no credential for domain"}, nil
		}
		return nil, err
	}
	return map[string]interface{}{"deleted": true, "domain": domain}, nil
}

// ListCredentialsTool lists the domains with stored credentials.
type ListCredentialsTool struct {
	creds *auth.CredentialStore
}

func (t *ListCredentialsTool) Name() string { return "list-credentials" }
func (t *ListCredentialsTool) Description() string {
	return `List the domains that have a stored credential. Usernames and passwords are never returned.`
}
func (t *ListCredentialsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *ListCredentialsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	domains, err := t.creds.Domains()
	if err != nil {
		if errors.Is(err, auth.ErrNoKey) {
			return nil, fmt.Errorf("credential store locked: set %s", auth.EnvCredentialsKey)
		}
		return nil, err
	}
	return map[string]interface{}{"domains": domains, "count": len(domains)}, nil
}

// GetCredentialTool returns the decrypted credential for a domain.
type GetCredentialTool struct {
	creds *auth.CredentialStore
}

func (t *GetCredentialTool) Name() string { return "get-credential" }
func (t *GetCredentialTool) Description() string {
	return `Retrieve the stored username and password for a domain so a login task can
use them. Every read is recorded in the audit log.`
}
func (t *GetCredentialTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"domain": map[string]interface{}{"type": "string", "description": "Site domain, e.g. example.com"},
		},
		"required": []string{"domain"},
	}
}
func (t *GetCredentialTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	domain, err := requiredString(args, "domain")
	if err != nil {
		return nil, err
	}

	cred, err := t.creds.Get(domain)
	if err != nil {
		if errors.Is(err, auth.ErrNoKey) {
			return nil, fmt.Errorf("credential store locked: set %s", auth.EnvCredentialsKey)
		}
		if errors.Is(err, auth.ErrNotFound) {
			return nil, fmt.Errorf("no credential stored for %s", domain)
		}
		return nil, err
	}
	return map[string]interface{}{
		"domain":   auth.NormalizeDomain(domain),
		"username": cred.Username,
		"password": cred.Password,
		"saved_at": cred.SavedAt,
	}, nil
}

// SaveSessionTool captures the cookies of the open page for a domain so later
// runs can skip the login.
type SaveSessionTool struct {
	manager  *browser.Manager
	sessions *auth.SessionStore
}

func (t *SaveSessionTool) Name() string { return "save-session" }
func (t *SaveSessionTool) Description() string {
	return `Save the browser session (cookies) of the currently open page for a domain.
Automation on the same domain restores the cookies before navigating, until
the session TTL expires.`
}
func (t *SaveSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"domain": map[string]interface{}{"type": "string", "description": "Site domain or URL, e.g. example.com"},
		},
		"required": []string{"domain"},
	}
}
func (t *SaveSessionTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	domain, err := requiredString(args, "domain")
	if err != nil {
		return nil, err
	}

	target := auth.NormalizeDomain(domain)
	if target == "" {
		return nil, fmt.Errorf("domain is required")
	}
	page, ok := t.manager.FindPage(func(url string) bool {
		return auth.NormalizeDomain(url) == target
	})
	if !ok {
		return nil, fmt.Errorf("no open page for domain %s; run an automation on it first", target)
	}

	if err := t.sessions.Save(domain, page); err != nil {
		return nil, err
	}
	return map[string]interface{}{"saved": true, "domain": target}, nil
}

// DeleteSessionTool drops a saved browser session.
type DeleteSessionTool struct {
	sessions *auth.SessionStore
}

func (t *DeleteSessionTool) Name() string { return "delete-session" }
func (t *DeleteSessionTool) Description() string {
	return `Delete the saved browser session (cookies) for a domain.`
}
func (t *DeleteSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"domain": map[string]interface{}{"type": "string"},
		},
		"required": []string{"domain"},
	}
}
func (t *DeleteSessionTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	domain, err := requiredString(args, "domain")
	if err != nil {
		return nil, err
	}
	if err := t.sessions.Delete(domain); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return map[string]interface{}{"deleted": false, "reason": "no session for domain"}, nil
		}
		return nil, err
	}
	return map[string]interface{}{"deleted": true, "domain": domain}, nil
}

// CleanupSessionsTool evicts expired sessions.
type CleanupSessionsTool struct {
	sessions *auth.SessionStore
}

func (t *CleanupSessionsTool) Name() string { return "cleanup-sessions" }
func (t *CleanupSessionsTool) Description() string {
	return `Remove all expired browser sessions and report how many were evicted.`
}
func (t *CleanupSessionsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *CleanupSessionsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	removed, err := t.sessions.Cleanup()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"removed": removed}, nil
}
