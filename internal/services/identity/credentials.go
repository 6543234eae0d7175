package identity

import (
	"fmt"
	"strings"

	"github.com/mcoot/provisioner/internal/model"
)

// CredentialSeparator joins the fields of an account line: email----password[----extra...]
const CredentialSeparator = "----"

// ParseCredentials reads one account per line, skipping blanks and # comments.
// Fields after the password are ignored.
func ParseCredentials(text string) ([]model.Identity, error) {
	var out []model.Identity
	seen := make(map[string]bool)
	for n, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, CredentialSeparator)
		if len(parts) < 2 || parts[1] == "" {
			return nil, fmt.Errorf("line %d: %w: expected email%spassword", n+1, model.ErrInvalidRequest, CredentialSeparator)
		}
		email := strings.TrimSpace(parts[0])
		at := strings.LastIndexByte(email, '@')
		if at <= 0 || at == len(email)-1 {
			return nil, fmt.Errorf("line %d: %w: %q is not an email address", n+1, model.ErrInvalidRequest, email)
		}
		key := strings.ToLower(email)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, model.Identity{
			Email:    email,
			Password: parts[1],
			Domain:   email[at+1:],
		})
	}
	return out, nil
}
