package domain

import (
	"strings"
)

// UnknownAuthor is used when no identifying attribute is available.
const UnknownAuthor = "unknown"

// Author carries the optional identity attributes a commit or pull request may expose.
type Author struct {
	Login string
	Email string
	Name  string
}

// ResolveAuthor picks the username an activity is attributed to.
// Priority: explicit login, email local part, sanitized display name, then UnknownAuthor.
func ResolveAuthor(a Author) string {
	if login := strings.TrimSpace(a.Login); login != "" {
		return login
	}
	if local := emailLocalPart(a.Email); local != "" {
		return local
	}
	if name := sanitizeName(a.Name); name != "" {
		return name
	}
	return UnknownAuthor
}

// emailLocalPart returns the lower-cased part before '@'. GitHub noreply
// addresses of the form "12345+login@users.noreply.github.com" yield "login".
func emailLocalPart(email string) string {
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || local == "" || domain == "" {
		return ""
	}
	if strings.HasSuffix(strings.ToLower(domain), "users.noreply.github.com") {
		if _, login, found := strings.Cut(local, "+"); found && login != "" {
			local = login
		}
	}
	return strings.ToLower(local)
}

// sanitizeName lower-cases a display name, joins words with '-', and drops
// anything that is not a letter, digit, '-', '_' or '.'.
func sanitizeName(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('-')
		}
		for _, r := range f {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
				b.WriteRune(r)
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
