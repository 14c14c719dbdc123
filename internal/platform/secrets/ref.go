package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// secretRef is a parsed secret:// reference. The canonical form strips
// query parameters so the same secret cached under different versions
// still shares one identity.
type secretRef struct {
	canonical string
	name      string
	version   string
	project   string
}

func parseRef(raw string) (secretRef, error) {
	if strings.TrimSpace(raw) == "" {
		return secretRef{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}

	name := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	q := u.Query()
	return secretRef{
		canonical: canonical.String(),
		name:      name,
		version:   strings.TrimSpace(q.Get("version")),
		project:   strings.TrimSpace(q.Get("project")),
	}, nil
}

// normalizeScheme rewrites the sm:// shorthand accepted in fallback
// files to the secret:// form the parser understands.
func normalizeScheme(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "sm://") {
		return "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	return ref
}

func versionedKey(canonical, version string) string {
	return canonical + "#" + version
}
