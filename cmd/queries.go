package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// queryPlaceholder is the single positional substitution point a query
// template may contain. Templates ship with the deployment and substituted
// values come from validated configuration or from the course-list query
// itself, so literal substitution is a closed, trusted-input contract
// between template author and caller.
const queryPlaceholder = "{}"

// ResolveQuery reads the named template from the query folder and, when
// modifier is non-empty, fills its placeholder. Templates are re-read from
// disk on every call; there is no caching.
func ResolveQuery(name, folder, modifier string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(folder, name))
	if err != nil {
		return "", fmt.Errorf("reading query template %q: %w", name, err)
	}

	query := string(raw)
	if modifier != "" {
		query = strings.Replace(query, queryPlaceholder, modifier, 1)
	}

	return query, nil
}
