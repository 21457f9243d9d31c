package config

import (
	"fmt"
	"strings"
)

// Repository identifies a GitHub repository
type Repository struct {
	Owner string // GitHub owner (e.g., "acme")
	Repo  string // GitHub repo (e.g., "docs")
}

// ParseRepositoryString parses "owner/repo" format or URL
func ParseRepositoryString(repoStr string) (*Repository, error) {
	repoStr = strings.TrimSpace(repoStr)
	if repoStr == "" {
		return nil, fmt.Errorf("repository is empty (expected: owner/repo)")
	}

	// Check if it's a GitHub URL
	if strings.Contains(repoStr, "github.com") {
		// https://github.com/owner/repo(.git) -> owner/repo
		// git@github.com:owner/repo.git -> owner/repo
		parts := strings.FieldsFunc(repoStr, func(r rune) bool { return r == '/' || r == ':' })
		for i, p := range parts {
			if strings.HasSuffix(p, "github.com") {
				repoStr = strings.Join(parts[i+1:], "/")
				break
			}
		}
		repoStr = strings.TrimSuffix(repoStr, "/")
		repoStr = strings.Split(repoStr, "/releases")[0]
		repoStr = strings.Split(repoStr, "/tags")[0]
		repoStr = strings.TrimSuffix(repoStr, ".git")
	}

	parts := strings.Split(repoStr, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid repository format: %s (expected: owner/repo)", repoStr)
	}

	return &Repository{
		Owner: parts[0],
		Repo:  parts[1],
	}, nil
}

// FullName returns the full repository name (owner/repo)
func (r *Repository) FullName() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Repo)
}
