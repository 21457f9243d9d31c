// Package manifest rewrites the version field of a project manifest in place.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/nickromney-org/release-propagator/internal/failure"
	"github.com/nickromney-org/release-propagator/internal/version"
)

// DefaultFile is the manifest looked up when none is configured
const DefaultFile = "pyproject.toml"

// versionLine matches the first `version = "<semver-like>"` occurrence. The
// suffix is kept inside the quotes so trailing comments are never consumed.
var versionLine = regexp.MustCompile(`version = "(\d+\.\d+\.\d+[^"]*)"`)

// Outcome of an update
type Outcome string

const (
	Changed   Outcome = "changed"
	Unchanged Outcome = "unchanged"
)

// Update describes what UpdateVersion did
type Update struct {
	Path     string  `json:"path"`
	Outcome  Outcome `json:"outcome"`
	Previous string  `json:"previous"`
	Current  string  `json:"current"`
}

// ReadVersion returns the version currently recorded in the manifest
func ReadVersion(path string) (string, error) {
	data, err := read(path)
	if err != nil {
		return "", err
	}
	m := versionLine.FindSubmatch(data)
	if m == nil {
		return "", failure.Newf(failure.KindPatternNotMatched, "no `version = \"...\"` line in %s", path)
	}
	return string(m[1]), nil
}

// UpdateVersion replaces the first version field in the manifest at
// filepath.Join(repoPath, file) with v. Nothing is written when the pattern is
// missing or the value is already current.
func UpdateVersion(repoPath, file string, v version.Version) (*Update, error) {
	if file == "" {
		file = DefaultFile
	}
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoPath, file)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, failure.Newf(failure.KindManifestNotFound, "manifest %s does not exist", path)
		}
		return nil, fmt.Errorf("failed to stat manifest %s: %w", path, err)
	}

	data, err := read(path)
	if err != nil {
		return nil, err
	}

	loc := versionLine.FindSubmatchIndex(data)
	if loc == nil {
		return nil, failure.Newf(failure.KindPatternNotMatched, "no `version = \"...\"` line in %s", path)
	}

	previous := string(data[loc[2]:loc[3]])
	update := &Update{Path: path, Previous: previous, Current: v.String()}
	if previous == v.String() {
		update.Outcome = Unchanged
		return update, nil
	}

	out := make([]byte, 0, len(data)-len(previous)+len(v.String()))
	out = append(out, data[:loc[2]]...)
	out = append(out, v.String()...)
	out = append(out, data[loc[3]:]...)

	if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("failed to write manifest %s: %w", path, err)
	}

	update.Outcome = Changed
	return update, nil
}

func read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, failure.Newf(failure.KindManifestNotFound, "manifest %s does not exist", path)
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return data, nil
}
