// Package pathutil confines file paths supplied by MCP clients to
// directories rulesim owns.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TreeExt is appended to saved tree names that carry no extension.
const TreeExt = ".tree"

// RedactPath reduces a full path to .../<parent>/<basename> for error messages.
// For example, "/home/user/.rulesim/trees/star.tree" becomes ".../trees/star.tree".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	parent := filepath.Base(dir)
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}

// Resolve cleans path, resolves symlinks on its existing ancestors, and
// returns the result if it lies within one of allowedDirs.
func Resolve(path string, allowedDirs []string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path validation failed: path is empty")
	}
	if len(allowedDirs) == 0 {
		return "", fmt.Errorf("path validation failed: no allowed directories configured")
	}
	if strings.ContainsRune(path, '\x00') {
		return "", fmt.Errorf("path validation failed: path contains null byte")
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("path validation failed: cannot resolve absolute path: %w", err)
	}

	// The file itself may not exist yet.
	resolvedDir, err := resolveExistingParent(filepath.Dir(absPath))
	if err != nil {
		return "", fmt.Errorf("path validation failed: cannot resolve parent directory: %w", err)
	}
	resolved := filepath.Join(resolvedDir, filepath.Base(absPath))

	for _, allowed := range allowedDirs {
		allowedAbs, err := filepath.Abs(filepath.Clean(allowed))
		if err != nil {
			continue
		}
		allowedResolved, err := resolveExistingParent(allowedAbs)
		if err != nil {
			continue
		}
		if isSubpath(resolved, allowedResolved) {
			return resolved, nil
		}
	}

	return "", fmt.Errorf("path validation failed: %q is outside allowed directories", RedactPath(absPath))
}

// TreeDir is where named trees are saved under a store directory.
func TreeDir(storeDir string) string {
	return filepath.Join(storeDir, "trees")
}

// TreePath maps a saved tree name to a file under TreeDir(storeDir). Names
// may not contain path separators.
func TreePath(storeDir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("tree name is empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid tree name %q: must be a plain file name", name)
	}
	if filepath.Ext(name) == "" {
		name += TreeExt
	}
	dir := TreeDir(storeDir)
	return Resolve(filepath.Join(dir, name), []string{dir})
}

// resolveExistingParent resolves symlinks on the deepest existing ancestor of
// dir and re-appends the missing tail.
func resolveExistingParent(dir string) (string, error) {
	resolved, err := filepath.EvalSymlinks(dir)
	if err == nil {
		return resolved, nil
	}

	parent := filepath.Dir(dir)
	if parent == dir {
		return "", fmt.Errorf("cannot resolve path: %s", RedactPath(dir))
	}
	resolvedParent, err := resolveExistingParent(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(dir)), nil
}

// isSubpath reports whether path is base or lies beneath it.
func isSubpath(path, base string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(os.PathSeparator))
}
