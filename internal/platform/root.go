package platform

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// SystemDir is the hidden directory holding captured runs.
	SystemDir = ".trail"
	// RunsPattern matches every provenance file below a runs directory.
	RunsPattern = "**/*"
)

// FindRoot recursively looks upwards for a project root indicator.
// Indicators are: .trail directory, .git directory, or go.mod file.
// If found, returns the absolute path to the root.
func FindRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		if hasFile(dir, SystemDir) || hasFile(dir, ".git") || hasFile(dir, "go.mod") {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("root not found")
}

// RunsDir returns the directory runs are saved to under root.
func RunsDir(root string) string {
	return filepath.Join(root, SystemDir, "runs")
}

// RunPath returns the file a session's run is saved to. ext selects the
// format and defaults to ".json".
func RunPath(root, sessionID, ext string) string {
	if ext == "" {
		ext = ".json"
	}
	return filepath.Join(RunsDir(root), sessionID+ext)
}

func hasFile(dir, name string) bool {
	path := filepath.Join(dir, name)
	_, err := os.Stat(path)
	return err == nil
}
