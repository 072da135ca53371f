// Package git reads repository state through the git command line so a run
// can be stamped with the commit of the script that produced it.
package git

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNotInstalled is returned when no git binary is on PATH.
var ErrNotInstalled = errors.New("git is not installed")

// DirtySuffix marks a version whose script has uncommitted changes.
const DirtySuffix = "-dirty"

// Client runs git commands in a working directory.
type Client struct {
	WorkDir string
	Logger  *slog.Logger
}

// NewClient creates a new git client for the given working directory.
func NewClient(workDir string, logger *slog.Logger) *Client {
	return &Client{
		WorkDir: workDir,
		Logger:  logger,
	}
}

// IsInstalled reports whether a git binary is available.
func IsInstalled() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// Run executes a raw git command in the working directory.
func (c *Client) Run(args ...string) (string, error) {
	if !IsInstalled() {
		return "", ErrNotInstalled
	}
	if c.Logger != nil {
		c.Logger.Debug("executing git", "args", args, "dir", c.WorkDir)
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = c.WorkDir

	out, err := cmd.CombinedOutput()
	output := string(out)

	if err != nil {
		return output, fmt.Errorf("git %s failed: %w\nOutput: %s", args[0], err, output)
	}

	return strings.TrimSpace(output), nil
}

// Init initializes a new git repository. Re-running it is harmless.
func (c *Client) Init() error {
	_, err := c.Run("init")
	return err
}

// Add adds files to the stage.
func (c *Client) Add(files ...string) error {
	if len(files) == 0 {
		return nil
	}
	args := append([]string{"add"}, files...)
	_, err := c.Run(args...)
	return err
}

// Commit records changes to the repository.
func (c *Client) Commit(msg string) error {
	_, err := c.Run("-c", "user.name=trail", "-c", "user.email=trail@localhost", "commit", "-m", msg)
	return err
}

// Status returns the porcelain status of the given paths, or of the whole
// repository when none are given.
func (c *Client) Status(paths ...string) (string, error) {
	args := []string{"status", "--porcelain"}
	if len(paths) > 0 {
		args = append(append(args, "--"), paths...)
	}
	return c.Run(args...)
}

// IsRepo reports whether the working directory is inside a work tree.
func (c *Client) IsRepo() bool {
	out, err := c.Run("rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Head returns the commit hash of HEAD.
func (c *Client) Head() (string, error) {
	return c.Run("rev-parse", "HEAD")
}

// Versioner returns a function that versions a script by the HEAD of the
// repository holding it, suffixed with DirtySuffix when the script has
// uncommitted changes. Scripts outside a repository, or on a machine
// without git, have no version and no error.
func Versioner(logger *slog.Logger) func(scriptPath string) (string, error) {
	return func(scriptPath string) (string, error) {
		if !IsInstalled() {
			return "", nil
		}
		abs, err := filepath.Abs(scriptPath)
		if err != nil {
			return "", err
		}
		c := NewClient(filepath.Dir(abs), logger)
		if !c.IsRepo() {
			return "", nil
		}
		head, err := c.Head()
		if err != nil {
			// A repository without commits has no HEAD yet.
			return "", nil
		}
		status, err := c.Status(filepath.Base(abs))
		if err != nil {
			return "", err
		}
		if status != "" {
			head += DirtySuffix
		}
		return head, nil
	}
}
