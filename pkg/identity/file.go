package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/aretw0/trail/pkg/core"
)

// ResolveFile returns the identity of the file at path using the configured hash mode.
func (r *Resolver) ResolveFile(path string) (core.FileEntity, error) {
	var (
		hash string
		err  error
	)
	switch r.config.FileHashMode {
	case HashAttributes:
		hash, err = r.attributeHash(path)
	default:
		hash, err = r.contentHash(path)
	}
	if err != nil {
		return core.FileEntity{}, err
	}
	mode := string(r.config.FileHashMode)
	return core.FileEntity{
		ID:       core.FileURN(mode, hash, path),
		Path:     path,
		Hash:     hash,
		HashType: mode,
	}, nil
}

func (r *Resolver) contentHash(path string) (string, error) {
	f, err := r.config.FS.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// attributeHash hashes absolute path, size and modification time.
func (r *Resolver) attributeHash(path string) (string, error) {
	info, err := r.config.FS.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d\x00%d", abs, info.Size(), info.ModTime().UnixNano())))
	return hex.EncodeToString(sum[:]), nil
}

// HashFile returns the SHA-256 of a file's content on fsys.
func HashFile(fsys afero.Fs, path string) (string, error) {
	r := &Resolver{config: Config{FS: fsys}}
	return r.contentHash(path)
}
