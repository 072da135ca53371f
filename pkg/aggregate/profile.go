package aggregate

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// ParseProfile reads Options from a YAML profile such as
//
//	attributes: [value_type]
//	by_label:
//	  transform: [shape]
//	use_parameters: true
//	exclude: [FileEntity]
//
// Unknown keys are an error.
func ParseProfile(r io.Reader) (Options, error) {
	var opts Options
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, fmt.Errorf("invalid aggregation profile: %w", err)
	}
	return checked(opts)
}

// ParseTOMLProfile reads Options from a TOML profile with the same keys as
// ParseProfile. Unknown keys are an error.
func ParseTOMLProfile(r io.Reader) (Options, error) {
	var opts Options
	md, err := toml.NewDecoder(r).Decode(&opts)
	if err != nil {
		return Options{}, fmt.Errorf("invalid aggregation profile: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Options{}, fmt.Errorf("invalid aggregation profile: unknown key %s", undecoded[0])
	}
	return checked(opts)
}

func checked(opts Options) (Options, error) {
	if err := validate.Struct(opts); err != nil {
		return Options{}, fmt.Errorf("invalid aggregation profile: %w", err)
	}
	return opts, nil
}

// LoadProfile reads a profile from path, as TOML when it ends in .toml and
// as YAML otherwise.
func LoadProfile(fsys afero.Fs, path string) (Options, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return Options{}, fmt.Errorf("failed to open profile %s: %w", path, err)
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOMLProfile(f)
	}
	return ParseProfile(f)
}
