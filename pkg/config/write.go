package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tom-jm69/cs-medal-parser/pkg/fsutil"
)

// ErrExists is returned by WriteDefault when the target file is present.
var ErrExists = errors.New("config file already exists")

// WriteDefault writes Defaults() as YAML to path. It never overwrites.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var body yaml.Node
	if err := body.Encode(Defaults()); err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "# cs-medal-parser configuration.\n# Every key can be overridden with " + EnvPrefix + "_<KEY>, dots become underscores.",
		Content:     []*yaml.Node{&body},
	}

	return fsutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
		return enc.Close()
	})
}
