package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Load reads and parses the manifest at path.
// It is the only function in this package that touches the filesystem.
func Load(path string, opts ParseOptions) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewManifestError(path, "file does not exist", ErrManifestNotFound)
		}
		return nil, NewManifestError(path, fmt.Sprintf("read failed: %v", err), ErrManifestNotFound)
	}
	opts.Path = path
	return Parse(content, opts)
}
