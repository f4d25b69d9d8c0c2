package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileProvider reads certificates from a directory, for local development.
// A name resolves to the first of name, name.pem or name.pfx that exists.
type FileProvider struct {
	Dir string
}

func (p *FileProvider) GetCertificate(ctx context.Context, name string) ([]byte, error) {
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid certificate name %q", name)
	}

	for _, candidate := range []string{name, name + ".pem", name + ".pfx"} {
		data, err := os.ReadFile(filepath.Join(p.Dir, candidate))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read certificate %q: %w", name, err)
		}
		return data, nil
	}

	return nil, ErrNotFound
}
