package keys

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/filex"
)

// FileStore keeps the slot in a single file readable only by its owner.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(context.Context) (string, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("read key file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Save replaces the key file atomically with owner-only permissions.
func (f *FileStore) Save(_ context.Context, value string) error {
	if err := filex.WriteAtomic(f.path, []byte(value), 0o600); err != nil {
		return fmt.Errorf("save key file: %w", err)
	}
	return nil
}
