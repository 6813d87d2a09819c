package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/annel0/slime-worlds/internal/slime"
)

const worldFileExt = ".slime"

// FileLoader stores every world as <root>/<name>.slime.
// Writes go to a temporary file in the same directory and are renamed into place.
type FileLoader struct {
	fs afero.Fs
}

// NewFileLoader creates the root directory if needed and returns a loader rooted there.
func NewFileLoader(root string) (*FileLoader, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absRoot, 0750); err != nil {
		return nil, ioErr("mkdir", "", err)
	}
	return &FileLoader{fs: afero.NewBasePathFs(afero.NewOsFs(), absRoot)}, nil
}

// NewFileLoaderWithFs uses a custom afero.Fs, e.g. afero.NewMemMapFs() in tests.
func NewFileLoaderWithFs(fs afero.Fs) *FileLoader {
	return &FileLoader{fs: fs}
}

func worldPath(name string) string {
	return "/" + name + worldFileExt
}

func (f *FileLoader) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	_, err := f.fs.Stat(worldPath(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, ioErr("stat", name, err)
}

func (f *FileLoader) List(ctx context.Context) ([]string, error) {
	entries, err := afero.ReadDir(f.fs, "/")
	if err != nil {
		return nil, ioErr("list", "", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), worldFileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), worldFileExt))
	}
	return names, nil
}

func (f *FileLoader) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(f.fs, worldPath(name))
	if os.IsNotExist(err) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, ioErr("read", name, err)
	}
	if !slime.HasMagic(data) {
		return nil, fmt.Errorf("%w: %s is not a world file", slime.ErrCorruptedWorld, name+worldFileExt)
	}
	return data, nil
}

func (f *FileLoader) Write(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	// имя временного файла не оканчивается на .slime, поэтому List его не видит
	tmp := worldPath(name) + ".tmp-" + uuid.NewString()
	if err := f.writeTemp(tmp, data); err != nil {
		_ = f.fs.Remove(tmp)
		return ioErr("write", name, err)
	}
	if err := f.fs.Rename(tmp, worldPath(name)); err != nil {
		_ = f.fs.Remove(tmp)
		return ioErr("rename", name, err)
	}
	return nil
}

func (f *FileLoader) writeTemp(path string, data []byte) error {
	file, err := f.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0640)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (f *FileLoader) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	err := f.fs.Remove(worldPath(name))
	if os.IsNotExist(err) {
		return notFound(name)
	}
	if err != nil {
		return ioErr("delete", name, err)
	}
	return nil
}

func (f *FileLoader) Close() error { return nil }
