package settings

import (
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// ErrTemplateMissing is returned when neither the settings file nor its
// template exists.
var ErrTemplateMissing = errors.New("settings template not found")

// FileMode is used for the settings file; it holds secrets.
const FileMode os.FileMode = 0o600

// File is the settings artifact of one project.
type File struct {
	fs         billy.Filesystem
	projectDir string
}

// NewFile returns the settings artifact under projectDir.
func NewFile(fs billy.Filesystem, projectDir string) *File {
	return &File{fs: fs, projectDir: projectDir}
}

// Path returns the absolute path of the settings file.
func (f *File) Path() string {
	return path.Join(f.projectDir, LocalPath)
}

// TemplatePath returns the absolute path of the template.
func (f *File) TemplatePath() string {
	return path.Join(f.projectDir, TemplatePath)
}

// Exists reports whether the settings file exists.
func (f *File) Exists() bool {
	_, err := f.fs.Stat(f.Path())
	return err == nil
}

// HasTemplate reports whether the template exists.
func (f *File) HasTemplate() bool {
	_, err := f.fs.Stat(f.TemplatePath())
	return err == nil
}

// Read returns the settings file content.
func (f *File) Read() (string, error) {
	data, err := util.ReadFile(f.fs, f.Path())
	if err != nil {
		return "", fmt.Errorf("read settings: %w", err)
	}
	return string(data), nil
}

// Write replaces the settings file through a temporary file and rename.
func (f *File) Write(content string) error {
	tmp := f.Path() + ".tmp"
	if err := util.WriteFile(f.fs, tmp, []byte(content), FileMode); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := f.fs.Rename(tmp, f.Path()); err != nil {
		_ = f.fs.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// CreateFromTemplate copies the template into place when the settings file
// is missing. It reports whether a file was created.
func (f *File) CreateFromTemplate() (bool, error) {
	if f.Exists() {
		return false, nil
	}
	data, err := util.ReadFile(f.fs, f.TemplatePath())
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrTemplateMissing, f.TemplatePath())
	}
	if err := f.Write(string(data)); err != nil {
		return false, err
	}
	return true, nil
}

// Mutate applies mutations and writes the file only when it changed.
func (f *File) Mutate(muts ...Mutation) (bool, []string, error) {
	content, err := f.Read()
	if err != nil {
		return false, nil, err
	}
	out, changed, anomalies := ApplyAll(content, muts...)
	if !changed {
		return false, anomalies, nil
	}
	if err := f.Write(out); err != nil {
		return false, anomalies, err
	}
	return true, anomalies, nil
}

// Pending reports whether any mutation would change the file.
func (f *File) Pending(muts ...Mutation) (bool, error) {
	content, err := f.Read()
	if err != nil {
		return false, err
	}
	_, changed, _ := ApplyAll(content, muts...)
	return changed, nil
}
