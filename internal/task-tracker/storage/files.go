package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// AllowedExtensions lists the attachment types accepted on upload.
var AllowedExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true,
	"pdf": true, "txt": true,
	"doc": true, "docx": true,
	"xls": true, "xlsx": true,
}

var ErrInvalidFilename = errors.New("invalid filename")

// FileStore keeps task attachments under Root/task_<id>/.
type FileStore struct {
	Root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

// Allowed reports whether filename carries an allow-listed extension.
func Allowed(filename string) bool {
	i := strings.LastIndex(filename, ".")
	if i < 0 || i == len(filename)-1 {
		return false
	}
	return AllowedExtensions[strings.ToLower(filename[i+1:])]
}

var (
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// SecureFilename reduces an uploaded name to a plain ASCII base name that
// cannot escape the task directory. It may return "".
func SecureFilename(name string) string {
	name = strings.NewReplacer("/", " ", `\`, " ").Replace(name)
	name = whitespace.ReplaceAllString(strings.TrimSpace(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	return strings.TrimLeft(name, "._")
}

// TaskDir returns the upload directory of a task, creating it when missing.
func (s *FileStore) TaskDir(taskID uint) (string, error) {
	dir := s.taskDir(taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir for task %d: %w", taskID, err)
	}
	return dir, nil
}

// Path resolves a stored attachment; filename must already be a secure name.
func (s *FileStore) Path(taskID uint, filename string) (string, error) {
	if filename == "" || SecureFilename(filename) != filename {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return filepath.Join(s.taskDir(taskID), filename), nil
}

// Remove deletes one attachment; a file already gone is not an error.
func (s *FileStore) Remove(taskID uint, filename string) error {
	path, err := s.Path(taskID, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// RemoveTaskDir deletes every attachment of a task.
func (s *FileStore) RemoveTaskDir(taskID uint) error {
	if err := os.RemoveAll(s.taskDir(taskID)); err != nil {
		return fmt.Errorf("remove upload dir for task %d: %w", taskID, err)
	}
	return nil
}

func (s *FileStore) taskDir(taskID uint) string {
	return filepath.Join(s.Root, fmt.Sprintf("task_%d", taskID))
}
