package launcher

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// Locator finds the directory holding the compose descriptor by walking up
// from a start directory.
type Locator struct {
	fs    billy.Filesystem
	names []string
}

// NewLocator returns a Locator over the host filesystem that accepts any of
// the given descriptor file names.
func NewLocator(names []string) *Locator {
	return NewLocatorFS(osfs.New("/"), names)
}

// NewLocatorFS is NewLocator over an arbitrary billy filesystem rooted at "/".
func NewLocatorFS(fs billy.Filesystem, names []string) *Locator {
	return &Locator{fs: fs, names: names}
}

// Locate returns the first directory, starting at start itself, that contains
// a regular file with one of the descriptor names. When the root is reached
// without a match it returns start unchanged; a missing descriptor is not an
// error, the launch will simply be attempted there.
func (l *Locator) Locate(start string) string {
	start = filepath.Clean(start)

	for dir := start; ; {
		for _, name := range l.names {
			if l.isFile(filepath.Join(dir, name)) {
				slog.Debug("compose descriptor found", "dir", dir, "file", name)
				return dir
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	slog.Debug("no compose descriptor in ancestor chain", "start", start)
	return start
}

func (l *Locator) isFile(path string) bool {
	info, err := l.fs.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("stat compose descriptor", "path", path, "err", err)
		}
		return false
	}
	return info.Mode().IsRegular()
}
