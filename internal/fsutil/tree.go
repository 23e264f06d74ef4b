package fsutil

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

const pathSeparator = string(filepath.Separator)

var skipModes = os.ModeDevice | os.ModeNamedPipe | os.ModeSocket | os.ModeCharDevice

// TreeFingerprint returns a deterministic hash of the directory rooted at
// pathname, for callers that cannot trust a file's mtime alone (the build
// layer's fast-path Fingerprint uses mtimes and does not call it). Breadth-first,
// ignores vendor/VCS directories, and includes pathnames (relative to
// pathname) so renames change the fingerprint even when content doesn't.
func TreeFingerprint(pathname string) (string, error) {
	h := sha256.New()
	root := filepath.Clean(pathname)
	prefixLen := len(root) + len(pathSeparator)

	queue := []string{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		fi, err := os.Lstat(p)
		if err != nil {
			return "", errors.Wrapf(err, "fsutil: lstat %s", p)
		}
		mode := fi.Mode()
		if mode&skipModes != 0 {
			continue
		}

		rel := p
		if len(p) > prefixLen {
			rel = p[prefixLen:]
		} else {
			rel = ""
		}
		h.Write([]byte(rel))

		if mode&os.ModeSymlink != 0 {
			target, err := os.Readlink(p)
			if err != nil {
				return "", errors.Wrapf(err, "fsutil: readlink %s", p)
			}
			h.Write([]byte(target))
			continue
		}

		if fi.IsDir() {
			entries, err := os.ReadDir(p)
			if err != nil {
				return "", errors.Wrapf(err, "fsutil: readdir %s", p)
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			sort.Strings(names)
			for _, name := range names {
				switch name {
				case "vendor", ".bzr", ".git", ".hg", ".svn":
				default:
					queue = append(queue, filepath.Join(p, name))
				}
			}
			continue
		}

		f, err := os.Open(p)
		if err != nil {
			return "", errors.Wrapf(err, "fsutil: open %s", p)
		}
		h.Write([]byte(strconv.FormatInt(fi.Size(), 10)))
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", errors.Wrapf(err, "fsutil: read %s", p)
		}
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
