package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/HerbHall/stbemu/pkg/plugin"
)

// Result is one descriptor found during discovery. Err is set when the
// file was found but could not be parsed.
type Result struct {
	Path       string
	Descriptor plugin.Descriptor
	Err        error
}

// DiscoverDir scans a plugin directory on disk. A missing directory is
// reported as plugin.ErrDirectoryNotFound.
func DiscoverDir(dir string) ([]Result, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", plugin.ErrDirectoryNotFound, dir)
	}
	results, err := DiscoverFS(os.DirFS(dir), ".")
	for i := range results {
		results[i].Descriptor.Source = filepath.Join(dir, filepath.FromSlash(results[i].Path))
	}
	return results, err
}

// DiscoverFS scans root inside fsys for descriptor files: *.json, *.yaml and
// *.yml at the top level, plus plugin.json / plugin.yaml one level down.
// Results are sorted by path so discovery order is stable.
func DiscoverFS(fsys fs.FS, root string) ([]Result, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", plugin.ErrDirectoryNotFound, root)
		}
		return nil, fmt.Errorf("read plugin dir %s: %w", root, err)
	}

	var paths []string
	for _, e := range entries {
		name := path.Join(root, e.Name())
		if e.IsDir() {
			for _, candidate := range []string{"plugin.json", "plugin.yaml", "plugin.yml"} {
				p := path.Join(name, candidate)
				if _, err := fs.Stat(fsys, p); err == nil {
					paths = append(paths, p)
					break
				}
			}
			continue
		}
		if _, err := FormatFor(e.Name()); err == nil {
			paths = append(paths, name)
		}
	}
	sort.Strings(paths)

	results := make([]Result, 0, len(paths))
	for _, p := range paths {
		results = append(results, load(fsys, p))
	}
	return results, nil
}

func load(fsys fs.FS, p string) Result {
	r := Result{Path: p}
	format, err := FormatFor(p)
	if err != nil {
		r.Err = err
		return r
	}
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		r.Err = fmt.Errorf("read descriptor %s: %w", p, err)
		return r
	}
	d, err := Parse(data, format)
	d.Source = p
	r.Descriptor = d
	if err != nil {
		r.Err = fmt.Errorf("%s: %w", p, err)
	}
	return r
}
