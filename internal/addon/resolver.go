package addon

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

// Default file conventions.
const (
	DefaultScriptExt   = ".script"
	DefaultManifestExt = ".manifest"
	DefaultUIExt       = ".xml"
)

// DefaultLibraryDirs are the conventional library folder names.
var DefaultLibraryDirs = []string{"libs", "lib", "libraries"}

// Resolver finds the files that make up an addon folder.
type Resolver struct {
	ScriptExt   string
	ManifestExt string
	UIExt       string
	LibraryDirs []string
}

// NewResolver returns a resolver with the default conventions.
func NewResolver() *Resolver {
	return &Resolver{
		ScriptExt:   DefaultScriptExt,
		ManifestExt: DefaultManifestExt,
		UIExt:       DefaultUIExt,
		LibraryDirs: DefaultLibraryDirs,
	}
}

// Resolution is the ordered script list for an addon.
type Resolution struct {
	// Manifest is the manifest used, empty when the folder was scanned.
	Manifest string
	// Files are absolute script paths in execution order.
	Files []string
	// Warnings are non-fatal resolve errors, such as missing entries.
	Warnings []error
}

// Resolve determines the addon's script files. A manifest named after the
// folder wins, then any manifest, then every script under the folder in
// path order. Library folders are excluded from the scan; they are loaded
// separately by Libraries.
func (r *Resolver) Resolve(dir string) (Resolution, error) {
	dir, err := r.checkDir(dir)
	if err != nil {
		return Resolution{}, err
	}

	manifest, err := r.findManifest(dir)
	if err != nil {
		return Resolution{}, err
	}
	var warnings []error
	if manifest != "" {
		res, err := r.parseManifest(dir, manifest)
		if err == nil {
			return res, nil
		}
		// unreadable manifest: fall back to the scan
		warnings = append(warnings, err)
	}

	files, err := r.scan(dir, r.ScriptExt, true)
	if err != nil {
		return Resolution{}, &ResolveError{Addon: filepath.Base(dir), Path: dir, Err: err}
	}
	return Resolution{Files: files, Warnings: warnings}, nil
}

// Libraries returns the script files of the addon's library folders in
// path order. Only immediate subfolders are considered.
func (r *Resolver) Libraries(dir string) ([]string, error) {
	dir, err := r.checkDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, lib := range r.libraryDirs(dir) {
		found, err := r.scan(lib, r.ScriptExt, false)
		if err != nil {
			return nil, &ResolveError{Addon: filepath.Base(dir), Path: lib, Err: err}
		}
		files = append(files, found...)
	}
	slices.Sort(files)
	return files, nil
}

// UIFiles returns the declarative UI files under the addon folder in path
// order, excluding library folders.
func (r *Resolver) UIFiles(dir string) ([]string, error) {
	dir, err := r.checkDir(dir)
	if err != nil {
		return nil, err
	}
	files, err := r.scan(dir, r.UIExt, true)
	if err != nil {
		return nil, &ResolveError{Addon: filepath.Base(dir), Path: dir, Err: err}
	}
	return files, nil
}

func (r *Resolver) checkDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", &ResolveError{Addon: filepath.Base(dir), Path: dir, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", &ResolveError{Addon: filepath.Base(abs), Path: abs, Err: err}
	}
	if !info.IsDir() {
		return "", &ResolveError{Addon: filepath.Base(abs), Path: abs, Err: ErrNotDirectory}
	}
	return abs, nil
}

// findManifest prefers <name><ext>, matched case-insensitively, over any
// other manifest in the folder root.
func (r *Resolver) findManifest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", &ResolveError{Addon: filepath.Base(dir), Path: dir, Err: err}
	}

	want := filepath.Base(dir) + r.ManifestExt
	var fallback string
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), r.ManifestExt) {
			continue
		}
		if foldEqual(e.Name(), want) {
			return filepath.Join(dir, e.Name()), nil
		}
		if fallback == "" {
			fallback = filepath.Join(dir, e.Name())
		}
	}
	return fallback, nil
}

// parseManifest reads one file reference per line. Blank lines and lines
// starting with # are skipped; tokens after the first are ignored.
func (r *Resolver) parseManifest(dir, manifest string) (Resolution, error) {
	name := filepath.Base(dir)
	data, err := os.ReadFile(manifest)
	if err != nil {
		return Resolution{}, &ResolveError{Addon: name, Path: manifest, Err: err}
	}

	res := Resolution{Manifest: manifest}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ref := strings.Fields(line)[0]
		if !hasExt(ref, r.ScriptExt) {
			continue
		}

		ref = filepath.FromSlash(strings.ReplaceAll(ref, `\`, "/"))
		path := filepath.Join(dir, ref)
		if rel, err := filepath.Rel(dir, path); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			res.Warnings = append(res.Warnings, &ResolveError{Addon: name, Path: ref, Err: fmt.Errorf("outside addon folder")})
			continue
		}

		info, err := os.Stat(path)
		switch {
		case err != nil:
			res.Warnings = append(res.Warnings, &ResolveError{Addon: name, Path: path, Err: err})
		case info.IsDir():
			res.Warnings = append(res.Warnings, &ResolveError{Addon: name, Path: path, Err: errors.New("is a directory")})
		default:
			res.Files = append(res.Files, path)
		}
	}
	if err := sc.Err(); err != nil {
		return res, &ResolveError{Addon: name, Path: manifest, Err: err}
	}
	return res, nil
}

// scan returns files with ext under root, sorted by path.
func (r *Resolver) scan(root, ext string, skipLibraries bool) ([]string, error) {
	var skip []string
	if skipLibraries {
		skip = r.libraryDirs(root)
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if slices.Contains(skip, path) {
				return filepath.SkipDir
			}
			return nil
		}
		if hasExt(d.Name(), ext) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

// libraryDirs returns the immediate subfolders of dir whose name matches a
// library folder name, sorted by path.
func (r *Resolver) libraryDirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		for _, lib := range r.LibraryDirs {
			if foldEqual(e.Name(), lib) {
				out = append(out, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	slices.Sort(out)
	return out
}

func hasExt(name, ext string) bool {
	return ext != "" && strings.EqualFold(filepath.Ext(name), ext)
}

func foldEqual(a, b string) bool {
	fold := cases.Fold()
	return fold.String(a) == fold.String(b)
}
