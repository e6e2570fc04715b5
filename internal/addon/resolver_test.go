package addon

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// addonDir creates root/name with the given files.
func addonDir(t *testing.T, root, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for rel, content := range files {
		writeFile(t, filepath.Join(dir, filepath.FromSlash(rel)), content)
	}
	return dir
}

func join(dir string, rels ...string) []string {
	out := make([]string, len(rels))
	for i, rel := range rels {
		out[i] = filepath.Join(dir, filepath.FromSlash(rel))
	}
	return out
}

func TestResolveManifestOrder(t *testing.T) {
	dir := addonDir(t, t.TempDir(), "Foo", map[string]string{
		"Foo.manifest": "# load order\n\n" +
			"init.script  extra tokens\n" +
			"missing.script\n" +
			"readme.txt\n" +
			"sub\\main.script\n" +
			"../outside.script\n" +
			"   last.SCRIPT\n" +
			"..util.script\n",
		"init.script":     "",
		"sub/main.script": "",
		"last.SCRIPT":     "",
		"..util.script":   "",
		"readme.txt":      "",
	})

	res, err := NewResolver().Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := join(dir, "init.script", "sub/main.script", "last.SCRIPT", "..util.script")
	if !slices.Equal(res.Files, want) {
		t.Errorf("Files = %v, want %v", res.Files, want)
	}
	if res.Manifest != filepath.Join(dir, "Foo.manifest") {
		t.Errorf("Manifest = %q", res.Manifest)
	}

	if len(res.Warnings) != 2 {
		t.Fatalf("Warnings = %v, want 2", res.Warnings)
	}
	var re *ResolveError
	if !errors.As(res.Warnings[0], &re) || !errors.Is(re, os.ErrNotExist) {
		t.Errorf("Warnings[0] = %v, want missing file", res.Warnings[0])
	}
}

func TestResolvePrefersNamedManifest(t *testing.T) {
	dir := addonDir(t, t.TempDir(), "Foo", map[string]string{
		"aaa.manifest": "a.script\n",
		"FOO.MANIFEST": "b.script\n",
		"a.script":     "",
		"b.script":     "",
	})

	res, err := NewResolver().Resolve(dir)
	if err != nil {
		t.Fatal(err)
	}
	if want := join(dir, "b.script"); !slices.Equal(res.Files, want) {
		t.Errorf("Files = %v, want %v", res.Files, want)
	}
}

func TestResolveAnyManifest(t *testing.T) {
	dir := addonDir(t, t.TempDir(), "Foo", map[string]string{
		"other.manifest": "a.script\n",
		"a.script":       "",
		"b.script":       "",
	})

	res, err := NewResolver().Resolve(dir)
	if err != nil {
		t.Fatal(err)
	}
	if want := join(dir, "a.script"); !slices.Equal(res.Files, want) {
		t.Errorf("Files = %v, want %v", res.Files, want)
	}
}

func TestResolveFallbackScan(t *testing.T) {
	dir := addonDir(t, t.TempDir(), "Foo", map[string]string{
		"z.script":         "",
		"a/b.script":       "",
		"B.script":         "",
		"libs/l.script":    "",
		"notes.txt":        "",
		"deep/er/c.script": "",
	})

	r := NewResolver()
	first, err := r.Resolve(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := join(dir, "B.script", "a/b.script", "deep/er/c.script", "z.script")
	if !slices.Equal(first.Files, want) {
		t.Errorf("Files = %v, want %v", first.Files, want)
	}
	if first.Manifest != "" || len(first.Warnings) != 0 {
		t.Errorf("Resolve() = %+v, want plain scan", first)
	}

	second, _ := r.Resolve(dir)
	if !slices.Equal(first.Files, second.Files) {
		t.Error("scan order is not deterministic")
	}
}

func TestResolveErrors(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file.script")
	writeFile(t, file, "")

	if _, err := NewResolver().Resolve(filepath.Join(root, "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Resolve(missing) error = %v, want not-exist", err)
	}
	if _, err := NewResolver().Resolve(file); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("Resolve(file) error = %v, want ErrNotDirectory", err)
	}
}

func TestLibraries(t *testing.T) {
	dir := addonDir(t, t.TempDir(), "Foo", map[string]string{
		"Libs/x/2.script":    "",
		"Libs/1.script":      "",
		"libraries/a.script": "",
		"vendor/v.script":    "",
		"main.script":        "",
		"Libs/readme.md":     "",
	})

	libs, err := NewResolver().Libraries(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := join(dir, "Libs/1.script", "Libs/x/2.script", "libraries/a.script")
	if !slices.Equal(libs, want) {
		t.Errorf("Libraries() = %v, want %v", libs, want)
	}
}

func TestUIFiles(t *testing.T) {
	dir := addonDir(t, t.TempDir(), "Foo", map[string]string{
		"ui/b.xml":    "",
		"a.XML":       "",
		"lib/c.xml":   "",
		"main.script": "",
	})

	files, err := NewResolver().UIFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if want := join(dir, "a.XML", "ui/b.xml"); !slices.Equal(files, want) {
		t.Errorf("UIFiles() = %v, want %v", files, want)
	}
}
