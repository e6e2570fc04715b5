package ui

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	// Decoders for backdrop images.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dshills/addonhost/internal/frame"
)

// imageCache decodes each backdrop file once.
type imageCache struct {
	mu     sync.Mutex
	images map[string]image.Image
}

func newImageCache() *imageCache {
	return &imageCache{images: make(map[string]image.Image)}
}

func (c *imageCache) load(path string) (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if img, ok := c.images[path]; ok {
		return img, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	c.images[path] = img
	return img, nil
}

// forget drops cached images under dir, used when an addon is reloaded.
func (c *imageCache) forget(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := filepath.Clean(dir) + string(filepath.Separator)
	for path := range c.images {
		if strings.HasPrefix(path, prefix) {
			delete(c.images, path)
		}
	}
}

// resolveUnder joins a file reference onto dir and rejects results that
// leave dir. Both separator styles are accepted in ref.
func resolveUnder(dir, ref string) (string, error) {
	ref = strings.ReplaceAll(ref, `\`, "/")
	path := filepath.Join(dir, filepath.FromSlash(ref))

	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideAddon, ref)
	}
	return path, nil
}

// backdrop builds a frame backdrop from a backdrop declaration.
// edgeSize > 0 selects nine-patch with uniform insets, otherwise stretch.
func (in *Instantiator) backdrop(n *node, dir string) (*frame.Backdrop, error) {
	ref, ok := n.attr("file", "bgFile", "texture")
	if !ok || ref == "" {
		return nil, fmt.Errorf("%w: backdrop without file", ErrInvalidAttribute)
	}

	edge, err := floatAttr(n, 0, "edgeSize")
	if err != nil {
		return nil, err
	}
	tile, err := boolAttr(n, false, "tile")
	if err != nil {
		return nil, err
	}

	path, err := resolveUnder(dir, ref)
	if err != nil {
		return nil, err
	}
	img, err := in.images.load(path)
	if err != nil {
		return nil, err
	}

	bd := &frame.Backdrop{
		Source: path,
		Image:  img,
		Mode:   frame.FillStretch,
		Tile:   tile,
	}
	if edge > 0 {
		bd.Mode = frame.FillNinePatch
		bd.Insets = frame.Uniform(edge)
	}
	return bd, nil
}
