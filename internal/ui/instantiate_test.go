package ui

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/addonhost/internal/frame"
)

var testOwner = frame.Owner{Name: "Foo", Instance: "i1"}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

type bindings map[string]frame.ID

func (b bindings) ExposeFrame(name string, id frame.ID) error {
	b[name] = id
	return nil
}

type recordingPresenter struct {
	updates []frame.ID
}

func (p *recordingPresenter) UpdateVisual(f frame.Frame) { p.updates = append(p.updates, f.ID) }
func (p *recordingPresenter) RemoveVisual(frame.ID)      {}

func load(t *testing.T, dir, xml string) (*frame.Registry, []frame.ID, error) {
	t.Helper()
	path := filepath.Join(dir, "ui.xml")
	writeFile(t, path, xml)
	reg := frame.NewRegistry(1000, 800)
	ids, err := New(reg, nil).LoadFile(dir, path, testOwner, nil)
	return reg, ids, err
}

func mustGet(t *testing.T, reg *frame.Registry, id frame.ID) frame.Frame {
	t.Helper()
	f, ok := reg.Get(id)
	if !ok {
		t.Fatalf("frame %s not registered", id)
	}
	return f
}

func TestBackdropModes(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "textures", "bg.png"))

	reg, ids, err := load(t, dir, `<Ui>
		<Frame name="Nine" width="100" height="50">
			<Backdrop file="textures/bg.png" edgeSize="8" tile="true"/>
		</Frame>
		<Frame name="Plain">
			<Backdrop file="textures\bg.png"/>
		</Frame>
	</Ui>`)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("LoadFile() = %d frames, want 2", len(ids))
	}

	nine := mustGet(t, reg, ids[0]).Backdrop
	if nine == nil || nine.Image == nil {
		t.Fatal("nine-patch frame has no backdrop image")
	}
	if nine.Mode != frame.FillNinePatch || nine.Insets != frame.Uniform(8) || !nine.Tile {
		t.Errorf("backdrop = %+v, want nine-patch with insets 8 and tile", nine)
	}

	plain := mustGet(t, reg, ids[1]).Backdrop
	if plain == nil || plain.Mode != frame.FillStretch || plain.Insets != (frame.Insets{}) {
		t.Errorf("backdrop = %+v, want stretch", plain)
	}
	if plain.Image != nine.Image {
		t.Error("same file decoded twice")
	}
}

func TestGeometryAndText(t *testing.T) {
	reg, ids, err := load(t, t.TempDir(), `<Ui>
		<Frame width="200" height="100">
			<Anchors><Anchor x="10" y="20"/></Anchors>
			<Text value="Hello"/>
		</Frame>
		<Frame width="20" height="10" hidden="true">
			<FontString>  Label text  </FontString>
		</Frame>
		<Frame width="100" height="50">
			<Anchor point="CENTER" y="10"/>
		</Frame>
		<Frame>
			<Anchor point="BOTTOMRIGHT"><Offset><AbsDimension x="-5" y="-5"/></Offset></Anchor>
		</Frame>
	</Ui>`)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(ids) != 4 {
		t.Fatalf("LoadFile() = %d frames, want 4", len(ids))
	}

	tests := []struct {
		x, y, w, h float64
		visible    bool
		text       string
	}{
		{10, 20, 200, 100, true, "Hello"},
		{0, 0, 20, 10, false, "Label text"},
		{450, 385, 100, 50, true, ""},
		{995, 795, 0, 0, true, ""},
	}
	for i, tt := range tests {
		f := mustGet(t, reg, ids[i])
		if f.X != tt.x || f.Y != tt.y || f.Width != tt.w || f.Height != tt.h {
			t.Errorf("frame %d geometry = (%v,%v %vx%v), want (%v,%v %vx%v)",
				i, f.X, f.Y, f.Width, f.Height, tt.x, tt.y, tt.w, tt.h)
		}
		if f.Visible != tt.visible || f.Text != tt.text {
			t.Errorf("frame %d visible=%v text=%q, want %v %q", i, f.Visible, f.Text, tt.visible, tt.text)
		}
		if f.Owner != testOwner {
			t.Errorf("frame %d owner = %+v", i, f.Owner)
		}
	}
}

func TestBadElementDoesNotStopSiblings(t *testing.T) {
	reg, ids, err := load(t, t.TempDir(), `<Ui>
		<Frame name="Bad" width="wide"/>
		<Frame name="Good" width="5"/>
		<Frame name="BadAnchor"><Anchor point="NOWHERE"/></Frame>
	</Ui>`)

	if len(ids) != 1 || mustGet(t, reg, ids[0]).Width != 5 {
		t.Fatalf("ids = %v, want only the good frame", ids)
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want ParseError", err)
	}
	if pe.Element != `Frame "Bad"` || pe.Line != 2 {
		t.Errorf("ParseError = %+v", pe)
	}
	if !errors.Is(err, ErrInvalidAttribute) || !errors.Is(err, frame.ErrInvalidAnchor) {
		t.Errorf("error = %v, want both failures reported", err)
	}
	if reg.Len() != 1 {
		t.Errorf("registry holds %d frames, want 1", reg.Len())
	}
}

func TestNegativeSizeRejected(t *testing.T) {
	reg, ids, err := load(t, t.TempDir(), `<Ui>
		<Frame name="Wide" width="-10" height="5"/>
		<Frame name="Tall" width="10" height="-5"/>
		<Frame name="Flat" width="10" height="0"/>
	</Ui>`)

	if len(ids) != 1 || mustGet(t, reg, ids[0]).Width != 10 {
		t.Fatalf("ids = %v, want only the zero-height frame", ids)
	}
	if !errors.Is(err, frame.ErrNegativeSize) {
		t.Errorf("error = %v, want ErrNegativeSize", err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Element != `Frame "Wide"` {
		t.Errorf("first ParseError = %+v", pe)
	}
}

func TestMissingImageKeepsFrame(t *testing.T) {
	reg, ids, err := load(t, t.TempDir(), `<Ui>
		<Frame width="5"><Backdrop file="nope.png" edgeSize="4"/></Frame>
	</Ui>`)

	if len(ids) != 1 {
		t.Fatalf("ids = %v, want 1 frame", ids)
	}
	if mustGet(t, reg, ids[0]).Backdrop != nil {
		t.Error("backdrop set despite missing image")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want not-exist", err)
	}
}

func TestImageOutsideAddonRejected(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "secret.png"))
	dir := filepath.Join(root, "Foo")

	_, ids, err := load(t, dir, `<Ui><Frame><Backdrop file="../secret.png"/></Frame></Ui>`)
	if len(ids) != 1 {
		t.Fatalf("ids = %v", ids)
	}
	if !errors.Is(err, ErrOutsideAddon) {
		t.Errorf("error = %v, want ErrOutsideAddon", err)
	}
}

func TestUndecodableImage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.png"), "not an image")

	_, _, err := load(t, dir, `<Ui><Frame><Backdrop file="bad.png"/></Frame></Ui>`)
	if !errors.Is(err, image.ErrFormat) {
		t.Errorf("error = %v, want image.ErrFormat", err)
	}
}

func TestMalformedFile(t *testing.T) {
	_, ids, err := load(t, t.TempDir(), `<Ui><Frame width="1">`)
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Element != "" {
		t.Fatalf("error = %v, want file-level ParseError", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want none", ids)
	}
}

func TestMissingFile(t *testing.T) {
	reg := frame.NewRegistry(10, 10)
	_, err := New(reg, nil).LoadFile(t.TempDir(), "/does/not/exist.xml", testOwner, nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want not-exist", err)
	}
}

func TestNamesAndRelativeAnchors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ui.xml")
	writeFile(t, path, `<Ui>
		<Frame name="Panel" width="200" height="100">
			<Anchor x="100" y="100"/>
			<Button name="$parentClose" width="10" height="10">
				<Anchor point="TOPRIGHT"/>
			</Button>
		</Frame>
		<Frame name="Below" width="50" height="10">
			<Anchor point="TOPLEFT" relativeTo="Panel" relativePoint="BOTTOMLEFT" y="4"/>
		</Frame>
		<Frame name="Orphan"><Anchor relativeTo="Missing"/></Frame>
	</Ui>`)

	reg := frame.NewRegistry(1000, 800)
	p := &recordingPresenter{}
	reg.SetPresenter(p)
	bound := bindings{}
	ids, err := New(reg, nil).LoadFile(dir, path, testOwner, bound)

	if !errors.Is(err, ErrInvalidAttribute) {
		t.Errorf("error = %v, want unknown relativeTo reported", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ids = %v, want 3", ids)
	}
	for _, name := range []string{"Panel", "PanelClose", "Below"} {
		if _, ok := bound[name]; !ok {
			t.Errorf("%s not exposed; got %v", name, bound)
		}
	}

	closeBtn := mustGet(t, reg, bound["PanelClose"])
	if closeBtn.X != 290 || closeBtn.Y != 100 {
		t.Errorf("close at (%v, %v), want (290, 100)", closeBtn.X, closeBtn.Y)
	}
	below := mustGet(t, reg, bound["Below"])
	if below.X != 100 || below.Y != 204 {
		t.Errorf("below at (%v, %v), want (100, 204)", below.X, below.Y)
	}

	// each frame is announced on create and again after construction
	if len(p.updates) != 2*len(ids) {
		t.Errorf("presenter saw %d updates, want %d", len(p.updates), 2*len(ids))
	}
}

func TestResolveUnder(t *testing.T) {
	dir := filepath.Join(string(filepath.Separator), "addons", "Foo")
	tests := []struct {
		ref  string
		want string
		ok   bool
	}{
		{"a.png", filepath.Join(dir, "a.png"), true},
		{`tex\b.png`, filepath.Join(dir, "tex", "b.png"), true},
		{"tex/../c.png", filepath.Join(dir, "c.png"), true},
		{"../Bar/d.png", "", false},
		{"..", "", false},
	}
	for _, tt := range tests {
		got, err := resolveUnder(dir, tt.ref)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("resolveUnder(%q) = %q, %v", tt.ref, got, err)
		}
	}
}
