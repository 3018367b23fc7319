package display

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"ferris-cabinet/internal/game"
	"ferris-cabinet/internal/nfc"
)

func newTestRenderer(t *testing.T, avatars *AvatarCache) *Renderer {
	t.Helper()
	r, err := NewRenderer(RendererConfig{Width: 640, Height: 360, Avatars: avatars})
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}
	return r
}

func testSnapshot() *game.Snapshot {
	return &game.Snapshot{
		TickNumber:  7,
		Mascot:      game.Mascot{X: 100, Y: 0, Yaw: 0},
		WorldWidth:  1280,
		WorldHeight: 720,
		Display:     "No user",
		Controls:    map[string][]string{"P1": {"StickLeft"}},
	}
}

func near(a, b color.Color, tolerance uint32) bool {
	ar, ag, ab, _ := a.RGBA()
	br, bg, bb, _ := b.RGBA()
	diff := func(x, y uint32) uint32 {
		if x > y {
			return x - y
		}
		return y - x
	}
	t := tolerance * 257
	return diff(ar, br) <= t && diff(ag, bg) <= t && diff(ab, bb) <= t
}

// TestNewRendererRejectsBadSize verifies frame size validation
func TestNewRendererRejectsBadSize(t *testing.T) {
	if _, err := NewRenderer(RendererConfig{Width: 0, Height: 100}); err == nil {
		t.Error("Expected error for zero width")
	}
}

// TestToScreen verifies the world → pixel mapping
func TestToScreen(t *testing.T) {
	r := newTestRenderer(t, nil)
	snap := testSnapshot()

	x, y := r.ToScreen(snap, 0, 0)
	if x != 320 || y != 180 {
		t.Errorf("Origin should map to frame center, got (%v, %v)", x, y)
	}

	x, y = r.ToScreen(snap, 640, 360)
	if x != 640 || y != 0 {
		t.Errorf("World corner should map to top-right, got (%v, %v)", x, y)
	}
}

// TestRenderDrawsMascot verifies the mascot body lands at its transform
func TestRenderDrawsMascot(t *testing.T) {
	r := newTestRenderer(t, nil)
	snap := testSnapshot()

	img := r.Render(snap)
	if img.Bounds().Dx() != 640 || img.Bounds().Dy() != 360 {
		t.Fatalf("Unexpected frame size %v", img.Bounds())
	}

	x, y := r.ToScreen(snap, snap.Mascot.X, snap.Mascot.Y)
	// Below the heading line, inside the body
	got := img.At(int(x), int(y)+MascotRadius/2)
	if !near(got, ColorMascot, 8) {
		t.Errorf("Expected mascot color at body, got %v", got)
	}

	corner := img.At(2, 180)
	if near(corner, ColorMascot, 8) {
		t.Error("Mascot color should not appear far from the mascot")
	}
}

// TestRenderHeadingFollowsYaw verifies the heading line rotates with yaw
func TestRenderHeadingFollowsYaw(t *testing.T) {
	r := newTestRenderer(t, nil)
	snap := testSnapshot()
	snap.Mascot.Yaw = math.Pi / 2 // pointing up

	img := r.Render(snap)
	x, y := r.ToScreen(snap, snap.Mascot.X, snap.Mascot.Y)

	up := img.At(int(x), int(y)-MascotRadius/2)
	if !near(up, ColorHeading, 24) {
		t.Errorf("Expected heading above center, got %v", up)
	}
	right := img.At(int(x)+MascotRadius/2, int(y))
	if near(right, ColorHeading, 24) {
		t.Error("Heading should no longer point right")
	}
}

// TestWritePNG verifies the encoded frame decodes
func TestWritePNG(t *testing.T) {
	r := newTestRenderer(t, nil)

	var buf bytes.Buffer
	if err := r.WritePNG(&buf, testSnapshot()); err != nil {
		t.Fatalf("WritePNG failed: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if img.Bounds().Dx() != 640 {
		t.Errorf("Expected width 640, got %d", img.Bounds().Dx())
	}
}

// TestRenderNilSnapshot verifies a frame is produced before the engine starts
func TestRenderNilSnapshot(t *testing.T) {
	r := newTestRenderer(t, nil)
	if img := r.Render(nil); img == nil {
		t.Error("Expected a frame for nil snapshot")
	}
}

// TestRenderFetchesAvatarForUser verifies the identified user's avatar is requested
func TestRenderFetchesAvatarForUser(t *testing.T) {
	requests := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requests <- req.URL.Path
		w.Header().Set("Content-Type", "image/png")
		png.Encode(w, solidImage(32, 32, color.RGBA{0, 0, 255, 255}))
	}))
	defer srv.Close()

	avatars := NewAvatarCache(4)
	r := newTestRenderer(t, avatars)

	snap := testSnapshot()
	snap.Display = "User: alice"
	snap.NFC = &nfc.Status{
		State: "awaiting_tag",
		User:  &nfc.UserRecord{Username: "alice", AvatarURL: srv.URL + "/alice.png"},
	}

	r.Render(snap)
	avatars.Wait()

	if avatars.Get(srv.URL+"/alice.png") == nil {
		t.Fatal("Avatar should be cached after the first frame")
	}
	if path := <-requests; path != "/alice.png" {
		t.Errorf("Unexpected avatar request %s", path)
	}

	// Second frame draws from the cache without another request
	r.Render(snap)
	avatars.Wait()
	if len(requests) != 0 {
		t.Errorf("Expected no further requests, got %d", len(requests))
	}
}

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
