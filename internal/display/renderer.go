// Package display draws the cabinet's text display as an image: the
// identification line, the mascot marker and the identified user's avatar.
package display

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"ferris-cabinet/internal/game"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// Palette
var (
	ColorBackground = color.RGBA{12, 12, 28, 255}
	ColorGrid       = color.RGBA{30, 30, 45, 255}
	ColorMascot     = color.RGBA{247, 76, 0, 255} // Ferris orange
	ColorHeading    = color.RGBA{255, 255, 255, 255}
	ColorBanner     = color.RGBA{0, 0, 0, 170}
	ColorNoUser     = color.RGBA{160, 160, 176, 255}
	ColorUser       = color.RGBA{83, 255, 69, 255}
	ColorHUD        = color.RGBA{120, 120, 140, 255}
)

const (
	MascotRadius = 24.0
	bannerHeight = 96.0
	avatarSize   = 72
	gridSize     = 100.0
)

// RendererConfig sizes the frame
type RendererConfig struct {
	Width   int
	Height  int
	Avatars *AvatarCache // nil disables avatars
}

// Renderer draws snapshots. It is safe for concurrent use; frames are
// rendered one at a time because font faces are not.
type Renderer struct {
	mu      sync.Mutex
	width   int
	height  int
	avatars *AvatarCache

	fontLarge font.Face
	fontSmall font.Face
}

// NewRenderer loads fonts once and returns a renderer
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("display: invalid frame size %dx%d", cfg.Width, cfg.Height)
	}

	parsed, source, err := loadFont()
	if err != nil {
		return nil, err
	}

	r := &Renderer{
		width:   cfg.Width,
		height:  cfg.Height,
		avatars: cfg.Avatars,
	}
	if r.fontLarge, err = newFace(parsed, 40); err != nil {
		return nil, err
	}
	if r.fontSmall, err = newFace(parsed, 16); err != nil {
		return nil, err
	}

	log.Printf("✅ Display fonts loaded from %s", source)
	return r, nil
}

// Size returns the frame dimensions
func (r *Renderer) Size() (int, int) {
	return r.width, r.height
}

// Render draws snap into a new image
func (r *Renderer) Render(snap *game.Snapshot) image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()

	dc := gg.NewContext(r.width, r.height)
	r.draw(dc, snap)
	return dc.Image()
}

// WritePNG renders snap and encodes it to w
func (r *Renderer) WritePNG(w io.Writer, snap *game.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dc := gg.NewContext(r.width, r.height)
	r.draw(dc, snap)
	return dc.EncodePNG(w)
}

func (r *Renderer) draw(dc *gg.Context, snap *game.Snapshot) {
	r.drawBackground(dc)
	r.drawGrid(dc)
	if snap == nil {
		r.drawBanner(dc, "No user", false, nil)
		return
	}
	r.drawMascot(dc, snap)

	user, identified := snap.User()
	var avatar image.Image
	if identified && r.avatars != nil {
		avatar = r.avatars.GetOrFetch(user.AvatarURL)
	}
	r.drawBanner(dc, snap.Display, identified, avatar)
	r.drawHUD(dc, snap)
}

func (r *Renderer) drawBackground(dc *gg.Context) {
	dc.SetColor(ColorBackground)
	dc.DrawRectangle(0, 0, float64(r.width), float64(r.height))
	dc.Fill()
}

func (r *Renderer) drawGrid(dc *gg.Context) {
	dc.SetColor(ColorGrid)
	dc.SetLineWidth(1)

	cx, cy := float64(r.width)/2, float64(r.height)/2
	for x := math.Mod(cx, gridSize); x < float64(r.width); x += gridSize {
		dc.DrawLine(x, 0, x, float64(r.height))
		dc.Stroke()
	}
	for y := math.Mod(cy, gridSize); y < float64(r.height); y += gridSize {
		dc.DrawLine(0, y, float64(r.width), y)
		dc.Stroke()
	}
}

// ToScreen maps world coordinates (origin centered, y up) to pixels
func (r *Renderer) ToScreen(snap *game.Snapshot, x, y float64) (float64, float64) {
	sx, sy := 1.0, 1.0
	if snap.WorldWidth > 0 && snap.WorldHeight > 0 {
		sx = float64(r.width) / snap.WorldWidth
		sy = float64(r.height) / snap.WorldHeight
	}
	return float64(r.width)/2 + x*sx, float64(r.height)/2 - y*sy
}

func (r *Renderer) drawMascot(dc *gg.Context, snap *game.Snapshot) {
	x, y := r.ToScreen(snap, snap.Mascot.X, snap.Mascot.Y)

	// Shadow
	dc.SetColor(color.RGBA{0, 0, 0, 128})
	dc.DrawCircle(x, y+6, MascotRadius)
	dc.Fill()

	// Body
	dc.SetColor(ColorMascot)
	dc.DrawCircle(x, y, MascotRadius)
	dc.Fill()

	// Heading; yaw is counter-clockwise in world space, screen y points down
	hx := x + math.Cos(snap.Mascot.Yaw)*MascotRadius
	hy := y - math.Sin(snap.Mascot.Yaw)*MascotRadius
	dc.SetColor(ColorHeading)
	dc.SetLineWidth(4)
	dc.DrawLine(x, y, hx, hy)
	dc.Stroke()
}

func (r *Renderer) drawBanner(dc *gg.Context, text string, identified bool, avatar image.Image) {
	top := float64(r.height) - bannerHeight
	dc.SetColor(ColorBanner)
	dc.DrawRectangle(0, top, float64(r.width), bannerHeight)
	dc.Fill()

	textX := 32.0
	if avatar != nil {
		scaled := scaleTo(avatar, avatarSize)
		dc.DrawImageAnchored(scaled, 32+avatarSize/2, int(top+bannerHeight/2), 0.5, 0.5)
		textX += avatarSize + 24
	}

	dc.SetFontFace(r.fontLarge)
	if identified {
		dc.SetColor(ColorUser)
	} else {
		dc.SetColor(ColorNoUser)
	}
	dc.DrawStringAnchored(text, textX, top+bannerHeight/2, 0, 0.35)
}

func (r *Renderer) drawHUD(dc *gg.Context, snap *game.Snapshot) {
	dc.SetFontFace(r.fontSmall)
	dc.SetColor(ColorHUD)
	dc.DrawStringAnchored(fmt.Sprintf("tick %d", snap.TickNumber), float64(r.width)-16, 24, 1, 0)

	if snap.NFC != nil {
		dc.DrawStringAnchored("nfc "+snap.NFC.State, float64(r.width)-16, 44, 1, 0)
	}

	var held []string
	for player, buttons := range snap.Controls {
		held = append(held, player+": "+strings.Join(buttons, " "))
	}
	slices.Sort(held)
	for i, line := range held {
		dc.DrawString(line, 16, 24+float64(i)*20)
	}
}

// scaleTo resizes img to size×size with nearest-neighbour sampling
func scaleTo(img image.Image, size int) image.Image {
	b := img.Bounds()
	if b.Dx() == size && b.Dy() == size {
		return img
	}
	dc := gg.NewContext(size, size)
	dc.Scale(float64(size)/float64(b.Dx()), float64(size)/float64(b.Dy()))
	dc.DrawImage(img, -b.Min.X, -b.Min.Y)
	return dc.Image()
}

// loadFont prefers a system font and falls back to the embedded Go font
func loadFont() (*opentype.Font, string, error) {
	if path := getFontPath(); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if parsed, err := opentype.Parse(data); err == nil {
				return parsed, path, nil
			}
			log.Printf("⚠️ Failed to parse font %s, using built-in", path)
		}
	}

	parsed, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, "", fmt.Errorf("display: parse built-in font: %w", err)
	}
	return parsed, "built-in Go Regular", nil
}

func newFace(f *opentype.Font, size float64) (font.Face, error) {
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("display: font face %.0fpt: %w", size, err)
	}
	return face, nil
}

func getFontPath() string {
	if p := os.Getenv("DISPLAY_FONT"); p != "" {
		return p
	}

	paths := []string{
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
		"C:\\Windows\\Fonts\\segoeui.ttf",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	matches, _ := filepath.Glob("*.ttf")
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}
