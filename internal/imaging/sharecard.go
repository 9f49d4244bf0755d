package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"unicode"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

const (
	cardWidth  = 1200
	cardHeight = 630

	backgroundBlurSigma = 8
	backgroundDim       = -40 // brightness delta, roughly 0.6x

	maxRoastLines = 3
	maxURLRunes   = 60
)

// CardInput carries everything the share card shows.
type CardInput struct {
	// Screenshot is the optimized desktop rendition used as the card
	// background. May be nil; the card falls back to a solid fill.
	Screenshot []byte
	Roast      string
	Score      int
	URL        string
}

// CardRenderer draws 1200x630 share cards. A zero value renders with the
// built-in bitmap font; set FontPath to a TTF for production output.
type CardRenderer struct {
	FontPath string
}

// Render produces the JPEG share card for one completed roast.
func (r *CardRenderer) Render(in CardInput) ([]byte, error) {
	dc := gg.NewContext(cardWidth, cardHeight)

	if bg := decodeBackground(in.Screenshot); bg != nil {
		dc.DrawImage(bg, 0, 0)
	} else {
		dc.SetHexColor("#1f2937")
		dc.Clear()
	}

	// Dark overlay so the text stays readable over any screenshot.
	dc.SetRGBA(0, 0, 0, 0.45)
	dc.DrawRectangle(0, 0, cardWidth, cardHeight)
	dc.Fill()

	r.setFont(dc, 48)

	// Score badge, top right.
	const badgeRadius = 70
	badgeX, badgeY := float64(cardWidth-130), 130.0
	dc.SetHexColor(scoreColor(in.Score))
	dc.DrawCircle(badgeX, badgeY, badgeRadius)
	dc.Fill()
	dc.SetHexColor("#ffffff")
	dc.DrawStringAnchored(fmt.Sprintf("%d/10", clampScore(in.Score)), badgeX, badgeY, 0.5, 0.5)

	// Roast text, wrapped and capped.
	r.setFont(dc, 40)
	lines := dc.WordWrap(sanitizeText(in.Roast), cardWidth-320)
	if len(lines) > maxRoastLines {
		lines = lines[:maxRoastLines]
		lines[maxRoastLines-1] += "…"
	}
	y := 220.0
	for _, line := range lines {
		dc.DrawStringAnchored(line, 80, y, 0, 0.5)
		y += 56
	}

	// Footer: target URL and branding.
	r.setFont(dc, 28)
	dc.SetHexColor("#d1d5db")
	dc.DrawStringAnchored(truncateURL(in.URL), 80, cardHeight-80, 0, 0.5)
	dc.SetHexColor("#9ca3af")
	dc.DrawStringAnchored("roastmylanding.com", cardWidth-80, cardHeight-80, 1, 0.5)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode share card: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *CardRenderer) setFont(dc *gg.Context, size float64) {
	if r.FontPath != "" {
		if err := dc.LoadFontFace(r.FontPath, size); err == nil {
			return
		}
	}
	dc.SetFontFace(basicfont.Face7x13)
}

// decodeBackground prepares the blurred, dimmed backdrop. Any decode
// failure falls back to the solid fill rather than failing the card.
func decodeBackground(raw []byte) image.Image {
	if len(raw) == 0 {
		return nil
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	bg := imaging.Fill(src, cardWidth, cardHeight, imaging.Center, imaging.Lanczos)
	bg = imaging.Blur(bg, backgroundBlurSigma)
	return imaging.AdjustBrightness(bg, backgroundDim)
}

// scoreColor bands the badge color by score.
func scoreColor(score int) string {
	switch s := clampScore(score); {
	case s >= 8:
		return "#10b981"
	case s >= 6:
		return "#f59e0b"
	case s >= 4:
		return "#f97316"
	default:
		return "#ef4444"
	}
}

func clampScore(score int) int {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

// sanitizeText strips control characters that model output occasionally
// smuggles in before the text hits the canvas.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
}

func truncateURL(u string) string {
	runes := []rune(u)
	if len(runes) <= maxURLRunes {
		return u
	}
	return string(runes[:maxURLRunes]) + "…"
}
