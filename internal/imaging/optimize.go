// Package imaging post-processes raw screenshots into delivery-sized
// JPEGs and renders shareable summary cards.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// Profile describes one output rendition.
type Profile struct {
	Name    string
	Width   int
	Height  int
	Quality int
}

// The two renditions the pipeline serves. Desktop doubles as the share
// card background and the ensemble input; mobile is a thumbnail strip.
var (
	DesktopProfile = Profile{Name: "desktop", Width: 1200, Height: 630, Quality: 85}
	MobileProfile  = Profile{Name: "mobile", Width: 375, Height: 200, Quality: 80}
)

// Optimize decodes a raw screenshot, cover-crops it to the profile's
// dimensions anchored at the center, and re-encodes as JPEG at the
// profile's quality.
func Optimize(raw []byte, profile Profile) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s screenshot: %w", profile.Name, err)
	}
	fitted := imaging.Fill(src, profile.Width, profile.Height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, fitted, &jpeg.Options{Quality: profile.Quality}); err != nil {
		return nil, fmt.Errorf("encode %s rendition: %w", profile.Name, err)
	}
	return buf.Bytes(), nil
}
