package control

import (
	"fmt"
	"math"
)

// caretSaturation and caretLightness fix the look of every allocated
// caret color; only hue varies, so colors stay visually consistent
// while still being distinguishable.
const (
	caretSaturation = 0.65
	caretLightness  = 0.55
)

// pickCaretColor returns a CSS hex color whose hue maximizes the
// minimum angular distance to every hue already in use, per spec
// §4.2's "assigns a color minimizing perceptual hue distance from
// existing caret colors" (by construction, maximizing the minimum
// distance also minimizes collisions with neighbors).
func pickCaretColor(existing []string) string {
	const candidates = 360
	if len(existing) == 0 {
		return hueToHex(0)
	}
	hues := make([]float64, 0, len(existing))
	for _, c := range existing {
		if h, ok := hexToHue(c); ok {
			hues = append(hues, h)
		}
	}
	bestHue, bestDist := 0.0, -1.0
	for i := 0; i < candidates; i++ {
		h := float64(i) * (360.0 / candidates)
		dist := math.Inf(1)
		for _, existingHue := range hues {
			d := hueDistance(h, existingHue)
			if d < dist {
				dist = d
			}
		}
		if dist > bestDist {
			bestDist, bestHue = dist, h
		}
	}
	return hueToHex(bestHue)
}

func hueDistance(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d
}

func hueToHex(hue float64) string {
	r, g, b := hslToRGB(hue, caretSaturation, caretLightness)
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

func hslToRGB(h, s, l float64) (uint8, uint8, uint8) {
	c := (1 - math.Abs(2*l-1)) * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := l - c/2

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return toByte(r + m), toByte(g + m), toByte(b + m)
}

func toByte(v float64) uint8 { return uint8(math.Round(v * 255)) }

// hexToHue is a lossy inverse of hueToHex, good enough for distance
// comparisons: colors not produced by hueToHex (e.g. a client-supplied
// custom color) still map to *some* hue.
func hexToHue(hex string) (float64, bool) {
	if len(hex) != 7 || hex[0] != '#' {
		return 0, false
	}
	var r, g, b int
	if _, err := fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return 0, false
	}
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	maxc := math.Max(rf, math.Max(gf, bf))
	minc := math.Min(rf, math.Min(gf, bf))
	delta := maxc - minc
	if delta == 0 {
		return 0, true
	}
	var h float64
	switch maxc {
	case rf:
		h = math.Mod((gf-bf)/delta, 6)
	case gf:
		h = (bf-rf)/delta + 2
	default:
		h = (rf-gf)/delta + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return h, true
}
