package wheel

import (
	"math"

	"github.com/Versifine/hoverwheel/internal/hid"
)

// Axes is one sample of both sticks, nominally in -1..1.
type Axes struct {
	LeftX  float32 `json:"left_x"`
	LeftY  float32 `json:"left_y"`
	RightX float32 `json:"right_x"`
	RightY float32 `json:"right_y"`
}

// Invert flips individual axes before encoding.
type Invert struct {
	LeftX  bool `json:"left_x" yaml:"left_x"`
	LeftY  bool `json:"left_y" yaml:"left_y"`
	RightX bool `json:"right_x" yaml:"right_x"`
	RightY bool `json:"right_y" yaml:"right_y"`
}

// Report encodes normalized axes into an input report.
func (a Axes) Report() hid.Report {
	return hid.NewReport(a.LeftX, a.LeftY, a.RightX, a.RightY)
}

func clampAxis(v float32) float32 {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return 0
	case f > 1:
		return 1
	case f < -1:
		return -1
	}
	return v
}

func applyInvert(v float32, invert bool) float32 {
	if invert {
		return -v
	}
	return v
}

// applyDeadzone zeroes a stick whose deflection is within dz and rescales the
// rest so the output still spans the full range. Per-axis clamping afterwards
// keeps square-gate corners at full deflection.
func applyDeadzone(x, y, dz float32) (float32, float32) {
	if dz <= 0 {
		return x, y
	}
	mag := float32(math.Hypot(float64(x), float64(y)))
	if mag <= dz {
		return 0, 0
	}
	scale := (mag - dz) / (1 - dz) / mag
	return clampAxis(x * scale), clampAxis(y * scale)
}

// Normalize maps raw input to the values that will be encoded: NaN to 0,
// clamp to -1..1, inversion, then the radial deadzone per stick.
func Normalize(a Axes, deadzone float32, inv Invert) Axes {
	out := Axes{
		LeftX:  applyInvert(clampAxis(a.LeftX), inv.LeftX),
		LeftY:  applyInvert(clampAxis(a.LeftY), inv.LeftY),
		RightX: applyInvert(clampAxis(a.RightX), inv.RightX),
		RightY: applyInvert(clampAxis(a.RightY), inv.RightY),
	}
	out.LeftX, out.LeftY = applyDeadzone(out.LeftX, out.LeftY, deadzone)
	out.RightX, out.RightY = applyDeadzone(out.RightX, out.RightY, deadzone)
	return out
}
