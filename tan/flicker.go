package tan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFlickerPayload is returned when a flicker payload contains a non-hex
// character.
var ErrFlickerPayload = errors.New("invalid flicker payload")

// flickerPrefix is the fixed synchronization preamble every stream starts
// with: one clock cycle of all-dark data followed by two cycles of all-lit
// data, which the reading device locks onto.
var flickerPrefix = []byte{1, 0, 31, 30, 31, 30}

// RenderFlicker expands a hex flicker payload into the frame stream driving a
// five-bar optical display. Each frame is a 5-bit value: bit 0 is the clock,
// bits 1 to 4 carry one hex digit. Digits are consumed in byte-swapped pairs
// and every digit yields two frames, first with the clock high, then low. A
// trailing unpaired digit is dropped.
//
// The expansion is deterministic: equal payloads always produce equal streams.
func RenderFlicker(payload string) ([]byte, error) {
	n := len(payload) &^ 1
	stream := make([]byte, 0, len(flickerPrefix)+2*n)
	stream = append(stream, flickerPrefix...)
	for i := 0; i < n; i++ {
		d, err := hexNibble(payload[i^1])
		if err != nil {
			return nil, err
		}
		stream = append(stream, d<<1|1, d<<1)
	}
	return stream, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	}
	return 0, fmt.Errorf("%w: byte %q", ErrFlickerPayload, c)
}

// FlickerKeyframes renders a frame stream as five CSS @keyframes blocks named
// <prefix>-bar0 through <prefix>-bar4, toggling background-color between dark
// and light. Bar 0 is the clock bar. The caller picks the animation duration;
// one full cycle plays the whole stream.
func FlickerKeyframes(stream []byte, prefix string) string {
	if len(stream) == 0 {
		return ""
	}
	var b strings.Builder
	step := 100.0 / float64(len(stream))
	for bar := 0; bar < 5; bar++ {
		mask := byte(1) << bar
		fmt.Fprintf(&b, "@keyframes %s-bar%d {\n", prefix, bar)
		i := 0
		for i < len(stream) {
			j := i
			for j < len(stream) && stream[j]&mask == stream[i]&mask {
				j++
			}
			color := "#000"
			if stream[i]&mask != 0 {
				color = "#fff"
			}
			// Holding the color at both run edges keeps the flip hard; CSS
			// would otherwise interpolate between the colors.
			fmt.Fprintf(&b, "  %.3f%% { background-color: %s; }\n", float64(i)*step, color)
			fmt.Fprintf(&b, "  %.3f%% { background-color: %s; }\n", float64(j)*step, color)
			i = j
		}
		b.WriteString("}\n")
	}
	return b.String()
}
