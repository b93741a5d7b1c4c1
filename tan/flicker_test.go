package tan

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestRenderFlickerShortPayload(t *testing.T) {
	got, err := RenderFlicker("02")
	if err != nil {
		t.Fatalf("RenderFlicker: %v", err)
	}
	want := []byte{1, 0, 31, 30, 31, 30, 5, 4, 1, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("stream mismatch:\n got %v\nwant %v", got, want)
	}
}

func TestRenderFlickerChallengePayload(t *testing.T) {
	// Odd-length payload: the trailing digit does not form a pair and is
	// dropped.
	got, err := RenderFlicker("0290888134473101234")
	if err != nil {
		t.Fatalf("RenderFlicker: %v", err)
	}
	want := []byte{
		1, 0, 31, 30, 31, 30,
		5, 4, 1, 0,
		1, 0, 19, 18,
		17, 16, 17, 16,
		3, 2, 17, 16,
		9, 8, 7, 6,
		15, 14, 9, 8,
		3, 2, 7, 6,
		3, 2, 1, 0,
		7, 6, 5, 4,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("stream mismatch:\n got %v\nwant %v", got, want)
	}
}

func TestRenderFlickerDeterministic(t *testing.T) {
	const payload = "1784011041234599991601"
	first, err := RenderFlicker(payload)
	if err != nil {
		t.Fatalf("RenderFlicker: %v", err)
	}
	for i := 0; i < 16; i++ {
		again, err := RenderFlicker(payload)
		if err != nil {
			t.Fatalf("RenderFlicker run %d: %v", i, err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("run %d diverged from first expansion", i)
		}
	}
}

func TestRenderFlickerRejectsNonHex(t *testing.T) {
	if _, err := RenderFlicker("01gz"); !errors.Is(err, ErrFlickerPayload) {
		t.Fatalf("err = %v, want ErrFlickerPayload", err)
	}
}

func TestFlickerKeyframes(t *testing.T) {
	stream, err := RenderFlicker("0f")
	if err != nil {
		t.Fatalf("RenderFlicker: %v", err)
	}
	css := FlickerKeyframes(stream, "tan")
	for _, name := range []string{"tan-bar0", "tan-bar1", "tan-bar4"} {
		if !strings.Contains(css, "@keyframes "+name+" {") {
			t.Fatalf("missing keyframes block %s in:\n%s", name, css)
		}
	}
	if !strings.Contains(css, "100.000% {") {
		t.Fatalf("keyframes do not close the cycle at 100%%:\n%s", css)
	}
	if FlickerKeyframes(nil, "tan") != "" {
		t.Fatalf("empty stream should yield empty CSS")
	}
}
