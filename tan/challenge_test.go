package tan

import (
	"bytes"
	"testing"

	"github.com/finwerk/fintsflow/dialog"
)

func TestExtractNil(t *testing.T) {
	c := Extract(nil)
	if c.Text != "" || c.Flicker != "" || c.MatrixMIME != "" || c.MatrixData != nil {
		t.Fatalf("nil request should normalize to zero challenge, got %+v", c)
	}
}

func TestExtractFlickerWinsOverMatrix(t *testing.T) {
	c := Extract(&dialog.TANRequest{
		Text:           "Bitte TAN eingeben",
		FlickerPayload: "0290",
		MatrixMIME:     "image/png",
		MatrixData:     []byte{0x89, 'P', 'N', 'G'},
	})
	if c.Flicker != "0290" {
		t.Fatalf("flicker payload lost: %+v", c)
	}
	if c.MatrixMIME != "" || c.MatrixData != nil {
		t.Fatalf("matrix payload should be dropped when flicker is present: %+v", c)
	}
}

func TestExtractMatrix(t *testing.T) {
	img := []byte{0x89, 'P', 'N', 'G'}
	c := Extract(&dialog.TANRequest{Text: "photoTAN", MatrixMIME: "image/png", MatrixData: img})
	if c.MatrixMIME != "image/png" || !bytes.Equal(c.MatrixData, img) {
		t.Fatalf("matrix payload mangled: %+v", c)
	}
	if c.Flicker != "" {
		t.Fatalf("unexpected flicker payload: %+v", c)
	}
}
