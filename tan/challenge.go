package tan

import "github.com/finwerk/fintsflow/dialog"

// Challenge is a TAN challenge normalized for display: instructional text plus
// at most one optical payload. Flicker and Matrix are mutually exclusive; both
// empty is common for app- and SMS-based mechanisms.
type Challenge struct {
	Text string

	// Flicker is the HHD flicker-code payload, empty when the challenge does
	// not carry one.
	Flicker string

	// MatrixMIME and MatrixData carry a challenge image (photoTAN and
	// friends). MatrixMIME is empty when there is no image.
	MatrixMIME string
	MatrixData []byte
}

// Extract normalizes a protocol TAN request. When the request carries both an
// optical payload and an image (not observed in the wild), the flicker payload
// wins and the image is dropped, keeping the at-most-one contract.
func Extract(req *dialog.TANRequest) Challenge {
	if req == nil {
		return Challenge{}
	}
	c := Challenge{Text: req.Text}
	if req.FlickerPayload != "" {
		c.Flicker = req.FlickerPayload
		return c
	}
	if req.MatrixMIME != "" {
		c.MatrixMIME = req.MatrixMIME
		c.MatrixData = req.MatrixData
	}
	return c
}
