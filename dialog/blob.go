package dialog

import "errors"

// Blob is an opaque, version-tagged byte string produced at pause or close.
// The payload belongs to the protocol client library; the tag only guards
// against feeding a continuation where a snapshot is expected (and vice versa)
// or replaying blobs across incompatible releases.
type Blob []byte

const (
	blobVersion1 = 0x01

	blobKindSnapshot     = 0x01
	blobKindContinuation = 0x02
)

var errBlobFormat = errors.New("malformed state blob")

func sealBlob(kind byte, payload []byte) Blob {
	out := make([]byte, 0, len(payload)+2)
	out = append(out, blobVersion1, kind)
	return append(out, payload...)
}

func openBlob(kind byte, b Blob) ([]byte, error) {
	if len(b) < 2 || b[0] != blobVersion1 || b[1] != kind {
		return nil, errBlobFormat
	}
	return b[2:], nil
}
