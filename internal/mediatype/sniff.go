package mediatype

import (
	"bytes"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen matches the default detection window of the mimetype library.
const sniffLen = 3072

// Sniff detects the content type of a stream without consuming it. The
// returned reader replays the sniffed prefix followed by the rest of r.
func Sniff(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", nil, err
	}
	head = head[:n]

	mime := mimetype.Detect(head)
	return mime.String(), io.MultiReader(bytes.NewReader(head), r), nil
}
