// Package jsonutil compacts JSON-RPC reply bodies.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"pkt.systems/jpact"
)

// smallBody is the size up to which a body is buffered on the stack and
// checked for whitespace before handing it to the streaming compactor.
const smallBody = 2048

// CompactWriter copies the JSON document in r to w without insignificant
// whitespace. Bodies larger than maxBytes fail; maxBytes <= 0 disables the
// cap. Invalid JSON is an error.
func CompactWriter(w io.Writer, r io.Reader, maxBytes int64) error {
	threshold := smallBody
	if maxBytes > 0 && maxBytes < int64(threshold) {
		threshold = int(maxBytes)
	}

	var stack [smallBody + 1]byte
	buf := stack[:threshold+1]
	total := 0
	spaced := false
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		if n > 0 && !spaced {
			spaced = bytes.ContainsAny(buf[total:total+n], " \t\r\n")
		}
		total += n
		if maxBytes > 0 && int64(total) > maxBytes {
			return fmt.Errorf("json: body exceeds %d bytes", maxBytes)
		}
		if err == io.EOF {
			payload := buf[:total]
			if !spaced {
				if !json.Valid(payload) {
					return fmt.Errorf("json: invalid body")
				}
				_, err = w.Write(payload)
				return err
			}
			return jpact.CompactWriter(w, bytes.NewReader(payload), maxBytes)
		}
		if err != nil {
			return err
		}
	}

	head := append([]byte(nil), buf[:total]...)
	return jpact.CompactWriter(w, io.MultiReader(bytes.NewReader(head), r), maxBytes)
}
