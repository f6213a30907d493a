package abi

import "bytes"

func newJSONReader(raw []byte) *bytes.Reader {
	return bytes.NewReader(raw)
}
