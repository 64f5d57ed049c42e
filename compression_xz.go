package ctrfs

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz"
)

func init() {
	registerCompression(XZCompression, &compHandler{
		compress:   xzCompress,
		decompress: xzDecompress,
	})
}

func xzCompress(buf []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := xz.NewWriter(&out)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(buf); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func xzDecompress(buf []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
