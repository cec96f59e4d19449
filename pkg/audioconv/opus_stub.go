//go:build !opus

package audioconv

import (
	"bytes"
	"errors"
)

func decodeOpus(*bytes.Reader) ([]float32, error) {
	return nil, errors.New("opus support not compiled in (build with -tags opus)")
}
