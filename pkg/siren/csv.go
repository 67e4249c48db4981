package siren

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// utf8BOM lets downstream spreadsheet tools detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// registryWriter emits semicolon-separated rows with every field quoted,
// matching the exchange format the filtering stage and the reporting tools
// expect.
type registryWriter struct {
	w          *bufio.Writer
	wroteFirst bool
}

func newRegistryWriter(w io.Writer) *registryWriter {
	return &registryWriter{w: bufio.NewWriter(w)}
}

func (rw *registryWriter) WriteRow(fields []string) error {
	if !rw.wroteFirst {
		if _, err := rw.w.Write(utf8BOM); err != nil {
			return errors.Wrap(err, "write registry")
		}
		rw.wroteFirst = true
	}
	for i, field := range fields {
		if i > 0 {
			if err := rw.w.WriteByte(';'); err != nil {
				return errors.Wrap(err, "write registry")
			}
		}
		quoted := `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
		if _, err := rw.w.WriteString(quoted); err != nil {
			return errors.Wrap(err, "write registry")
		}
	}
	return errors.Wrap(rw.w.WriteByte('\n'), "write registry")
}

func (rw *registryWriter) Flush() error {
	return errors.Wrap(rw.w.Flush(), "flush registry")
}
