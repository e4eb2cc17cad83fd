package formatters

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDanglingEscape reports a record that ends mid escape sequence.
var ErrDanglingEscape = errors.New("record ends with an unfinished escape sequence")

// TSVReader parses data produced by TSVFormatter back into a header and
// rows. It exists for verification of uploaded artifacts; the export path
// itself never reads TSV.
type TSVReader struct{}

// NewTSVReader creates a new TSV reader
func NewTSVReader() *TSVReader {
	return &TSVReader{}
}

// Read parses the full payload, returning the header row and the data rows.
func (r *TSVReader) Read(data []byte) ([]string, [][]string, error) {
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil, nil, errors.New("payload has no header row")
	}

	lines := strings.Split(text, "\n")

	header, err := splitRecord(lines[0])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing header: %w", err)
	}

	var rows [][]string
	for i, line := range lines[1:] {
		row, err := splitRecord(line)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing row %d: %w", i+1, err)
		}
		rows = append(rows, row)
	}

	return header, rows, nil
}

// splitRecord splits one physical line on unescaped tabs and decodes the
// backslash escapes within each field.
func splitRecord(line string) ([]string, error) {
	fields := []string{}
	var field strings.Builder

	for i := 0; i < len(line); i++ {
		switch c := line[i]; c {
		case '\\':
			if i+1 >= len(line) {
				return nil, ErrDanglingEscape
			}
			i++
			switch line[i] {
			case '\\':
				field.WriteByte('\\')
			case 't':
				field.WriteByte('\t')
			case 'n':
				field.WriteByte('\n')
			case 'r':
				field.WriteByte('\r')
			default:
				return nil, fmt.Errorf("unknown escape sequence \\%c", line[i])
			}
		case '\t':
			fields = append(fields, field.String())
			field.Reset()
		default:
			field.WriteByte(c)
		}
	}
	fields = append(fields, field.String())

	return fields, nil
}
