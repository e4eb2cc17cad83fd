package formatters

import (
	"bytes"
	"strings"
)

// TSVFormatter serializes rows as tab-separated text: a header row first,
// no quote characters, backslash as the escape character. The dialect
// matches what the research consumers of the uploaded artifacts parse.
type TSVFormatter struct{}

// NewTSVFormatter creates a new TSV formatter
func NewTSVFormatter() *TSVFormatter {
	return &TSVFormatter{}
}

// Format renders the header and rows. An empty row set still yields the
// header line, so a course with no records produces a valid artifact.
func (f *TSVFormatter) Format(columns []string, rows [][]string) []byte {
	var buffer bytes.Buffer

	writeRecord(&buffer, columns)
	for _, row := range rows {
		writeRecord(&buffer, row)
	}

	return buffer.Bytes()
}

// Extension returns the file extension for TSV files
func (f *TSVFormatter) Extension() string {
	return ".tsv"
}

// MIMEType returns the MIME type for TSV
func (f *TSVFormatter) MIMEType() string {
	return "text/tab-separated-values"
}

func writeRecord(buffer *bytes.Buffer, fields []string) {
	for i, field := range fields {
		if i > 0 {
			buffer.WriteByte('\t')
		}
		buffer.WriteString(escapeField(field))
	}
	buffer.WriteByte('\n')
}

// escapeField protects the characters that would break an unquoted record:
// the field delimiter, the record terminators, and the escape character
// itself.
func escapeField(field string) string {
	if !strings.ContainsAny(field, "\t\n\r\\") {
		return field
	}

	var builder strings.Builder
	builder.Grow(len(field) + 4)
	for _, r := range field {
		switch r {
		case '\\':
			builder.WriteString(`\\`)
		case '\t':
			builder.WriteString(`\t`)
		case '\n':
			builder.WriteString(`\n`)
		case '\r':
			builder.WriteString(`\r`)
		default:
			builder.WriteRune(r)
		}
	}
	return builder.String()
}
