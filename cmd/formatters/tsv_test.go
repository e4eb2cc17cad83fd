package formatters

import (
	"reflect"
	"testing"
)

func TestTSVFormat(t *testing.T) {
	formatter := NewTSVFormatter()

	tests := []struct {
		name     string
		columns  []string
		rows     [][]string
		expected string
	}{
		{
			name:     "header only",
			columns:  []string{"CourseID", "UserID"},
			rows:     nil,
			expected: "CourseID\tUserID\n",
		},
		{
			name:    "plain rows",
			columns: []string{"CourseID", "Score"},
			rows: [][]string{
				{"101", "87"},
				{"101", "92"},
			},
			expected: "CourseID\tScore\n101\t87\n101\t92\n",
		},
		{
			name:    "tab in value is escaped",
			columns: []string{"Name"},
			rows: [][]string{
				{"before\tafter"},
			},
			expected: "Name\nbefore\\tafter\n",
		},
		{
			name:    "backslash in value is escaped",
			columns: []string{"Path"},
			rows: [][]string{
				{`C:\temp`},
			},
			expected: "Path\nC:\\\\temp\n",
		},
		{
			name:    "empty field preserved",
			columns: []string{"A", "B", "C"},
			rows: [][]string{
				{"1", "", "3"},
			},
			expected: "A\tB\tC\n1\t\t3\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatter.Format(tt.columns, tt.rows)
			if string(got) != tt.expected {
				t.Fatalf("expected %q, got %q", tt.expected, string(got))
			}
		})
	}
}

func TestTSVRoundTrip(t *testing.T) {
	formatter := NewTSVFormatter()
	reader := NewTSVReader()

	tests := []struct {
		name    string
		columns []string
		rows    [][]string
	}{
		{
			name:    "plain values",
			columns: []string{"CourseID", "UserID", "ActivityType"},
			rows: [][]string{
				{"101", "u-1", "page_view"},
				{"101", "u-2", "submission"},
			},
		},
		{
			name:    "values with tabs and backslashes",
			columns: []string{"CourseID", "Note"},
			rows: [][]string{
				{"101", "left\tright"},
				{"101", `back\slash`},
				{"101", `both\t: literal backslash-t`},
			},
		},
		{
			name:    "values with newlines",
			columns: []string{"CourseID", "Comment"},
			rows: [][]string{
				{"101", "line one\nline two"},
				{"101", "windows\r\nending"},
			},
		},
		{
			name:    "no data rows",
			columns: []string{"CourseID", "UserID"},
			rows:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := formatter.Format(tt.columns, tt.rows)

			header, rows, err := reader.Read(payload)
			if err != nil {
				t.Fatalf("unexpected parse error: %v", err)
			}

			if !reflect.DeepEqual(header, tt.columns) {
				t.Fatalf("header mismatch: expected %v, got %v", tt.columns, header)
			}
			if len(rows) != len(tt.rows) {
				t.Fatalf("expected %d rows, got %d", len(tt.rows), len(rows))
			}
			for i := range tt.rows {
				if !reflect.DeepEqual(rows[i], tt.rows[i]) {
					t.Fatalf("row %d mismatch: expected %v, got %v", i, tt.rows[i], rows[i])
				}
			}
		})
	}
}

func TestTSVReaderErrors(t *testing.T) {
	reader := NewTSVReader()

	tests := []struct {
		name string
		data string
	}{
		{
			name: "empty payload",
			data: "",
		},
		{
			name: "dangling escape",
			data: "Name\nvalue\\",
		},
		{
			name: "unknown escape",
			data: "Name\nvalue\\x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := reader.Read([]byte(tt.data)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestTSVMetadata(t *testing.T) {
	formatter := NewTSVFormatter()

	if formatter.Extension() != ".tsv" {
		t.Fatalf("unexpected extension: %s", formatter.Extension())
	}
	if formatter.MIMEType() != "text/tab-separated-values" {
		t.Fatalf("unexpected MIME type: %s", formatter.MIMEType())
	}
}
