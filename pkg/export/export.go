package export

import (
	"fmt"
	"strings"
)

// Format names a supported output format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// Row is one scheduled session in an exported timetable.
type Row struct {
	Date        string `csv:"date"`
	Weekday     string `csv:"weekday"`
	Slot        string `csv:"slot"`
	Start       string `csv:"start"`
	End         string `csv:"end"`
	Subject     string `csv:"subject"`
	Kind        string `csv:"kind"`
	Participant string `csv:"participant"`
	Teacher     string `csv:"teacher"`
	Classroom   string `csv:"classroom"`
}

// Columns lists the header labels in Row field order.
var Columns = []string{"date", "weekday", "slot", "start", "end", "subject", "kind", "participant", "teacher", "classroom"}

func (r Row) values() []string {
	return []string{r.Date, r.Weekday, r.Slot, r.Start, r.End, r.Subject, r.Kind, r.Participant, r.Teacher, r.Classroom}
}

// Document is a titled list of rows.
type Document struct {
	Title string
	Rows  []Row
}

// Renderer turns a document into file bytes.
type Renderer interface {
	Render(Document) ([]byte, error)
	ContentType() string
	Extension() string
}

// ParseFormat normalises a user supplied format name.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatCSV, FormatPDF, FormatXLSX:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// ForFormat returns the renderer for f.
func ForFormat(f Format) (Renderer, error) {
	switch f {
	case FormatCSV:
		return NewCSVExporter(), nil
	case FormatPDF:
		return NewPDFExporter(), nil
	case FormatXLSX:
		return NewXLSXExporter(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", f)
	}
}
