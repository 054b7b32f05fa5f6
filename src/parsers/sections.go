package parsers

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Row is one Data row of a statement section, with the leading section name
// and row type already stripped.
type Row []string

// Document is a scanned activity statement: every row starts with a section
// name and a row type (Header, Data, SubTotal, Total). The scanner groups
// the Data rows by section so each section can be decoded independently.
type Document struct {
	sections map[string][]Row
	order    []Row // every Data row in file order, for document-wide label scans
}

// ReadDocument scans the raw statement into named sections. It tolerates
// variable column counts per row; only unreadable CSV is an error.
func ReadDocument(r io.Reader) (*Document, error) {
	csvReader := csv.NewReader(r)
	// Sections have different column layouts.
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	doc := &Document{sections: make(map[string][]Row)}
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading statement document: %w", err)
		}
		if len(record) < 2 {
			continue
		}
		sectionName := record[0]
		rowType := record[1]
		// Only Data rows carry values; SubTotal/Total/Notes rows are decoration.
		if rowType != "Data" {
			continue
		}
		row := Row(record[2:])
		doc.sections[sectionName] = append(doc.sections[sectionName], row)
		doc.order = append(doc.order, row)
	}
	return doc, nil
}

// Section returns the Data rows of a named section and whether the section
// appeared in the document at all.
func (d *Document) Section(name string) ([]Row, bool) {
	rows, ok := d.sections[name]
	return rows, ok
}

// AdjacentValue scans every Data row in the document for a cell equal to
// label and returns the cell immediately after it. Some fields (management
// fee, net deposit) float outside their nominal section, so the lookup is
// document-wide.
func (d *Document) AdjacentValue(label string) (string, bool) {
	for _, row := range d.order {
		for i, cell := range row {
			if cell == label && i+1 < len(row) {
				return row[i+1], true
			}
		}
	}
	return "", false
}
