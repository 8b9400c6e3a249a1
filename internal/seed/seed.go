// Package seed parses the disease reference sheet into catalog rows.
package seed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cropdoc/api/internal/store"
)

// CropName is the crop every sheet row belongs to.
const CropName = "Maize"

// DiseaseNames maps the sheet's disease names onto the model's class labels.
var DiseaseNames = map[string]string{
	"Fall armyworm (pest)":          "Fall Army Worm",
	"Common Rust (Fungal)":          "Common Rust",
	"Northern Leaf Blight (Fungal)": "Northern Leaf Blight",
	"Gray Leaf Spot (Fungal)":       "Grey Leaf Spot",
	"Northern Leaf Spot (Fungal)":   "Northern Leaf Spot",
	"Healthy":                       "Healthy",
}

var requiredColumns = []string{"Disease", "Symptoms", "Prevention", "Treatment"}

// Sheet is the parsed content of a reference CSV.
type Sheet struct {
	Entries []store.SeedDisease
	Skipped []string
}

// ParseCSV reads a sheet with a Disease,Symptoms,Prevention,Treatment
// header. Column order is free and extra columns are ignored. Rows whose
// disease is not in DiseaseNames are reported in Skipped.
func ParseCSV(r io.Reader) (*Sheet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	field := func(rec []string, name string) string {
		if i := col[name]; i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	sheet := &Sheet{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		raw := field(rec, "Disease")
		name, ok := DiseaseNames[raw]
		if !ok {
			sheet.Skipped = append(sheet.Skipped, raw)
			continue
		}
		sheet.Entries = append(sheet.Entries, store.SeedDisease{
			Name:       name,
			Symptoms:   field(rec, "Symptoms"),
			Prevention: field(rec, "Prevention"),
			DrugName:   "Recommended Treatment for " + name,
			Treatment:  field(rec, "Treatment"),
		})
	}
	return sheet, nil
}
