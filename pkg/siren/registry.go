package siren

import (
	"bytes"
	"encoding/csv"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Affiliation carries the PICRIS matricules attached to a SIREN.
type Affiliation struct {
	CCPMA string
	CPCEA string
	AGRI  string
}

// Registry maps a 9-digit SIREN to its affiliation details.
type Registry map[string]Affiliation

// Normalize strips everything but digits from a raw SIREN value and
// reports whether the result is a valid 9-digit identifier.
func Normalize(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	return s, len(s) == 9
}

// LoadRegistry parses the registry CSV written by the extraction stage.
// Rows whose SIREN does not normalize to 9 digits are counted and skipped.
// When the CODE_SIREN column is absent, the first column is used.
func LoadRegistry(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read registry")
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = ';'
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parse registry")
	}
	if len(rows) == 0 {
		return Registry{}, nil
	}

	col := columnIndex(rows[0])
	start := 0
	if col.header {
		start = 1
	}

	registry := make(Registry)
	invalid := 0
	for _, row := range rows[start:] {
		if len(row) == 0 {
			continue
		}
		raw := strings.TrimSpace(field(row, col.siren))
		id, ok := Normalize(raw)
		if !ok {
			if raw != "" {
				invalid++
			}
			continue
		}
		registry[id] = Affiliation{
			CCPMA: strings.TrimSpace(field(row, col.ccpma)),
			CPCEA: strings.TrimSpace(field(row, col.cpcea)),
			AGRI:  strings.TrimSpace(field(row, col.agri)),
		}
	}

	log.WithField("sirens", len(registry)).Infof("registry loaded from %s", path)
	if invalid > 0 {
		log.Warnf("%d invalid SIREN entries ignored in %s", invalid, path)
	}
	return registry, nil
}

type columns struct {
	header bool
	siren  int
	ccpma  int
	cpcea  int
	agri   int
}

func columnIndex(header []string) columns {
	col := columns{siren: 0, ccpma: -1, cpcea: -1, agri: -1}
	for i, name := range header {
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case "CODE_SIREN":
			col.header = true
			col.siren = i
		case "MATRICULE_PICRIS_CCPMA":
			col.ccpma = i
		case "MATRICULE_PICRIS_CPCEA":
			col.cpcea = i
		case "MATRICULE_PICRIS_AGRI":
			col.agri = i
		}
	}
	return col
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
