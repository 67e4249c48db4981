package bodacc

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/afterdata/bodacc/pkg/config"
)

// WriteConsolidated drops two temp-directory artifacts covering the whole
// fetched range: a pretty-printed JSON array and a flattened CSV summary.
// Nothing is written when no record was fetched.
func WriteConsolidated(records []Record, tmpDir string, files config.Files) error {
	if len(records) == 0 {
		return nil
	}

	jsonPath := filepath.Join(tmpDir, files.TmpJSON+".json")
	if err := writeJSONArray(records, jsonPath); err != nil {
		return err
	}

	csvPath := filepath.Join(tmpDir, files.TmpCSV+".csv")
	if err := writeSummaryCSV(records, csvPath); err != nil {
		return err
	}

	log.Infof("consolidated temp outputs: %s and %s", jsonPath, csvPath)
	return nil
}

func writeJSONArray(records []Record, path string) error {
	var raw bytes.Buffer
	raw.WriteByte('[')
	for i, record := range records {
		if i > 0 {
			raw.WriteByte(',')
		}
		raw.Write(record.JSON)
	}
	raw.WriteByte(']')

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw.Bytes(), "", "  "); err != nil {
		return errors.Wrap(err, "format consolidated json")
	}
	return errors.Wrap(os.WriteFile(path, pretty.Bytes(), 0o644), "write consolidated json")
}

// writeSummaryCSV flattens the records over the union of their top-level
// fields. Nested values stay as raw JSON.
func writeSummaryCSV(records []Record, path string) error {
	keySet := make(map[string]struct{})
	for _, record := range records {
		gjson.ParseBytes(record.JSON).ForEach(func(key, _ gjson.Result) bool {
			keySet[key.String()] = struct{}{}
			return true
		})
	}
	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create summary csv")
	}
	defer f.Close()

	if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return errors.Wrap(err, "write summary csv")
	}

	w := csv.NewWriter(f)
	w.Comma = ';'

	if err := w.Write(keys); err != nil {
		return errors.Wrap(err, "write summary csv")
	}
	for _, record := range records {
		parsed := gjson.ParseBytes(record.JSON)
		row := make([]string, len(keys))
		for i, key := range keys {
			value := parsed.Get(key)
			if !value.Exists() {
				continue
			}
			if value.Type == gjson.JSON {
				row[i] = value.Raw
			} else {
				row[i] = value.String()
			}
		}
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "write summary csv")
		}
	}

	w.Flush()
	return errors.Wrap(w.Error(), "flush summary csv")
}
