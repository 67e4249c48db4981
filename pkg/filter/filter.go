// Package filter reduces the daily BODACC files to the announcements that
// concern registered SIRENs and carry a distress keyword, producing one
// filtered NDJSON file per parution day.
package filter

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/afterdata/bodacc/pkg/siren"
)

// DefaultKeywords tag the judicial events the portfolio is watched for.
var DefaultKeywords = []string{
	"sauvegarde",
	"redressement judiciaire",
	"liquidation judiciaire",
	"radiation",
	"cloture pour insuffisance d'actifs",
}

// textFields lists the record fields inspected for keywords, beyond the
// generic text columns.
var textFields = []string{
	"texte", "text", "objet", "description", "resume",
	"familleavis_lib", "typeavis_lib", "jugement", "modificationsgenerales", "divers",
}

const filteredSuffix = "_bodacc_filtered.jsonl"

// Filter holds the inputs of the filtering stage.
type Filter struct {
	Registry  siren.Registry
	Keywords  []string
	TargetDir string
}

// Stats summarizes one filtering run.
type Stats struct {
	Processed int
	Kept      int
}

// DiscoverInputs lists the daily files to filter. An explicit list
// overrides directory discovery; paths that do not exist are dropped.
func DiscoverInputs(dailyDir string, explicit []string) []string {
	paths := explicit
	if len(paths) == 0 {
		matches, err := filepath.Glob(filepath.Join(dailyDir, "*_bodacc_update.jsonl"))
		if err == nil {
			sort.Strings(matches)
			paths = matches
		}
	}

	var existing []string
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			existing = append(existing, path)
		}
	}
	return existing
}

// Run filters every input file. For each parution day seen, a filtered
// file is written (possibly empty) unless one already exists.
func (f *Filter) Run(inputs []string) (Stats, error) {
	var stats Stats
	if len(inputs) == 0 {
		return stats, errors.New("no daily BODACC files to filter")
	}
	if len(f.Registry) == 0 {
		return stats, errors.New("no valid SIREN loaded, aborting")
	}
	if err := os.MkdirAll(f.TargetDir, 0o755); err != nil {
		return stats, errors.Wrap(err, "create filtered directory")
	}

	keywords := make([]string, 0, len(f.Keywords))
	for _, kw := range f.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, Fold(kw))
		}
	}
	if len(keywords) == 0 {
		for _, kw := range DefaultKeywords {
			keywords = append(keywords, Fold(kw))
		}
	}

	done := f.existingDays()
	for _, input := range inputs {
		if day, ok := dayFromFileName(input); ok && done[day] {
			log.Infof("filtered file already present for %s, skipping %s", day, input)
			continue
		}
		if err := f.filterFile(input, keywords, done, &stats); err != nil {
			log.WithError(err).Errorf("could not process %s", input)
			continue
		}
	}

	log.Infof("%d records read, %d kept", stats.Processed, stats.Kept)
	return stats, nil
}

func (f *Filter) filterFile(path string, keywords []string, done map[string]bool, stats *Stats) error {
	in, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open daily file")
	}
	defer in.Close()

	log.Infof("processing %s", path)

	keptPerDay := make(map[string][]string)
	seenDays := make(map[string]bool)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			log.Warnf("invalid JSON line ignored in %s", path)
			continue
		}
		stats.Processed++

		parution, _ := record["dateparution"].(string)
		day, ok := parseDay(parution)
		if !ok || done[day] {
			continue
		}
		seenDays[day] = true

		matches := matchedSirens(record, f.Registry)
		if len(matches) == 0 {
			continue
		}
		if !f.hasKeyword(record, keywords) {
			continue
		}

		record["topage_DDJC"] = "oui"
		enrich(record, matches, f.Registry)

		kept, err := json.Marshal(record)
		if err != nil {
			log.WithError(err).Warn("could not re-encode record, dropping")
			continue
		}
		keptPerDay[day] = append(keptPerDay[day], string(kept))
		stats.Kept++
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read daily file")
	}

	days := make([]string, 0, len(seenDays))
	for day := range seenDays {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		if err := f.writeDayFile(day, keptPerDay[day]); err != nil {
			return err
		}
		done[day] = true
	}
	return nil
}

// matchedSirens normalizes the record's registre values and keeps the ones
// present in the registry.
func matchedSirens(record map[string]any, registry siren.Registry) []string {
	var values []string
	switch v := record["registre"].(type) {
	case string:
		values = []string{v}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	default:
		return nil
	}

	var matches []string
	for _, value := range values {
		if id, ok := siren.Normalize(value); ok {
			if _, known := registry[id]; known {
				matches = append(matches, id)
			}
		}
	}
	return matches
}

func enrich(record map[string]any, matches []string, registry siren.Registry) {
	// Several SIRENs can match one announcement; the first one wins.
	affiliation, ok := registry[matches[0]]
	if !ok {
		return
	}
	record["MATRICULE_PICRIS_CCPMA"] = affiliation.CCPMA
	record["MATRICULE_PICRIS_CPCEA"] = affiliation.CPCEA
	record["MATRICULE_PICRIS_AGRI"] = affiliation.AGRI
}

func (f *Filter) hasKeyword(record map[string]any, keywords []string) bool {
	var parts []string
	for _, field := range textFields {
		if value, ok := record[field]; ok {
			parts = append(parts, collectText(value)...)
		}
	}
	if len(parts) == 0 {
		return false
	}

	content := Fold(strings.Join(parts, " "))
	for _, keyword := range keywords {
		if strings.Contains(content, keyword) {
			return true
		}
	}
	return false
}

// collectText gathers every string reachable under a value, descending
// into JSON stored inside string fields, which the BODACC feed does for
// jugement and modificationsgenerales.
func collectText(value any) []string {
	var texts []string
	switch v := value.(type) {
	case map[string]any:
		for _, child := range v {
			texts = append(texts, collectText(child)...)
		}
	case []any:
		for _, child := range v {
			texts = append(texts, collectText(child)...)
		}
	case string:
		texts = append(texts, v)
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var nested any
			if err := json.Unmarshal([]byte(trimmed), &nested); err == nil {
				texts = append(texts, collectText(nested)...)
			}
		}
	}
	return texts
}

func parseDay(value string) (string, bool) {
	for _, layout := range []string{"2006-01-02", "02/01/2006", "20060102"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("20060102"), true
		}
	}
	return "", false
}

func dayFromFileName(path string) (string, bool) {
	base := filepath.Base(path)
	head, _, _ := strings.Cut(base, "_")
	if len(head) == 8 {
		if _, err := time.Parse("20060102", head); err == nil {
			return head, true
		}
	}
	return "", false
}

func (f *Filter) existingDays() map[string]bool {
	done := make(map[string]bool)
	matches, err := filepath.Glob(filepath.Join(f.TargetDir, "*"+filteredSuffix))
	if err != nil {
		return done
	}
	for _, match := range matches {
		name := filepath.Base(match)
		if len(name) >= 8 {
			done[name[:8]] = true
		}
	}
	return done
}

// writeDayFile marks a day as processed, writing an empty file when
// nothing was kept. Existing files are never rewritten.
func (f *Filter) writeDayFile(day string, lines []string) error {
	target := filepath.Join(f.TargetDir, day+filteredSuffix)
	if _, err := os.Stat(target); err == nil {
		log.Infof("filtered file already present, not regenerating: %s", target)
		return nil
	}

	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return errors.Wrap(err, "write filtered file")
	}
	log.Infof("wrote %s (%d records)", target, len(lines))
	return nil
}
