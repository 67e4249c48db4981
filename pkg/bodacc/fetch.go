package bodacc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Fetcher drives the daily download: per-publication part files in the
// temp directory, merged into one NDJSON file per day.
type Fetcher struct {
	Client   *Client
	TmpDir   string
	DailyDir string
}

// DailyFileName names the per-day output, e.g. 20240131_bodacc_update.jsonl.
func DailyFileName(day time.Time) string {
	return day.Format("20060102") + "_bodacc_update.jsonl"
}

func partPrefix(day time.Time) string {
	return day.Format("20060102") + "_bodacc_update_part_"
}

// ResolveRange determines the fetch window. Defaults cover the last depth
// days ending yesterday; an end date of today or later clamps to
// yesterday; a start after the end is an error.
func ResolveRange(startStr, endStr string, depth int, now time.Time) (time.Time, time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)

	start := yesterday.AddDate(0, 0, -(depth - 1))
	if startStr != "" {
		parsed, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.Wrap(err, "parse start date")
		}
		start = parsed
	}

	end := yesterday
	if endStr != "" {
		parsed, err := time.Parse("2006-01-02", endStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.Wrap(err, "parse end date")
		}
		end = parsed
	}
	if !end.Before(today) {
		log.Infof("end date %s is not in the past, clamping to %s", end.Format("2006-01-02"), yesterday.Format("2006-01-02"))
		end = yesterday
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, errors.New("start date is after end date")
	}
	return start, end, nil
}

// Run fetches every day in [start, end]. Days whose daily file already
// exists are skipped. It returns every record fetched across the range.
func (f *Fetcher) Run(ctx context.Context, start, end time.Time) ([]Record, error) {
	if err := os.MkdirAll(f.DailyDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create daily directory")
	}
	if err := os.MkdirAll(f.TmpDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create temp directory")
	}

	var all []Record
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		target := filepath.Join(f.DailyDir, DailyFileName(day))
		if _, err := os.Stat(target); err == nil {
			log.Infof("daily file already present for %s, skipping", day.Format("2006-01-02"))
			continue
		}

		records, err := f.fetchDay(ctx, day)
		if err != nil {
			return all, err
		}
		if _, err := f.mergeDayParts(day); err != nil {
			return all, err
		}
		all = append(all, records...)
	}
	return all, nil
}

// fetchDay downloads the three publication types concurrently. Each type
// keeps its own keyset cursor and writes its own part files, so they never
// contend.
func (f *Fetcher) fetchDay(ctx context.Context, day time.Time) ([]Record, error) {
	log.Infof("fetching announcements for %s", day.Format("2006-01-02"))
	if err := f.cleanupDayParts(day); err != nil {
		return nil, err
	}

	perType := make([][]Record, len(PublicationTypes))
	g, gctx := errgroup.WithContext(ctx)
	for i, publication := range PublicationTypes {
		g.Go(func() error {
			records, err := f.fetchPublication(gctx, day, publication)
			perType[i] = records
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var combined []Record
	for _, records := range perType {
		combined = append(combined, records...)
	}
	return combined, nil
}

// fetchPublication pages through one publication type. Exhausted retries
// abandon the remaining pages for that type but do not fail the day; this
// mirrors the bulletin being best-effort per publication.
func (f *Fetcher) fetchPublication(ctx context.Context, day time.Time, publication string) ([]Record, error) {
	var all []Record
	var lastNumero int64
	pageIdx := 0

	for {
		records, err := f.Client.FetchPage(ctx, day, publication, lastNumero)
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			log.WithError(err).Errorf("abandoning publication %s for %s", publication, day.Format("2006-01-02"))
			return all, nil
		}

		log.Infof("day %s publication %s cursor %d: %d records", day.Format("2006-01-02"), publication, lastNumero, len(records))
		if len(records) == 0 {
			return all, nil
		}

		pageIdx++
		if err := f.writePartFile(day, publication, pageIdx, records); err != nil {
			return all, err
		}

		for _, record := range records {
			if record.Numero > lastNumero {
				lastNumero = record.Numero
			}
		}
		all = append(all, records...)

		if len(records) < f.Client.PerPage {
			return all, nil
		}
	}
}

func (f *Fetcher) writePartFile(day time.Time, publication string, pageIdx int, records []Record) error {
	path := filepath.Join(f.TmpDir, fmt.Sprintf("%s%s_%03d.jsonl", partPrefix(day), publication, pageIdx))

	out, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create part file")
	}
	defer out.Close()

	for _, record := range records {
		if _, err := out.Write(append(record.JSON, '\n')); err != nil {
			return errors.Wrap(err, "write part file")
		}
	}
	return nil
}

func (f *Fetcher) cleanupDayParts(day time.Time) error {
	parts, err := filepath.Glob(filepath.Join(f.TmpDir, partPrefix(day)+"*.jsonl"))
	if err != nil {
		return errors.Wrap(err, "list part files")
	}
	for _, part := range parts {
		if err := os.Remove(part); err != nil {
			log.WithError(err).Warnf("could not remove stale part %s", part)
		}
	}
	return nil
}

// mergeDayParts concatenates the day's part files, in sorted order, into
// the daily file. With no parts an empty daily file still gets created so
// the day counts as processed.
func (f *Fetcher) mergeDayParts(day time.Time) (string, error) {
	target := filepath.Join(f.DailyDir, DailyFileName(day))

	parts, err := filepath.Glob(filepath.Join(f.TmpDir, partPrefix(day)+"*.jsonl"))
	if err != nil {
		return "", errors.Wrap(err, "list part files")
	}
	sort.Strings(parts)

	out, err := os.Create(target)
	if err != nil {
		return "", errors.Wrap(err, "create daily file")
	}
	defer out.Close()

	if len(parts) == 0 {
		log.Infof("no announcements for %s, empty daily file created: %s", day.Format("2006-01-02"), target)
		return target, nil
	}

	for _, part := range parts {
		data, err := os.ReadFile(part)
		if err != nil {
			return "", errors.Wrap(err, "read part file")
		}
		if _, err := out.Write(data); err != nil {
			return "", errors.Wrap(err, "write daily file")
		}
	}
	for _, part := range parts {
		if err := os.Remove(part); err != nil {
			log.WithError(err).Warnf("could not remove merged part %s", part)
		}
	}

	log.Infof("daily file merged: %s", target)
	return target, nil
}
