// Package ingest turns a decoded submission into per-area records and writes
// them into the log table.
package ingest

import (
	"log/slog"
	"slices"
	"sort"

	"github.com/vbonduro/checkin/internal/domain"
	"github.com/vbonduro/checkin/internal/schema"
)

// Aggregate merges metaByArea and the uploaded file URLs (keyed by raw area
// label) into one record per canonical area. Every area named in either map
// gets a record, and a record's status is never empty.
//
// When several raw labels collapse to one area, the label already in
// canonical form is consulted first, then the rest in lexical order. Status
// and notes take the first non-empty value; URL lists are concatenated in
// that order. Differing non-empty values among colliding labels are logged
// at warn level on logger, which may be nil.
func Aggregate(logger *slog.Logger, metaByArea map[string]domain.AreaMeta, uploads map[string][]string) map[domain.Area]domain.AreaRecord {
	metaKeys := groupKeys(metaByArea)
	uploadKeys := groupKeys(uploads)

	out := make(map[domain.Area]domain.AreaRecord, len(metaKeys)+len(uploadKeys))
	for area := range metaKeys {
		out[area] = domain.AreaRecord{}
	}
	for area := range uploadKeys {
		out[area] = domain.AreaRecord{}
	}

	for area := range out {
		rec := domain.AreaRecord{PhotoURLs: []string{}}
		for _, k := range metaKeys[area] {
			m := metaByArea[k]
			if rec.Status == "" {
				rec.Status = m.Status
			}
			if rec.Notes == "" {
				rec.Notes = m.Note
			}
		}
		if keys := metaKeys[area]; logger != nil && len(keys) > 1 && conflicting(metaByArea, keys, rec) {
			logger.Warn("colliding area labels disagree",
				"area", area, "labels", keys, "status", rec.Status, "notes", rec.Notes)
		}
		if rec.Status == "" {
			rec.Status = domain.DefaultStatus
		}
		for _, k := range uploadKeys[area] {
			rec.PhotoURLs = append(rec.PhotoURLs, uploads[k]...)
		}
		out[area] = rec
	}
	return out
}

// conflicting reports whether any label in keys carries a non-empty status
// or note other than the one kept in rec.
func conflicting(metaByArea map[string]domain.AreaMeta, keys []string, rec domain.AreaRecord) bool {
	for _, k := range keys {
		m := metaByArea[k]
		if (m.Status != "" && m.Status != rec.Status) || (m.Note != "" && m.Note != rec.Notes) {
			return true
		}
	}
	return false
}

// SortedAreas returns the keys of records in lexical order.
func SortedAreas(records map[domain.Area]domain.AreaRecord) []domain.Area {
	areas := make([]domain.Area, 0, len(records))
	for a := range records {
		areas = append(areas, a)
	}
	slices.Sort(areas)
	return areas
}

func groupKeys[V any](m map[string]V) map[domain.Area][]string {
	groups := make(map[domain.Area][]string)
	for raw := range m {
		area := schema.Normalize(raw)
		groups[area] = append(groups[area], raw)
	}
	for area, keys := range groups {
		sort.Slice(keys, func(i, j int) bool {
			ci, cj := keys[i] == string(area), keys[j] == string(area)
			if ci != cj {
				return ci
			}
			return keys[i] < keys[j]
		})
	}
	return groups
}
