// Package report renders a progress snapshot as an XLSX workbook.
package report

import (
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-quest/internal/achievement"
	"github.com/p-n-ai/pai-quest/internal/snapshot"
	"github.com/p-n-ai/pai-quest/internal/stats"
)

// Sheet names, in workbook order.
const (
	SheetSummary = "Summary"
	SheetZones   = "Zones"
	SheetLevels  = "Levels"
	SheetBadges  = "Badges"
	SheetJournal = "Journal"
)

// Build creates the workbook for snap. The caller must Close it.
func Build(snap *snapshot.Snapshot) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		f.Close()
		return nil, fmt.Errorf("renaming default sheet: %w", err)
	}
	for _, name := range []string{SheetZones, SheetLevels, SheetBadges, SheetJournal} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#E0E7FF"}},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating header style: %w", err)
	}

	s := stats.Aggregate(snap.Zones)
	w := &writer{f: f, header: header}
	w.summary(snap, s)
	w.zones(s)
	w.levels(snap)
	w.badges(snap)
	w.journal(snap)
	if w.err != nil {
		f.Close()
		return nil, w.err
	}
	return f, nil
}

// Write renders snap and streams the workbook to out.
func Write(out io.Writer, snap *snapshot.Snapshot) error {
	f, err := Build(snap)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(out); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// writer keeps the first error so sheet builders stay linear.
type writer struct {
	f      *excelize.File
	header int
	err    error
}

func (w *writer) row(sheet string, n int, values ...any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetSheetRow(sheet, cell, &values); err != nil {
		w.err = fmt.Errorf("writing %s row %d: %w", sheet, n, err)
	}
}

func (w *writer) headerRow(sheet string, cols ...any) {
	w.row(sheet, 1, cols...)
	if w.err != nil {
		return
	}
	if err := w.f.SetRowStyle(sheet, 1, 1, w.header); err != nil {
		w.err = fmt.Errorf("styling %s header: %w", sheet, err)
		return
	}
	last, _ := excelize.ColumnNumberToName(len(cols))
	if err := w.f.SetColWidth(sheet, "A", last, 18); err != nil {
		w.err = fmt.Errorf("sizing %s columns: %w", sheet, err)
	}
}

func (w *writer) summary(snap *snapshot.Snapshot, s stats.Stats) {
	u := snap.User
	w.headerRow(SheetSummary, "Metric", "Value")
	rows := [][]any{
		{"XP", u.XP},
		{"Level", snapshot.LevelForXP(u.XP)},
		{"Streak (days)", u.Streak},
		{"Last visit", u.LastVisit},
		{"Levels completed", fmt.Sprintf("%d / %d", s.Completed, s.Total)},
		{"Completion %", s.Percent},
		{"Zones mastered", s.ZonesMastered},
		{"Badges", len(u.Badges)},
	}
	for i, r := range rows {
		w.row(SheetSummary, i+2, r...)
	}
}

func (w *writer) zones(s stats.Stats) {
	w.headerRow(SheetZones, "Zone", "Title", "Completed", "Total", "Percent", "Mastered")
	for i, z := range s.Zones {
		pct := 0
		if z.Total > 0 {
			pct = z.Completed * 100 / z.Total
		}
		w.row(SheetZones, i+2, z.ZoneID, z.Title, z.Completed, z.Total, pct, yesNo(z.Mastered()))
	}
}

func (w *writer) levels(snap *snapshot.Snapshot) {
	w.headerRow(SheetLevels, "Zone", "Level", "Title", "Status", "XP", "Hours", "Prerequisites", "Note")
	n := 2
	for _, z := range snap.Zones {
		for _, l := range z.Levels {
			hours := ""
			if l.Hours != nil {
				hours = fmt.Sprintf("%g", *l.Hours)
			}
			w.row(SheetLevels, n, z.ID, l.ID, l.Title, l.Status.String(), l.XPValue(), hours,
				strings.Join(l.Prereqs, ", "), snap.User.Notes[l.ID])
			n++
		}
	}
}

func (w *writer) badges(snap *snapshot.Snapshot) {
	w.headerRow(SheetBadges, "Badge", "Title", "Description", "Earned")
	for i, b := range achievement.Registry {
		w.row(SheetBadges, i+2, b.ID, b.Icon+" "+b.Title, b.Description, yesNo(slices.Contains(snap.User.Badges, b.ID)))
	}
}

func (w *writer) journal(snap *snapshot.Snapshot) {
	w.headerRow(SheetJournal, "Level", "At", "Entry")

	levels := make([]string, 0, len(snap.User.Journal))
	for id := range snap.User.Journal {
		levels = append(levels, id)
	}
	sort.Strings(levels)

	n := 2
	for _, id := range levels {
		for _, e := range snap.User.Journal[id] {
			w.row(SheetJournal, n, id, e.At.UTC().Format(time.RFC3339), e.Text)
			n++
		}
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
