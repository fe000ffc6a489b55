package report_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-quest/internal/achievement"
	"github.com/p-n-ai/pai-quest/internal/graph"
	"github.com/p-n-ai/pai-quest/internal/report"
	"github.com/p-n-ai/pai-quest/internal/snapshot"
)

func testSnapshot() *snapshot.Snapshot {
	hours := 1.5
	user := snapshot.NewLearner()
	user.XP = 300
	user.Streak = 4
	user.LastVisit = "2026-03-10"
	user.Badges = []string{achievement.FirstStep, achievement.ZoneMaster}
	user.Notes["L2"] = "revisit closures"
	user.Journal["L1"] = []snapshot.JournalEntry{
		{ID: "j1", At: time.Date(2026, 3, 9, 18, 0, 0, 0, time.UTC), Text: "first program ran"},
	}

	return &snapshot.Snapshot{
		Zones: []graph.Zone{
			{ID: "z1", Title: "Foundations", Levels: []graph.Level{
				{ID: "L1", Title: "Variables", XP: 100, Hours: &hours, Status: graph.Complete},
				{ID: "L2", Title: "Functions", XP: 200, Status: graph.Complete},
			}},
			{ID: "z2", Title: "Structures", Levels: []graph.Level{
				{ID: "L3", Title: "Maps", XP: 300, Prereqs: []string{"L1", "L2"}, Status: graph.Unlocked},
			}},
		},
		User:     user,
		Settings: snapshot.DefaultSettings(),
	}
}

func openReport(t *testing.T, snap *snapshot.Snapshot) *excelize.File {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, report.Write(&buf, snap))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestWrite_Sheets(t *testing.T) {
	f := openReport(t, testSnapshot())

	assert.Equal(t,
		[]string{report.SheetSummary, report.SheetZones, report.SheetLevels, report.SheetBadges, report.SheetJournal},
		f.GetSheetList())
}

func TestWrite_Levels(t *testing.T) {
	f := openReport(t, testSnapshot())

	rows, err := f.GetRows(report.SheetLevels)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, []string{"Zone", "Level", "Title", "Status", "XP", "Hours", "Prerequisites", "Note"}, rows[0])
	assert.Equal(t, "complete", rows[1][3])
	assert.Equal(t, "1.5", rows[1][5])
	assert.Equal(t, "revisit closures", rows[2][7])
	assert.Equal(t, "L1, L2", rows[3][6])
}

func TestWrite_ZonesAndSummary(t *testing.T) {
	f := openReport(t, testSnapshot())

	zones, err := f.GetRows(report.SheetZones)
	require.NoError(t, err)
	require.Len(t, zones, 3)
	assert.Equal(t, []string{"z1", "Foundations", "2", "2", "100", "yes"}, zones[1])
	assert.Equal(t, "no", zones[2][5])

	xp, err := f.GetCellValue(report.SheetSummary, "B2")
	require.NoError(t, err)
	assert.Equal(t, "300", xp)

	completed, err := f.GetCellValue(report.SheetSummary, "B6")
	require.NoError(t, err)
	assert.Equal(t, "2 / 3", completed)
}

func TestWrite_BadgesAndJournal(t *testing.T) {
	f := openReport(t, testSnapshot())

	badges, err := f.GetRows(report.SheetBadges)
	require.NoError(t, err)
	require.Len(t, badges, len(achievement.Registry)+1)

	earned := map[string]string{}
	for _, r := range badges[1:] {
		earned[r[0]] = r[3]
	}
	assert.Equal(t, "yes", earned[achievement.FirstStep])
	assert.Equal(t, "no", earned[achievement.Completionist])

	journal, err := f.GetRows(report.SheetJournal)
	require.NoError(t, err)
	require.Len(t, journal, 2)
	assert.Equal(t, []string{"L1", "2026-03-09T18:00:00Z", "first program ran"}, journal[1])
}

func TestWrite_EmptySnapshot(t *testing.T) {
	f := openReport(t, &snapshot.Snapshot{Zones: []graph.Zone{}, User: snapshot.NewLearner()})

	rows, err := f.GetRows(report.SheetLevels)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
