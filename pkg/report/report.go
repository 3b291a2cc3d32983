// Package report renders the roster as a spreadsheet for end-of-day handover.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/astromechza/roomboard/pkg/rooms"
)

const sheet = "Rooms"

var header = []any{"Room", "Category", "Active", "Checked out", "Notes", "Updated"}

// Write emits one row per room in the order given.
func Write(w io.Writer, roster []rooms.Room, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	active, checked := 0, 0
	for i, r := range roster {
		updated := ""
		if !r.UpdatedAt.IsZero() {
			updated = r.UpdatedAt.Local().Format(time.DateTime)
		}
		row := []any{r.ID, r.Category, yesNo(r.IsActive), yesNo(r.IsCheckout), r.Notes, updated}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write room %s: %w", r.ID, err)
		}
		if r.IsActive {
			active++
			if r.IsCheckout {
				checked++
			}
		}
	}

	summary, err := excelize.CoordinatesToCellName(1, len(roster)+3)
	if err != nil {
		return err
	}
	line := []any{"Progress", fmt.Sprintf("%d/%d", checked, active), "Generated", generatedAt.Local().Format(time.DateTime)}
	if err := f.SetSheetRow(sheet, summary, &line); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := f.SetColWidth(sheet, "E", "E", 40); err != nil {
		return fmt.Errorf("failed to size notes column: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
