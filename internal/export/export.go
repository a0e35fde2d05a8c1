package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"bookslot/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Bookings"

var headers = []string{"UID", "Event", "Date", "Start", "End", "Status", "Guest", "Email", "Guest timezone", "Location", "Rescheduled from", "Cancellation reason"}

// Row is one exported booking.
type Row struct {
	Booking  models.Booking
	Attendee *models.Attendee
}

// Exporter renders bookings into xlsx workbooks.
type Exporter struct {
	dir    string
	logger *zerolog.Logger
}

func NewExporter(dir string, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{dir: dir, logger: logger}
}

// Write streams the workbook for [from, to] with times shown in loc.
func (e *Exporter) Write(w io.Writer, rows []Row, from, to time.Time, loc *time.Location) error {
	f, err := build(rows, from, to, loc)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// Save writes the workbook into the exports directory and returns its path.
func (e *Exporter) Save(rows []Row, from, to time.Time, loc *time.Location) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := build(rows, from, to, loc)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fileName := fmt.Sprintf("bookings_%s_to_%s.xlsx", from.In(loc).Format("2006-01-02"), to.In(loc).Format("2006-01-02"))
	filePath := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("bookings", len(rows)).Msg("Excel file created")
	return filePath, nil
}

// FileName is the download name for a range.
func FileName(from, to time.Time, loc *time.Location) string {
	return fmt.Sprintf("bookings_%s_to_%s.xlsx", from.In(loc).Format("2006-01-02"), to.In(loc).Format("2006-01-02"))
}

func build(rows []Row, from, to time.Time, loc *time.Location) (*excelize.File, error) {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Period: %s - %s (%s)",
		from.In(loc).Format("2006-01-02"), to.In(loc).Format("2006-01-02"), loc.String()))
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, h)
	}
	_ = f.SetCellStyle(sheetName, "A2", lastCol+"2", headerStyle)

	cancelledStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "#9C0006", Strike: true},
	})

	for i, r := range rows {
		row := i + 3
		b := r.Booking
		start := b.StartTime.In(loc)
		values := []interface{}{
			b.UID,
			b.Title,
			start.Format("2006-01-02"),
			start.Format("15:04"),
			b.EndTime.In(loc).Format("15:04"),
			b.Status,
			"",
			"",
			"",
			b.LocationValue,
			b.RescheduledFromUID,
			b.CancellationReason,
		}
		if r.Attendee != nil {
			values[6], values[7], values[8] = r.Attendee.Name, r.Attendee.Email, r.Attendee.Timezone
		}

		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("error writing row %d: %w", row, err)
		}
		if b.Status == models.BookingCancelled {
			last, _ := excelize.CoordinatesToCellName(len(headers), row)
			_ = f.SetCellStyle(sheetName, cell, last, cancelledStyle)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", lastCol, 18)
	return f, nil
}
