package backend

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"procodus.dev/telemetry-hub/internal/telemetry"
)

// Export formats for the log projection.
const (
	ExportCSV  = "csv"
	ExportXLSX = "xlsx"
)

const exportSheet = "Telemetry"

var exportHeader = []string{
	"id", "timestamp", "source",
	"temperature", "humidity", "pressure",
	"latitude", "longitude",
	"gx", "gy", "gz",
}

func readings(e telemetry.LogEntry) []telemetry.Reading {
	return []telemetry.Reading{
		e.Temperature, e.Humidity, e.Pressure,
		e.Latitude, e.Longitude,
		e.GX, e.GY, e.GZ,
	}
}

// exportContentType returns the media type and file extension of a format.
func exportContentType(format string) (string, bool) {
	switch format {
	case ExportCSV:
		return "text/csv; charset=utf-8", true
	case ExportXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", true
	default:
		return "", false
	}
}

// WriteLogs writes entries in the given format.
func WriteLogs(w io.Writer, format string, entries []telemetry.LogEntry) error {
	switch format {
	case ExportCSV:
		return writeCSV(w, entries)
	case ExportXLSX:
		return writeXLSX(w, entries)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func writeCSV(w io.Writer, entries []telemetry.LogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	row := make([]string, len(exportHeader))
	for _, e := range entries {
		row[0] = strconv.FormatUint(uint64(e.ID), 10)
		row[1] = e.Timestamp.UTC().Format(time.RFC3339Nano)
		row[2] = string(e.Source)
		for i, r := range readings(e) {
			row[3+i] = r.String()
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", e.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func writeXLSX(w io.Writer, entries []telemetry.LogEntry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetRowStyle(exportSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for idx, e := range entries {
		row := make([]any, 0, len(exportHeader))
		row = append(row, e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.Source))
		for _, r := range readings(e) {
			if r.Valid {
				row = append(row, r.Value)
			} else {
				row = append(row, telemetry.NotAvailable)
			}
		}

		cell, err := excelize.CoordinatesToCellName(1, idx+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", e.ID, err)
		}
	}

	if err := f.SetColWidth(exportSheet, "B", "B", 32); err != nil {
		return err
	}
	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
