package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	telemetry "cyclerhub/internal/telemetry/domain"
)

const exportTimeLayout = time.RFC3339

// BuildStatusXLSX renders the fleet status summary as a workbook.
func BuildStatusXLSX(summary []telemetry.DeviceStatus) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "status"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Device", "Online", "Last Heartbeat", "Snapshot At", "Channels", "Active", "Total Power (W)", "Alarms", "Critical"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, header)
	}

	for i, status := range summary {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), status.DeviceID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), status.Online)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), status.LastHeartbeat.Format(exportTimeLayout))
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), status.SnapshotAt.Format(exportTimeLayout))
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), status.ChannelCount)
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", row), status.ActiveChannels)
		_ = f.SetCellValue(sheet, fmt.Sprintf("G%d", row), status.TotalPower)
		_ = f.SetCellValue(sheet, fmt.Sprintf("H%d", row), status.AlarmCount)
		_ = f.SetCellValue(sheet, fmt.Sprintf("I%d", row), status.HasCriticalAlarm)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatusPDF renders the fleet status summary as a minimal PDF table.
func BuildStatusPDF(summary []telemetry.DeviceStatus) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Device Status Summary")
	pdf.Ln(6)
	pdf.SetFont("Arial", "", 9)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(exportTimeLayout)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(50, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(18, 6, "Online", "1", 0, "C", false, 0, "")
	pdf.CellFormat(48, 6, "Last Heartbeat", "1", 0, "C", false, 0, "")
	pdf.CellFormat(24, 6, "Channels", "1", 0, "C", false, 0, "")
	pdf.CellFormat(24, 6, "Active", "1", 0, "C", false, 0, "")
	pdf.CellFormat(34, 6, "Total Power (W)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Alarms", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Critical", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, status := range summary {
		pdf.CellFormat(50, 6, status.DeviceID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(18, 6, fmt.Sprintf("%t", status.Online), "1", 0, "C", false, 0, "")
		pdf.CellFormat(48, 6, status.LastHeartbeat.Format(exportTimeLayout), "1", 0, "C", false, 0, "")
		pdf.CellFormat(24, 6, fmt.Sprintf("%d", status.ChannelCount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(24, 6, fmt.Sprintf("%d", status.ActiveChannels), "1", 0, "R", false, 0, "")
		pdf.CellFormat(34, 6, fmt.Sprintf("%.2f", status.TotalPower), "1", 0, "R", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", status.AlarmCount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(22, 6, fmt.Sprintf("%t", status.HasCriticalAlarm), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
