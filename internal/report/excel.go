package report

import (
	"bytes"
	"fmt"
	"time"

	"medsched/internal/adherence"

	"github.com/xuri/excelize/v2"
)

// AdherenceExportHeader 依从性报表表头
var AdherenceExportHeader = []string{
	"Patient ID",
	"Patient Name",
	"Total Doses",
	"Taken Doses",
	"Compliance Rate (%)",
}

// AdherenceRow 报表中的一行（患者名由调用方补充）
type AdherenceRow struct {
	PatientName string
	Compliance  adherence.Compliance
}

// GenerateAdherenceExport 生成依从性报表 Excel 文件
// 报表展现层（PDF/HTML）在外部系统，这里只产出供其消费的数据表
func GenerateAdherenceExport(window adherence.ComplianceWindow, rows []AdherenceRow) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	sheetName := "Adherence"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	// 报表窗口说明行
	windowLabel := fmt.Sprintf("Adherence %s to %s",
		window.Start.Format("2006-01-02"), window.End.Format("2006-01-02"))
	if err := f.SetCellValue(sheetName, "A1", windowLabel); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set window label: %w", err)
	}

	// 表头
	for i, header := range AdherenceExportHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 2)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to build header cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header: %w", err)
		}
	}

	// 数据行
	for rowIdx, row := range rows {
		values := []interface{}{
			row.Compliance.PatientID,
			row.PatientName,
			row.Compliance.Total,
			row.Compliance.Taken,
			row.Compliance.Rate,
		}
		for colIdx, value := range values {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+3)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to build data cell: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value: %w", err)
			}
		}
	}

	// 生成时间戳放在数据区下方
	stampCell, err := excelize.CoordinatesToCellName(1, len(rows)+4)
	if err == nil {
		_ = f.SetCellValue(sheetName, stampCell,
			fmt.Sprintf("Generated at %s", time.Now().Format(time.RFC3339)))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel file: %w", err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel file: %w", err)
	}

	return buf.Bytes(), nil
}
