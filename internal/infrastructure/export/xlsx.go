// Package export renders approver statistics into spreadsheet reports
package export

import (
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

const (
	SheetSummary  = "Summary"
	SheetRuleType = "By Rule Type"
	SheetDay      = "By Day"
)

var countHeader = []interface{}{"Pending", "Approved", "Rejected", "Total"}

// ExcelRenderer implements port.StatisticsRenderer with an xlsx workbook of three sheets
type ExcelRenderer struct {
	logger *zap.Logger
}

var _ port.StatisticsRenderer = (*ExcelRenderer)(nil)

// NewExcelRenderer creates a new ExcelRenderer
func NewExcelRenderer(logger *zap.Logger) *ExcelRenderer {
	return &ExcelRenderer{logger: logger}
}

func (r *ExcelRenderer) Extension() string { return ".xlsx" }

// RenderStatistics writes one summary row per approver, then per rule type and per day breakdowns
func (r *ExcelRenderer) RenderStatistics(stats []*entity.ApproverStats) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{SheetRuleType, SheetDay} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	summary := [][]interface{}{append([]interface{}{"Approver", "From", "To"}, countHeader...)}
	byType := [][]interface{}{append([]interface{}{"Approver", "Rule Type"}, countHeader...)}
	byDay := [][]interface{}{append([]interface{}{"Approver", "Day"}, countHeader...)}

	for _, st := range stats {
		summary = append(summary, append([]interface{}{st.ApproverID, formatBound(st.Range.From), formatBound(st.Range.To)}, countRow(st.StatusCounts)...))
		for _, key := range sortedKeys(st.ByRuleType) {
			byType = append(byType, append([]interface{}{st.ApproverID, key}, countRow(st.ByRuleType[key])...))
		}
		for _, key := range sortedKeys(st.ByDay) {
			byDay = append(byDay, append([]interface{}{st.ApproverID, key}, countRow(st.ByDay[key])...))
		}
	}

	for sheet, rows := range map[string][][]interface{}{SheetSummary: summary, SheetRuleType: byType, SheetDay: byDay} {
		if err := r.writeSheet(f, sheet, rows, headerStyle); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	r.logger.Info("Statistics workbook rendered",
		zap.Int("approvers", len(stats)),
		zap.Int("size", buf.Len()))
	return buf.Bytes(), nil
}

func (r *ExcelRenderer) writeSheet(f *excelize.File, sheet string, rows [][]interface{}, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}

	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		r.logger.Warn("Failed to style header", zap.String("sheet", sheet), zap.Error(err))
	}
	if err := f.SetColWidth(sheet, "A", "B", 22); err != nil {
		r.logger.Warn("Failed to set column width", zap.String("sheet", sheet), zap.Error(err))
	}
	return nil
}

func countRow(c entity.StatusCounts) []interface{} {
	return []interface{}{c.Pending, c.Approved, c.Rejected, c.Pending + c.Approved + c.Rejected}
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func sortedKeys(m map[string]entity.StatusCounts) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
