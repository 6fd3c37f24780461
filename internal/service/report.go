package service

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"openfms/flic/internal/model"
)

const eventsSheet = "Events"

var eventColumns = []string{"Time", "Address", "Gateway", "Type", "Click Type", "Payload"}

// EventsWorkbook writes events into a single-sheet xlsx workbook with a
// header row.
func EventsWorkbook(address string, events []model.ButtonEvent) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", eventsSheet); err != nil {
		return nil, err
	}
	f.SetDocProps(&excelize.DocProperties{
		Title:   "Button events " + address,
		Creator: "flicapi",
	})

	for i, header := range eventColumns {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(eventsSheet, cell, header)
	}

	for i, ev := range events {
		row := i + 2
		f.SetCellValue(eventsSheet, fmt.Sprintf("A%d", row), ev.Time.UTC().Format(time.RFC3339))
		f.SetCellValue(eventsSheet, fmt.Sprintf("B%d", row), ev.Address)
		f.SetCellValue(eventsSheet, fmt.Sprintf("C%d", row), ev.GatewayID)
		f.SetCellValue(eventsSheet, fmt.Sprintf("D%d", row), ev.Type)
		f.SetCellValue(eventsSheet, fmt.Sprintf("E%d", row), ev.ClickType)
		f.SetCellValue(eventsSheet, fmt.Sprintf("F%d", row), ev.Payload)
	}

	f.SetColWidth(eventsSheet, "A", "A", 22)
	f.SetColWidth(eventsSheet, "B", "C", 20)
	f.SetColWidth(eventsSheet, "D", "E", 18)
	f.SetColWidth(eventsSheet, "F", "F", 60)
	f.SetPanes(eventsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return &buf, nil
}
