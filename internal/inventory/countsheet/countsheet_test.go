package countsheet

import (
	"bytes"
	"testing"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func strPtr(s string) *string { return &s }

func TestExportThenParse(t *testing.T) {
	counted := 4
	detail := &service.CountDetail{
		Count: domain.InventoryCount{ID: "c-1", CountNumber: "CNT-20260301-0001", CountType: domain.CountTypeSpot},
		Lines: []domain.CountLine{
			{ProductID: "p-1", ExpectedQuantity: 50},
			{ProductID: "p-2", LotID: strPtr("lot-a"), LotNumber: strPtr("A"), ExpectedQuantity: 5, CountedQuantity: &counted},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, detail))

	// Fill in the missing count like an operator would.
	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue(sheetName, "E2", 47))
	var filled bytes.Buffer
	require.NoError(t, f.Write(&filled))
	require.NoError(t, f.Close())

	entries, rowErrs, err := Parse(&filled)
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, entries, 2)
	assert.Equal(t, service.CountEntry{ProductID: "p-1", Counted: 47}, entries[0])
	assert.Equal(t, "p-2", entries[1].ProductID)
	require.NotNil(t, entries[1].LotID)
	assert.Equal(t, "lot-a", *entries[1].LotID)
	assert.Equal(t, 4, entries[1].Counted)
}

func TestParse_RowErrors(t *testing.T) {
	f := excelize.NewFile()
	rows := [][]interface{}{
		{"Counted", "Product ID"},
		{"abc", "p-1"},
		{-2, "p-2"},
		{3, ""},
		{nil, "p-4"},
		{7, "p-5"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	entries, rowErrs, err := Parse(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p-5", entries[0].ProductID)
	require.Len(t, rowErrs, 3)
	assert.Equal(t, 2, rowErrs[0].Row)
	assert.Equal(t, 3, rowErrs[1].Row)
	assert.Equal(t, 4, rowErrs[2].Row)
}

func TestParse_MissingColumn(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Product ID"))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	_, _, err := Parse(&buf)
	assert.ErrorContains(t, err, "Counted")
}
