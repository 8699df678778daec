package extract

import (
	"testing"

	"github.com/larkpull/larkpull/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attachment(token, name string, size float64) map[string]any {
	return map[string]any{
		"file_token": token,
		"name":       name,
		"size":       size,
		"type":       "image/png",
	}
}

func TestAssetsExplicitFields(t *testing.T) {
	records := []domain.Record{
		{
			ID: "r1",
			Fields: map[string]any{
				"商品编号": "SKU-1",
				"主图":   []any{attachment("ft-a", "a.png", 10), attachment("ft-b", "b.png", 20)},
				"详情图":  []any{attachment("ft-c", "c.png", 30)},
				"备注":   "ignored",
			},
		},
		{
			ID: "r2",
			Fields: map[string]any{
				"商品编号": "SKU-2",
				"主图":   []any{attachment("ft-d", "d.png", 40)},
			},
		},
	}

	assets := Assets(records, []string{"主图", "详情图"}, "商品编号")
	require.Len(t, assets, 4)

	assert.Equal(t, domain.Asset{
		RecordID: "r1", ProductID: "SKU-1", FieldName: "主图", Index: 0,
		FileToken: "ft-a", FileName: "a.png", Size: 10, MIMEType: "image/png",
	}, assets[0])
	assert.Equal(t, 1, assets[1].Index)
	assert.Equal(t, "详情图", assets[2].FieldName)
	assert.Equal(t, "SKU-2", assets[3].ProductID)
}

func TestAssetsAutodetectIsDeterministic(t *testing.T) {
	records := []domain.Record{
		{
			ID: "r1",
			Fields: map[string]any{
				"zeta":  []any{attachment("ft-z", "z.png", 1)},
				"alpha": []any{attachment("ft-a", "a.png", 1)},
				"text":  "not an attachment",
				"empty": []any{},
			},
		},
	}

	assets := Assets(records, nil, "商品编号")
	require.Len(t, assets, 2)
	assert.Equal(t, "alpha", assets[0].FieldName)
	assert.Equal(t, "zeta", assets[1].FieldName)
}

func TestAssetsMissingProductFallsBack(t *testing.T) {
	records := []domain.Record{
		{ID: "r1", Fields: map[string]any{
			"主图": []any{attachment("ft-a", "a.png", 1)},
		}},
	}

	assets := Assets(records, []string{"主图"}, "商品编号")
	require.Len(t, assets, 1)
	assert.Equal(t, "unknown", assets[0].ProductID)
}

func TestAssetsRichTextProductField(t *testing.T) {
	records := []domain.Record{
		{ID: "r1", Fields: map[string]any{
			"商品编号": []any{map[string]any{"text": "SKU-9", "type": "text"}},
			"主图":   []any{attachment("ft-a", "a.png", 1)},
		}},
		{ID: "r2", Fields: map[string]any{
			"商品编号": float64(12345),
			"主图":   []any{attachment("ft-b", "b.png", 1)},
		}},
	}

	assets := Assets(records, []string{"主图"}, "商品编号")
	require.Len(t, assets, 2)
	assert.Equal(t, "SKU-9", assets[0].ProductID)
	assert.Equal(t, "12345", assets[1].ProductID)
}

func TestAssetsSkipsMalformedCells(t *testing.T) {
	records := []domain.Record{
		{ID: "r1", Fields: map[string]any{
			"商品编号": "SKU-1",
			"主图":   []any{"not a map", attachment("ft-a", "a.png", 1)},
			"详情图":  "not a list",
		}},
	}

	assets := Assets(records, []string{"主图", "详情图"}, "商品编号")
	require.Len(t, assets, 1)
	assert.Equal(t, "ft-a", assets[0].FileToken)
	assert.Equal(t, 1, assets[0].Index, "cell position is kept even when neighbors are skipped")
}

func TestAssetsEmptyRecords(t *testing.T) {
	assert.Empty(t, Assets(nil, nil, "商品编号"))
	assert.Empty(t, Assets([]domain.Record{{ID: "r1", Fields: map[string]any{}}}, nil, "商品编号"))
}
