package extract

import (
	"fmt"
	"sort"

	"github.com/larkpull/larkpull/internal/domain"
)

const unknownProduct = "unknown"

// Assets walks the attachment cells of each record and produces one
// descriptor per attachment, in field order then cell order. When
// attachmentFields is empty, any field whose value looks like an
// attachment list is used, in sorted name order so extraction stays
// deterministic.
func Assets(records []domain.Record, attachmentFields []string, productField string) []domain.Asset {
	var assets []domain.Asset

	for _, rec := range records {
		productID := textValue(rec.Fields[productField])
		if productID == "" {
			productID = unknownProduct
		}

		fields := attachmentFields
		if len(fields) == 0 {
			fields = detectAttachmentFields(rec.Fields)
		}

		for _, fieldName := range fields {
			cell, ok := rec.Fields[fieldName].([]any)
			if !ok {
				continue
			}

			for i, raw := range cell {
				att, ok := raw.(map[string]any)
				if !ok {
					continue
				}

				assets = append(assets, domain.Asset{
					RecordID:  rec.ID,
					ProductID: productID,
					FieldName: fieldName,
					Index:     i,
					FileToken: stringValue(att["file_token"]),
					FileName:  stringValue(att["name"]),
					Size:      intValue(att["size"]),
					MIMEType:  stringValue(att["type"]),
				})
			}
		}
	}

	return assets
}

// detectAttachmentFields finds fields whose value is a list of attachment
// objects (maps carrying a file_token).
func detectAttachmentFields(fields map[string]any) []string {
	var names []string
	for name, value := range fields {
		list, ok := value.([]any)
		if !ok || len(list) == 0 {
			continue
		}
		first, ok := list[0].(map[string]any)
		if !ok {
			continue
		}
		if _, hasToken := first["file_token"]; hasToken {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// textValue extracts a plain string from a Bitable cell. Rich-text cells
// arrive as a list of segments; the first segment's text wins, matching
// how product identifiers are read out of sequence columns.
func textValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		if len(val) == 0 {
			return ""
		}
		if seg, ok := val[0].(map[string]any); ok {
			return stringValue(seg["text"])
		}
		return ""
	case float64:
		return fmt.Sprintf("%v", val)
	default:
		return ""
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any) int64 {
	// JSON numbers decode as float64
	f, _ := v.(float64)
	return int64(f)
}
