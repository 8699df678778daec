package feishu

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/larkpull/larkpull/internal/domain"
)

const recordPageSize = 100

type tablesResponse struct {
	apiEnvelope
	Data struct {
		Items []domain.Table `json:"items"`
	} `json:"data"`
}

type recordsResponse struct {
	apiEnvelope
	Data struct {
		HasMore   bool            `json:"has_more"`
		PageToken string          `json:"page_token"`
		Items     []domain.Record `json:"items"`
	} `json:"data"`
}

// ListTables returns the tables of the configured Bitable app.
func (c *Client) ListTables(ctx context.Context) ([]domain.Table, error) {
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables", c.appToken)

	var out tablesResponse
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Code != 0 {
		return nil, fmt.Errorf("list tables: code %d: %s", out.Code, out.Msg)
	}
	return out.Data.Items, nil
}

// ListRecords fetches every record of a table, following page tokens until
// the API reports no more pages.
func (c *Client) ListRecords(ctx context.Context, tableID string) ([]domain.Record, error) {
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records", c.appToken, tableID)

	var records []domain.Record
	pageToken := ""

	for {
		q := url.Values{}
		q.Set("page_size", strconv.Itoa(recordPageSize))
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}

		var out recordsResponse
		if err := c.getJSON(ctx, path, q, &out); err != nil {
			return nil, err
		}
		if out.Code != 0 {
			return nil, fmt.Errorf("list records for %s: code %d: %s", tableID, out.Code, out.Msg)
		}

		records = append(records, out.Data.Items...)

		if !out.Data.HasMore || out.Data.PageToken == "" {
			break
		}
		pageToken = out.Data.PageToken
	}

	c.logger.Debug("Fetched %d records from table %s", len(records), tableID)
	return records, nil
}
