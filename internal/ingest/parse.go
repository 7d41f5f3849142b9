package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"engineroom/internal/types"
)

// Column aliases accepted for each logical field. Uploads come from several
// export pipelines that never agreed on headers, so extraction tries each
// alias in order and takes the first present value.
var (
	aliasID            = []string{"id", "item_id", "sku", "item_number"}
	aliasDescription   = []string{"description", "item_description", "name"}
	aliasUsage         = []string{"usage", "annual_usage", "qty", "quantity"}
	aliasUsageRank     = []string{"usage_rank", "rank", "velocity_code"}
	aliasAvgCost       = []string{"avg_cost", "average_cost", "cost", "unit_cost"}
	aliasCurrentPrice  = []string{"current_price", "price", "list_price", "unit_price"}
	aliasCurrentMargin = []string{"current_margin", "margin", "margin_pct"}
	aliasMarketLow     = []string{"market_low", "lowest_market_price", "market_min"}
	aliasPrevMarketLow = []string{"prev_market_low", "previous_market_low", "market_low_prev"}
	aliasCompetitors   = []string{"competitors", "competitor_prices"}
)

// ParseError reports a malformed upload row. The item is identified by its ID
// when one could be read, by its position otherwise.
type ParseError struct {
	Index  int
	ItemID string
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	id := e.ItemID
	if id == "" {
		id = fmt.Sprintf("row #%d", e.Index+1)
	} else {
		id = "item " + id
	}
	return fmt.Sprintf("%s: field %s: %s", id, e.Field, e.Reason)
}

// ParseItems validates and extracts an item upload. The payload shape is
// schema-checked first; rows are then read leniently (aliased columns, numeric
// strings accepted) but required fields must resolve or the row's error names
// the item and field. Usage ranks missing from the upload are derived from the
// usage distribution afterwards.
func ParseItems(raw []byte) ([]types.Item, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, fmt.Errorf("payload is empty")
	}
	if !gjson.Valid(trimmed) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}

	var doc any
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, fmt.Errorf("payload decode failed: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("payload shape invalid: %w", err)
	}

	parsed := gjson.Parse(trimmed)
	rows := parsed
	if parsed.IsObject() {
		rows = parsed.Get("items")
	}

	items := make([]types.Item, 0, int(rows.Get("#").Int()))
	var rowErr error
	idx := -1
	rows.ForEach(func(_, row gjson.Result) bool {
		idx++
		item, err := parseRow(idx, row)
		if err != nil {
			rowErr = err
			return false
		}
		items = append(items, item)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("payload contains no items")
	}

	AssignUsageRanks(items)
	backfillMargins(items)
	return items, nil
}

func parseRow(idx int, row gjson.Result) (types.Item, error) {
	item := types.Item{
		ID:          strings.TrimSpace(firstField(row, aliasID).String()),
		Description: strings.TrimSpace(firstField(row, aliasDescription).String()),
	}
	if item.ID == "" {
		return item, &ParseError{Index: idx, Field: "id", Reason: "required"}
	}

	cost, err := requireNumber(idx, item.ID, row, "avg_cost", aliasAvgCost)
	if err != nil {
		return item, err
	}
	price, err := requireNumber(idx, item.ID, row, "current_price", aliasCurrentPrice)
	if err != nil {
		return item, err
	}
	usage, err := requireNumber(idx, item.ID, row, "usage", aliasUsage)
	if err != nil {
		return item, err
	}
	if cost < 0 {
		return item, &ParseError{Index: idx, ItemID: item.ID, Field: "avg_cost", Reason: "must not be negative"}
	}
	if price < 0 {
		return item, &ParseError{Index: idx, ItemID: item.ID, Field: "current_price", Reason: "must not be negative"}
	}
	if usage < 0 {
		return item, &ParseError{Index: idx, ItemID: item.ID, Field: "usage", Reason: "must not be negative"}
	}
	item.AvgCost = cost
	item.CurrentPrice = price
	item.Usage = usage

	if rank := firstField(row, aliasUsageRank); rank.Exists() {
		item.UsageRank = int(rank.Int())
	}
	if m := firstField(row, aliasCurrentMargin); m.Exists() {
		v := m.Float()
		item.CurrentMargin = &v
	}
	if low := firstField(row, aliasMarketLow); low.Exists() && low.Float() > 0 {
		v := low.Float()
		item.MarketLow = &v
	}
	if prev := firstField(row, aliasPrevMarketLow); prev.Exists() && prev.Float() > 0 {
		v := prev.Float()
		item.PrevMarketLow = &v
	}
	item.Competitors = parseCompetitors(firstField(row, aliasCompetitors))
	return item, nil
}

// parseCompetitors reads a competitor map. Each entry is either a bare number
// (current price only) or an object with current/previous sides.
func parseCompetitors(node gjson.Result) map[string]types.CompetitorQuote {
	if !node.Exists() || !node.IsObject() {
		return nil
	}
	out := make(map[string]types.CompetitorQuote)
	node.ForEach(func(name, value gjson.Result) bool {
		key := strings.TrimSpace(name.String())
		if key == "" {
			return true
		}
		var q types.CompetitorQuote
		switch {
		case value.IsObject():
			if cur := firstField(value, []string{"current", "price"}); cur.Exists() && cur.Float() > 0 {
				v := cur.Float()
				q.Current = &v
			}
			if prev := firstField(value, []string{"previous", "prev", "prev_price"}); prev.Exists() && prev.Float() > 0 {
				v := prev.Float()
				q.Previous = &v
			}
		case value.Type == gjson.Number || value.Type == gjson.String:
			if v := value.Float(); v > 0 {
				q.Current = &v
			}
		}
		if q.Current != nil || q.Previous != nil {
			out[key] = q
		}
		return true
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

func firstField(row gjson.Result, names []string) gjson.Result {
	for _, name := range names {
		if v := row.Get(name); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func requireNumber(idx int, id string, row gjson.Result, field string, aliases []string) (float64, error) {
	v := firstField(row, aliases)
	if !v.Exists() {
		return 0, &ParseError{Index: idx, ItemID: id, Field: field, Reason: "required"}
	}
	switch v.Type {
	case gjson.Number:
		return v.Float(), nil
	case gjson.String:
		// Exports quote their numerics; accept them when they parse.
		s := strings.TrimSpace(v.String())
		if s == "" {
			return 0, &ParseError{Index: idx, ItemID: id, Field: field, Reason: "required"}
		}
		parsed := gjson.Parse(s)
		if parsed.Type == gjson.Number {
			return parsed.Float(), nil
		}
	}
	return 0, &ParseError{Index: idx, ItemID: id, Field: field, Reason: "must be a number"}
}

// backfillMargins fills in the current margin for rows that did not carry one.
func backfillMargins(items []types.Item) {
	for i := range items {
		if items[i].CurrentMargin != nil || items[i].CurrentPrice <= 0 {
			continue
		}
		m := (items[i].CurrentPrice - items[i].AvgCost) / items[i].CurrentPrice
		items[i].CurrentMargin = &m
	}
}
