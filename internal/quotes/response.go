package quotes

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"watchlist-dashboard/internal/models"
)

// wireQuote is one element of a provider response. Numbers may arrive as JSON
// numbers or quoted strings, and providers disagree on the change field names.
type wireQuote struct {
	Symbol            string           `json:"symbol"`
	Price             *decimal.Decimal `json:"price"`
	Change            *decimal.Decimal `json:"change"`
	Delta             *decimal.Decimal `json:"delta"`
	ChangePercent     *decimal.Decimal `json:"changePercent"`
	ChangesPercentage *decimal.Decimal `json:"changesPercentage"`
}

type wireEnvelope struct {
	Quotes       []json.RawMessage `json:"quotes"`
	Data         []json.RawMessage `json:"data"`
	ErrorMessage string            `json:"Error Message"`
	Message      string            `json:"message"`
}

// rejected is an element skipped during decoding, kept for logging.
type rejected struct {
	Index  int
	Reason string
}

// decodeQuotes parses a provider body into quotes. The body must be a JSON
// array of quote objects, or an object holding one under "quotes" or "data".
// Every element needs a symbol, a price, a change (or delta) and a change
// percentage. Elements that cannot be read as a quote are skipped and
// reported.
func decodeQuotes(body []byte) ([]models.RawQuote, []rejected, error) {
	elements, err := splitElements(body)
	if err != nil {
		return nil, nil, err
	}

	quotes := make([]models.RawQuote, 0, len(elements))
	var skipped []rejected
	for i, raw := range elements {
		q, reason := decodeElement(raw)
		if reason != "" {
			skipped = append(skipped, rejected{Index: i, Reason: reason})
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, skipped, nil
}

func splitElements(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	switch trimmed[0] {
	case '[':
		var elements []json.RawMessage
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return nil, fmt.Errorf("decode quote array: %w", err)
		}
		return elements, nil
	case '{':
		var env wireEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("decode quote object: %w", err)
		}
		switch {
		case env.Quotes != nil:
			return env.Quotes, nil
		case env.Data != nil:
			return env.Data, nil
		case env.ErrorMessage != "":
			return nil, fmt.Errorf("provider error: %s", env.ErrorMessage)
		case env.Message != "":
			return nil, fmt.Errorf("provider error: %s", env.Message)
		}
		return nil, fmt.Errorf("object has no quotes or data array")
	}
	return nil, fmt.Errorf("unexpected response shape")
}

func decodeElement(raw json.RawMessage) (models.RawQuote, string) {
	var w wireQuote
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.RawQuote{}, err.Error()
	}
	if w.Symbol == "" {
		return models.RawQuote{}, "missing symbol"
	}
	if w.Price == nil {
		return models.RawQuote{}, "missing price"
	}

	change := firstOf(w.Change, w.Delta)
	if change == nil {
		return models.RawQuote{}, "missing change"
	}
	percent := firstOf(w.ChangePercent, w.ChangesPercentage)
	if percent == nil {
		return models.RawQuote{}, "missing changePercent"
	}

	return models.RawQuote{
		Symbol:        models.NormalizeSymbol(w.Symbol),
		Price:         w.Price.InexactFloat64(),
		Change:        change.InexactFloat64(),
		ChangePercent: percent.InexactFloat64(),
	}, ""
}

func firstOf(values ...*decimal.Decimal) *decimal.Decimal {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
