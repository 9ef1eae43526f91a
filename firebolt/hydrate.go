package firebolt

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/querylayer/firebolt-driver/client"
)

// hydrateRow normalizes one row using its column metadata: numeric, non-null
// values become their decimal string representation so consumers never lose
// precision past the safe-integer range. Everything else passes through
// unchanged. Supplied to the engine client as the per-row callback so
// normalization happens inline with materialization and streaming.
func hydrateRow(row client.Row, meta []client.ColumnMeta) client.Row {
	hydrated := make(client.Row, len(row))
	for name, value := range row {
		hydrated[name] = value
	}
	for _, column := range meta {
		value, ok := hydrated[column.Name]
		if !ok || value == nil {
			continue
		}
		if !isNumericType(column.Type) {
			continue
		}
		hydrated[column.Name] = decimalString(value)
	}
	return hydrated
}

func decimalString(value any) string {
	switch v := value.(type) {
	case json.Number:
		return v.String()
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case *big.Int:
		return v.String()
	case *big.Float:
		return v.Text('f', -1)
	default:
		return fmt.Sprintf("%v", v)
	}
}
