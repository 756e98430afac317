package bitrix

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// максимальный размер тела ответа, который попадает в текст ошибки
const maxDetailLen = 4096

// Payload разобранный JSON-ответ Bitrix24.
type Payload map[string]any

// Result возвращает объект result, если он есть.
func (p Payload) Result() (map[string]any, bool) {
	res, ok := p["result"].(map[string]any)
	return res, ok
}

func (p Payload) String() string {
	b, err := json.Marshal(map[string]any(p))
	if err != nil {
		return fmt.Sprint(map[string]any(p))
	}
	return string(b)
}

// decodePayload разбирает ответ Bitrix24. Не-JSON тело и ответ с ключом error
// превращаются в *RemoteError.
func decodePayload(status int, body []byte) (Payload, error) {
	var payload Payload

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil || payload == nil {
		return nil, &RemoteError{
			Code:   CodeNonJSON,
			Detail: fmt.Sprintf("HTTP %d: %s", status, truncate(string(body), maxDetailLen)),
		}
	}

	if code, ok := payload["error"]; ok {
		return nil, &RemoteError{
			Code:   stringOr(code, CodeUnknown),
			Detail: stringOr(payload["error_description"], ""),
		}
	}

	return payload, nil
}

var (
	idKeys        = []string{"ID", "id", "FILE_ID", "fileId"}
	containerKeys = []string{"FILE", "file", "ITEM", "item", "OBJECT", "object"}
)

// ExtractDiskFileID ищет ID файла диска в ответе: сначала прямо в result, затем
// на один уровень глубже в известных контейнерах.
//
// Примеры:
//
//	{"result":{"ID":"5"}}              -> 5, true
//	{"result":{"file":{"ID":"77"}}}    -> 77, true
//	{"result":{}}                      -> 0, false
func ExtractDiskFileID(p Payload) (int64, bool) {
	result, ok := p.Result()
	if !ok {
		return 0, false
	}

	if id, ok := findID(result); ok {
		return id, true
	}

	for _, key := range containerKeys {
		if nested, ok := result[key].(map[string]any); ok {
			if id, ok := findID(nested); ok {
				return id, true
			}
		}
	}

	return 0, false
}

func findID(obj map[string]any) (int64, bool) {
	for _, key := range idKeys {
		if v, ok := obj[key]; ok {
			if id, ok := parseID(v); ok {
				return id, true
			}
		}
	}
	return 0, false
}

// parseID принимает число или строку с числом.
func parseID(v any) (int64, bool) {
	switch v := v.(type) {
	case json.Number:
		if id, err := v.Int64(); err == nil {
			return id, true
		}
		if f, err := v.Float64(); err == nil && !math.IsInf(f, 0) {
			return int64(f), true
		}
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return id, true
		}
	}
	return 0, false
}

func stringOr(v any, def string) string {
	switch v := v.(type) {
	case nil:
		return def
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
