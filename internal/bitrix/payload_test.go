package bitrix

import (
	"errors"
	"strings"
	"testing"

	"github.com/nalgeon/be"
)

func mustDecode(t *testing.T, s string) Payload {
	t.Helper()
	p, err := decodePayload(200, []byte(s))
	be.Err(t, err, nil)
	return p
}

func TestExtractDiskFileID(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		wantID int64
		wantOK bool
	}{
		{"nested_file", `{"result":{"file":{"ID":"77"}}}`, 77, true},
		{"direct_id", `{"result":{"ID":"5"}}`, 5, true},
		{"direct_number", `{"result":{"ID":12}}`, 12, true},
		{"lower_id", `{"result":{"id":"8"}}`, 8, true},
		{"file_id_key", `{"result":{"FILE_ID":9}}`, 9, true},
		{"camel_file_id", `{"result":{"fileId":"10"}}`, 10, true},
		{"item_container", `{"result":{"ITEM":{"id":11}}}`, 11, true},
		{"object_container", `{"result":{"object":{"fileId":"13"}}}`, 13, true},
		{"direct_wins", `{"result":{"ID":"1","FILE":{"ID":"2"}}}`, 1, true},
		{"key_order", `{"result":{"fileId":"4","ID":"3"}}`, 3, true},
		{"skip_non_numeric", `{"result":{"ID":"abc","id":"6"}}`, 6, true},
		{"empty_result", `{"result":{}}`, 0, false},
		{"no_result", `{"time":{}}`, 0, false},
		{"result_not_object", `{"result":true}`, 0, false},
		{"too_deep", `{"result":{"file":{"item":{"ID":1}}}}`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ExtractDiskFileID(mustDecode(t, tt.body))
			be.Equal(t, ok, tt.wantOK)
			be.Equal(t, id, tt.wantID)
		})
	}
}

func TestDecodePayload(t *testing.T) {
	t.Run("non_json", func(t *testing.T) {
		_, err := decodePayload(502, []byte("<html>Bad Gateway</html>"))
		var re *RemoteError
		be.True(t, errors.As(err, &re))
		be.Equal(t, re.Code, CodeNonJSON)
		be.Equal(t, re.Detail, "HTTP 502: <html>Bad Gateway</html>")
	})

	t.Run("json_array", func(t *testing.T) {
		_, err := decodePayload(200, []byte(`[1,2]`))
		var re *RemoteError
		be.True(t, errors.As(err, &re))
		be.Equal(t, re.Code, CodeNonJSON)
	})

	t.Run("remote_error", func(t *testing.T) {
		_, err := decodePayload(400, []byte(`{"error":"INVALID_RESPONSIBLE","error_description":"Responsible not found"}`))
		var re *RemoteError
		be.True(t, errors.As(err, &re))
		be.Equal(t, re.Code, "INVALID_RESPONSIBLE")
		be.Equal(t, re.Detail, "Responsible not found")
		be.Equal(t, err.Error(), "INVALID_RESPONSIBLE: Responsible not found")
	})

	t.Run("long_body_truncated", func(t *testing.T) {
		_, err := decodePayload(500, []byte(strings.Repeat("x", maxDetailLen*2)))
		var re *RemoteError
		be.True(t, errors.As(err, &re))
		be.True(t, len(re.Detail) < maxDetailLen+32)
	})

	t.Run("ok", func(t *testing.T) {
		p, err := decodePayload(200, []byte(`{"result":{"ID":"1"},"time":{"start":1}}`))
		be.Err(t, err, nil)
		_, ok := p["time"]
		be.True(t, ok)
	})
}

func TestDecodeSlot(t *testing.T) {
	t.Run("resolved", func(t *testing.T) {
		slot, err := decodeSlot(mustDecode(t, `{"result":{"file":{"ID":"77"}}}`))
		be.Err(t, err, nil)
		be.Equal(t, slot, Slot(ResolvedSlot{FileID: 77}))
	})

	t.Run("upload_url", func(t *testing.T) {
		slot, err := decodeSlot(mustDecode(t, `{"result":{"field":"file","uploadUrl":"https://b24.example/upload/1"}}`))
		be.Err(t, err, nil)
		be.Equal(t, slot, Slot(UploadSlot{URL: "https://b24.example/upload/1", Field: "file"}))
	})

	t.Run("neither", func(t *testing.T) {
		_, err := decodeSlot(mustDecode(t, `{"result":{"uploadUrl":"https://b24.example/upload/1"}}`))
		be.True(t, IsParseFailure(err))
	})
}

func TestExtractTaskID(t *testing.T) {
	tests := []struct {
		body   string
		wantID int64
		wantOK bool
	}{
		{`{"result":{"task":{"id":"15"}}}`, 15, true},
		{`{"result":{"task":{"id":16}}}`, 16, true},
		{`{"result":{"id":"17"}}`, 17, true},
		{`{"result":{"task":{}}}`, 0, false},
		{`{"result":[]}`, 0, false},
	}
	for _, tt := range tests {
		id, ok := extractTaskID(mustDecode(t, tt.body))
		be.Equal(t, ok, tt.wantOK)
		be.Equal(t, id, tt.wantID)
	}
}
