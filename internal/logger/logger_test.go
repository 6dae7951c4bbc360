package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNew_ProdWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter("prod", &buf)

	log.Info().Str("slot_id", "abc").Msg("slot claimed")
	log.Debug().Msg("dropped at info level")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single json line, got %q: %v", buf.String(), err)
	}
	if line["message"] != "slot claimed" || line["slot_id"] != "abc" {
		t.Fatalf("unexpected log line %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Fatalf("expected timestamp field")
	}
}
