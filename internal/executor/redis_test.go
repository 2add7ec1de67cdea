package executor

import (
	"encoding/json"
	"testing"
)

func TestRetryEnvelopeResetsAttemptsAndUUID(t *testing.T) {
	payload := `{"uuid":"original-uuid","displayName":"App\\Jobs\\SendEmail","attempts":5,"data":{"command":"..."}}`

	out := retryEnvelope(payload)

	var envelope map[string]interface{}
	if err := json.Unmarshal([]byte(out), &envelope); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	if envelope["attempts"] != float64(0) {
		t.Fatalf("expected attempts reset to 0, got %v", envelope["attempts"])
	}
	if envelope["uuid"] == "original-uuid" || envelope["uuid"] == "" {
		t.Fatalf("expected a fresh uuid, got %v", envelope["uuid"])
	}
	if envelope["displayName"] != `App\Jobs\SendEmail` {
		t.Fatalf("payload fields must survive, got %v", envelope["displayName"])
	}
}

func TestRetryEnvelopePassesNonJSONThrough(t *testing.T) {
	payload := "plain text job body"
	if out := retryEnvelope(payload); out != payload {
		t.Fatalf("non-JSON payloads must pass through untouched, got %q", out)
	}
}
