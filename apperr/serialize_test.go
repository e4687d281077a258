package apperr

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestSerialize_RedactsSecrets(t *testing.T) {
	e := Classify(errors.New("401"), CodeUnknown, map[string]any{
		"apiKey":  "sk-123",
		"request": map[string]any{"Authorization": "Bearer x", "model": "m"},
	}, "cid")

	out, err := Serialize(e)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if strings.Contains(out, "sk-123") || strings.Contains(out, "Bearer x") {
		t.Errorf("Expected secrets to be redacted, got %s", out)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	if decoded["code"] != string(CodeAuthFailed) {
		t.Errorf("Expected code auth-failed, got %v", decoded["code"])
	}
	if decoded["correlation_id"] != "cid" {
		t.Errorf("Expected correlation_id 'cid', got %v", decoded["correlation_id"])
	}
	details := decoded["details"].(map[string]any)
	if details["request"].(map[string]any)["model"] != "m" {
		t.Error("Expected non-secret nested keys to survive")
	}

	// The live error keeps its details.
	if e.Details["apiKey"] != "sk-123" {
		t.Error("Serialize must not mutate the error")
	}
}

func TestSerialize_Nil(t *testing.T) {
	out, err := Serialize(nil)
	if err != nil || out != "null" {
		t.Errorf("Expected 'null', got %q (%v)", out, err)
	}
}
