package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestSetupWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := SetupWriter(Config{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("SetupWriter() error = %v", err)
	}

	logger.Debug("hidden")
	logger.Info("visible", "key_id", "k1")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("debug record emitted at info level")
	}

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["msg"] != "visible" || record["key_id"] != "k1" {
		t.Errorf("record = %v", record)
	}
}

func TestSetupWriterText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := SetupWriter(Config{Level: "debug", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("SetupWriter() error = %v", err)
	}
	logger.Debug("fine grained")
	if !strings.Contains(buf.String(), "fine grained") {
		t.Errorf("debug record missing at debug level: %q", buf.String())
	}
}

func TestSetupWriterRejectsUnknowns(t *testing.T) {
	if _, err := SetupWriter(Config{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Error("unknown level accepted")
	}
	if _, err := SetupWriter(Config{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Error("unknown format accepted")
	}
}
