package factory

import (
	"errors"
	"strings"
	"testing"
	"time"

	"CaptureBridge/internal/config"
	"CaptureBridge/internal/model"
)

type stubWriter struct{ name string }

func (w *stubWriter) Write([]*model.MatchedHttpPair, string) error { return nil }
func (w *stubWriter) GetInterval() time.Duration                   { return time.Second }
func (w *stubWriter) Name() string                                 { return w.name }

func init() {
	RegisterWriter("stub", func(def config.WriterDef) (model.Writer, error) {
		return &stubWriter{name: "stub:" + def.SnapshotInterval}, nil
	})
	RegisterWriter("broken", func(config.WriterDef) (model.Writer, error) {
		return nil, errors.New("no backend")
	})
}

func TestCreate(t *testing.T) {
	cfg := &config.Config{Writers: []config.WriterDef{
		{Type: "stub", Enabled: true, SnapshotInterval: "1s"},
		{Type: "stub", Enabled: false, SnapshotInterval: "2s"},
		{Type: "stub", Enabled: true, SnapshotInterval: "3s"},
	}}
	writers, err := Create(cfg)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(writers) != 2 || writers[0].Name() != "stub:1s" || writers[1].Name() != "stub:3s" {
		t.Errorf("Unexpected writers: %v", writers)
	}
}

func TestCreate_Errors(t *testing.T) {
	_, err := Create(&config.Config{Writers: []config.WriterDef{{Type: "nope", Enabled: true}}})
	if err == nil || !strings.Contains(err.Error(), "unknown writer type") {
		t.Errorf("Expected unknown type error, got %v", err)
	}
	_, err = Create(&config.Config{Writers: []config.WriterDef{{Type: "broken", Enabled: true}}})
	if err == nil || !strings.Contains(err.Error(), "no backend") {
		t.Errorf("Expected the factory error to be wrapped, got %v", err)
	}
}

func TestRegisterWriter_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected a panic for a duplicate registration")
		}
	}()
	RegisterWriter("stub", nil)
}

func TestRegistered(t *testing.T) {
	names := Registered()
	if len(names) < 2 || names[0] != "broken" || names[1] != "stub" {
		t.Errorf("Unexpected registry contents %v", names)
	}
}
