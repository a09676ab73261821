package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("tracking %s", "started")
	if len(got) != 1 || got[0] != "tracking started" {
		t.Errorf("custom logger got %q", got)
	}

	// nil installs a no-op; the previous logger must not be called
	SetLogger(nil)
	Logf("dropped")
	if len(got) != 1 {
		t.Errorf("no-op logger forwarded a message: %q", got)
	}
}

func TestDebugf(t *testing.T) {
	original := Logf
	defer func() {
		Logf = original
		SetVerbose(false)
	}()

	calls := 0
	SetLogger(func(string, ...interface{}) { calls++ })

	Debugf("quiet")
	if calls != 0 {
		t.Fatalf("Debugf logged with verbose off")
	}

	SetVerbose(true)
	Debugf("loud %d", 1)
	if calls != 1 {
		t.Errorf("Debugf calls = %d, want 1", calls)
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
	Logf("test message: %s", "value")
}
