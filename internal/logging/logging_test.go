package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetup(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup("debug", &buf); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
	}()

	log.WithField("track", "genes").Debug("tile drawn")
	out := buf.String()
	if !strings.Contains(out, "tile drawn") || !strings.Contains(out, "track=genes") {
		t.Fatalf("unexpected log output: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("expected timestamps to be disabled for non-terminal output: %q", out)
	}
}

func TestSetupInvalidLevel(t *testing.T) {
	if err := Setup("loud", nil); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
