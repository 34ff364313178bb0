package logging

import "testing"

func TestNew(t *testing.T) {
	for _, level := range []string{"", "debug", "INFO", "warn", "error"} {
		for _, dev := range []bool{false, true} {
			log, err := New(level, dev)
			if err != nil {
				t.Errorf("New(%q, %v) error: %v", level, dev, err)
				continue
			}
			log.Sync()
		}
	}
	if _, err := New("chatty", false); err == nil {
		t.Error("New(\"chatty\") succeeded, want error")
	}
}
