package jsontime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/goccy/go-yaml"
)

func TestMilliRoundTrip(t *testing.T) {
	tm := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	ep := Milli(tm)

	data, err := json.Marshal(ep)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var got int64
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal result error: %v", err)
	}
	if got != tm.UnixMilli() {
		t.Errorf("MarshalJSON = %d, want %d", got, tm.UnixMilli())
	}

	var restored Milli
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if restored.Time().UnixMilli() != tm.UnixMilli() {
		t.Errorf("round trip = %v, want %v", restored.Time(), tm)
	}
}

func TestDurationJSON(t *testing.T) {
	t.Run("marshal string", func(t *testing.T) {
		d := Duration(300 * time.Second)
		data, err := json.Marshal(d)
		if err != nil {
			t.Fatalf("Marshal error: %v", err)
		}
		if string(data) != `"5m0s"` {
			t.Errorf("Marshal = %s, want \"5m0s\"", data)
		}
	})

	t.Run("unmarshal string", func(t *testing.T) {
		var d Duration
		if err := json.Unmarshal([]byte(`"25s"`), &d); err != nil {
			t.Fatalf("Unmarshal error: %v", err)
		}
		if d.Duration() != 25*time.Second {
			t.Errorf("Unmarshal = %v, want 25s", d.Duration())
		}
	})

	t.Run("unmarshal nanoseconds", func(t *testing.T) {
		var d Duration
		if err := json.Unmarshal([]byte(`5000000`), &d); err != nil {
			t.Fatalf("Unmarshal error: %v", err)
		}
		if d.Duration() != 5*time.Millisecond {
			t.Errorf("Unmarshal = %v, want 5ms", d.Duration())
		}
	})

	t.Run("unmarshal null keeps zero", func(t *testing.T) {
		var d Duration
		if err := json.Unmarshal([]byte(`null`), &d); err != nil {
			t.Fatalf("Unmarshal error: %v", err)
		}
		if d != 0 {
			t.Errorf("Unmarshal null = %v, want 0", d)
		}
	})
}

func TestDurationYAML(t *testing.T) {
	type cfg struct {
		Timeout Duration `yaml:"timeout"`
	}

	var c cfg
	if err := yaml.Unmarshal([]byte("timeout: 1m30s\n"), &c); err != nil {
		t.Fatalf("yaml.Unmarshal error: %v", err)
	}
	if c.Timeout.Duration() != 90*time.Second {
		t.Errorf("Timeout = %v, want 1m30s", c.Timeout.Duration())
	}

	out, err := yaml.Marshal(c)
	if err != nil {
		t.Fatalf("yaml.Marshal error: %v", err)
	}
	var back cfg
	if err := yaml.Unmarshal(out, &back); err != nil {
		t.Fatalf("yaml.Unmarshal round trip error: %v", err)
	}
	if back.Timeout != c.Timeout {
		t.Errorf("round trip = %v, want %v", back.Timeout, c.Timeout)
	}
}
