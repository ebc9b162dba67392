package sinks

import (
	"strings"
	"testing"

	"github.com/taocao/diart/internal/window"
)

func TestWriteRTTM(t *testing.T) {
	tl := window.NewTimeline()
	tl.Add(window.Segment{Start: 0.5, End: 2.0})
	tl.Add(window.Segment{Start: 3.25, End: 3.75})
	annotation := window.NewAnnotation("meeting", "speech", tl)

	var buf strings.Builder
	if err := WriteRTTM(&buf, annotation); err != nil {
		t.Fatalf("WriteRTTM failed: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	want := "SPEAKER meeting 1 0.500 1.500 <NA> <NA> speech <NA> <NA>"
	if lines[0] != want {
		t.Errorf("Expected %q, got %q", want, lines[0])
	}

	want = "SPEAKER meeting 1 3.250 0.500 <NA> <NA> speech <NA> <NA>"
	if lines[1] != want {
		t.Errorf("Expected %q, got %q", want, lines[1])
	}
}

func TestWriteRTTMEmptyTimeline(t *testing.T) {
	var buf strings.Builder
	if err := WriteRTTM(&buf, window.NewAnnotation("stream", "speech", nil)); err != nil {
		t.Fatalf("WriteRTTM failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected empty output, got %q", buf.String())
	}
}

func TestWriteRTTMNilAnnotation(t *testing.T) {
	var buf strings.Builder
	if err := WriteRTTM(&buf, nil); err == nil {
		t.Error("Expected error for nil annotation")
	}
}

func TestWriteText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "adds trailing newline", text: "hello world", want: "hello world\n"},
		{name: "keeps existing newline", text: "hello\n", want: "hello\n"},
		{name: "empty text writes nothing", text: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf strings.Builder
			if err := WriteText(&buf, tt.text); err != nil {
				t.Fatalf("WriteText failed: %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, buf.String())
			}
		})
	}
}
