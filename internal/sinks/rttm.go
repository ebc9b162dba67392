package sinks

import (
	"fmt"
	"io"

	"github.com/taocao/diart/internal/window"
)

// WriteRTTM writes one RTTM SPEAKER line per segment of the annotation.
// Empty annotations produce an empty (yet valid) file.
func WriteRTTM(w io.Writer, annotation *window.Annotation) error {
	if annotation == nil {
		return fmt.Errorf("annotation cannot be nil")
	}

	uri := annotation.URI
	if uri == "" {
		uri = "<NA>"
	}

	for _, seg := range annotation.Timeline.Segments() {
		_, err := fmt.Fprintf(w, "SPEAKER %s 1 %.3f %.3f <NA> <NA> %s <NA> <NA>\n",
			uri, seg.Start, seg.Duration(), annotation.Label)
		if err != nil {
			return fmt.Errorf("failed to write RTTM line: %w", err)
		}
	}
	return nil
}

// WriteText writes a final transcription, ensuring a trailing newline for
// non-empty content.
func WriteText(w io.Writer, text string) error {
	if text == "" {
		return nil
	}
	if text[len(text)-1] != '\n' {
		text += "\n"
	}
	if _, err := io.WriteString(w, text); err != nil {
		return fmt.Errorf("failed to write transcription: %w", err)
	}
	return nil
}
