package engrave

import (
	"context"
	"fmt"
	"os"
	"strings"

	"scoreforge/internal/services"
	"scoreforge/internal/stage"
)

const placeholderEngineName = "placeholder"

// Placeholder writes a minimal single-page PDF summarizing the score.
// It has no external dependencies and never refuses to run.
type Placeholder struct{}

// NewPlaceholder constructs the placeholder engine.
func NewPlaceholder() *Placeholder {
	return &Placeholder{}
}

func (p *Placeholder) Name() string    { return placeholderEngineName }
func (p *Placeholder) Available() bool { return true }

func (p *Placeholder) Engrave(ctx context.Context, work *stage.Work, musicxmlPath, pdfPath string) error {
	lines := []string{"Transcription"}
	if work.Meta != nil {
		lines[0] = work.Meta.Title
		lines = append(lines,
			fmt.Sprintf("Instrument: %s (%s clef)", work.Meta.Instrument, work.Meta.Clef),
			fmt.Sprintf("Key: %s    Tempo: %d BPM    Time: %s", work.Meta.Key, work.Meta.TempoBPM, work.Meta.TimeSignature),
			fmt.Sprintf("Notes: %d", work.Meta.NoteCount),
		)
	}
	lines = append(lines, "", "Engraved output unavailable; this placeholder lists the")
	lines = append(lines, "score summary. The MusicXML and MIDI artifacts are complete.")

	if err := writePDF(pdfPath, lines); err != nil {
		return services.Wrap(services.ErrStorage, "engrave", "placeholder", "Failed to write placeholder PDF", err)
	}
	return nil
}

func escapePDFText(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "(", "\\(", ")", "\\)")
	return r.Replace(s)
}

// writePDF emits a bare PDF 1.4 document with one Helvetica text page.
func writePDF(path string, lines []string) error {
	var content strings.Builder
	y := 720
	for i, line := range lines {
		if line == "" {
			y -= 18
			continue
		}
		size := 12
		if i == 0 {
			size = 16
		}
		fmt.Fprintf(&content, "BT /F1 %d Tf 72 %d Td (%s) Tj ET\n", size, y, escapePDFText(line))
		y -= 24
	}

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var doc strings.Builder
	doc.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = doc.Len()
		fmt.Fprintf(&doc, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xrefOffset := doc.Len()
	fmt.Fprintf(&doc, "xref\n0 %d\n", len(objects)+1)
	doc.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&doc, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&doc, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefOffset)

	return os.WriteFile(path, []byte(doc.String()), 0o644)
}
