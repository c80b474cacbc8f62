package export

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const docxMimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// renderDOCX converts the study document to Word with pandoc. The footer line
// becomes the document subtitle.
func renderDOCX(ctx context.Context, doc document) (*Result, error) {
	pandoc, err := exec.LookPath("pandoc")
	if err != nil {
		return nil, fmt.Errorf("%w: pandoc not on PATH", ErrDOCXDependencyMissing)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, pandoc,
		"--from=html",
		"--to=docx",
		"--standalone",
		"--metadata=title:"+doc.Title,
		"--metadata=subtitle:"+doc.Footer,
		"--output=-",
	)
	cmd.Stdin = strings.NewReader(doc.HTML)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("pandoc docx: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("pandoc docx: %w", err)
	}

	return &Result{
		Data:     stdout.Bytes(),
		Filename: sanitizeFilename(doc.Title) + ".docx",
		MimeType: docxMimeType,
	}, nil
}
