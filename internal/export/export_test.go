package export

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandlift/api/internal/store"
	"brandlift/api/internal/study"
)

func sampleSnapshot() Snapshot {
	st := store.Study{
		ID: "std_1", OrgID: "org_1", Name: "Spring Launch & Recall", Status: study.StatusApproved,
		PrimaryKPI: "ad recall", SecondaryKPIs: []string{"awareness", "intent"}, StructureVersion: 4,
	}
	questions := []store.Question{
		{ID: "q_b", StudyID: "std_1", Text: "Which brands have you heard of?", Type: study.QuestionMultipleChoice, Order: 0, IsMandatory: true},
		{ID: "q_a", StudyID: "std_1", Text: "Did you see this ad?", Type: study.QuestionSingleChoice, Order: 1, IsRandomized: true},
	}
	options := []store.Option{
		{ID: "o_1", QuestionID: "q_a", Text: "Yes", Order: 0},
		{ID: "o_2", QuestionID: "q_a", Text: "No", Order: 1},
		{ID: "o_3", QuestionID: "q_b", Text: "Acme", Order: 0, ImageURL: "https://cdn.example.com/acme.png"},
	}
	return Assemble(st, questions, options, time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC))
}

func TestAssembleGroupsOptionsInOrder(t *testing.T) {
	snap := sampleSnapshot()
	require.Len(t, snap.Questions, 2)
	assert.Equal(t, "q_b", snap.Questions[0].ID)
	assert.Equal(t, "q_a", snap.Questions[1].ID)
	require.Len(t, snap.Questions[1].Options, 2)
	assert.Equal(t, "Yes", snap.Questions[1].Options[0].Text)
	assert.Equal(t, 4, snap.StructureVersion)
}

func TestBuildSnapshotFromStore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	require.NoError(t, mem.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertStudy(ctx, store.Study{ID: "std_1", OrgID: "org_1", Name: "S", Status: study.StatusDraft}); err != nil {
			return err
		}
		if err := tx.InsertQuestion(ctx, store.Question{ID: "q_1", StudyID: "std_1", Text: "Q", Order: 3}); err != nil {
			return err
		}
		return tx.InsertQuestion(ctx, store.Question{ID: "q_2", StudyID: "std_1", Text: "Q2", Order: 1})
	}))

	snap, err := BuildSnapshot(ctx, mem, "std_1")
	require.NoError(t, err)
	require.Len(t, snap.Questions, 2)
	assert.Equal(t, "q_2", snap.Questions[0].ID)
	assert.NotNil(t, snap.Questions[0].Options)

	_, err = BuildSnapshot(ctx, mem, "std_missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestExportJSON(t *testing.T) {
	svc := NewService()
	res, err := svc.Export(context.Background(), sampleSnapshot(), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "application/json", res.MimeType)
	assert.Equal(t, "Spring-Launch--Recall.json", res.Filename)

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(res.Data, &decoded))
	assert.Equal(t, "std_1", decoded.Study.ID)
	assert.Len(t, decoded.Questions, 2)
}

func TestExportRoutesToRenderers(t *testing.T) {
	var got document
	svc := &Service{
		pdf: func(_ context.Context, doc document) (*Result, error) {
			got = doc
			return &Result{Data: []byte("%PDF"), Filename: sanitizeFilename(doc.Title) + ".pdf", MimeType: "application/pdf"}, nil
		},
		docx: func(context.Context, document) (*Result, error) {
			return nil, ErrDOCXDependencyMissing
		},
	}

	res, err := svc.Export(context.Background(), sampleSnapshot(), FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", res.MimeType)
	assert.Contains(t, got.HTML, "1. Which brands have you heard of?")
	assert.Contains(t, got.HTML, "2. Did you see this ad?")
	assert.Equal(t, "Spring Launch & Recall", got.Title)
	assert.Contains(t, got.Footer, "structure v4")

	_, err = svc.Export(context.Background(), sampleSnapshot(), FormatDOCX)
	assert.True(t, errors.Is(err, ErrDOCXDependencyMissing))

	_, err = svc.Export(context.Background(), sampleSnapshot(), Format("xml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRenderStudyHTMLEscapesText(t *testing.T) {
	snap := sampleSnapshot()
	snap.Questions[0].Text = "<script>alert(1)</script>"
	html, err := RenderStudyHTML(snap)
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>alert(1)</script>")
	assert.Contains(t, html, "awareness, intent")
	assert.True(t, strings.Contains(html, "structure v4"))
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatJSON, "JSON": FormatJSON, "pdf": FormatPDF, " docx ": FormatDOCX}
	for in, want := range cases {
		got, ok := ParseFormat(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := ParseFormat("csv")
	assert.False(t, ok)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "study", sanitizeFilename("!!!"))
	assert.Equal(t, "Q3-brand_lift", sanitizeFilename("Q3 brand_lift"))
	assert.Len(t, sanitizeFilename(strings.Repeat("a", 80)), 50)
}

func TestHTMLDataURL(t *testing.T) {
	assert.Equal(t, "data:text/html;charset=utf-8;base64,PGI+aGk8L2I+", htmlDataURL("<b>hi</b>"))
}

func TestPDFFooterEscapesStudyName(t *testing.T) {
	footer := pdfFooter("A & <B>")
	assert.Contains(t, footer, "A &amp; &lt;B&gt;")
	assert.Contains(t, footer, `class="pageNumber"`)
}
