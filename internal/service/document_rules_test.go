package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/concours-api/internal/models"
	appErrors "github.com/noah-isme/concours-api/pkg/errors"
)

func docsWithLabels(labels ...string) []models.Document {
	docs := make([]models.Document, 0, len(labels))
	for i, label := range labels {
		docs = append(docs, models.Document{ID: fmt.Sprintf("doc-%d", i+1), CandidateID: "cand-1", Label: label, Status: models.DocumentStatusPending})
	}
	return docs
}

func TestDocumentRulesCanCreate(t *testing.T) {
	rules := NewDocumentRules(0)
	require.Equal(t, DefaultMaxDocumentsPerCandidate, rules.MaxPerCandidate())

	transition, err := rules.CanCreate(docsWithLabels("Photo"), "Acte de naissance")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusPending, transition.To)
	assert.Equal(t, models.EventDocumentSubmitted, transition.Event)

	_, err = rules.CanCreate(docsWithLabels("Acte de naissance"), "  ACTE DE NAISSANCE ")
	require.True(t, appErrors.Is(err, appErrors.ErrDuplicateLabel))

	_, err = rules.CanCreate(docsWithLabels("a", "b", "c", "d", "e", "f"), "g")
	require.True(t, appErrors.Is(err, appErrors.ErrLimitExceeded))

	_, err = rules.CanCreate(nil, "   ")
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestDocumentRulesCapCheckedBeforeDuplicate(t *testing.T) {
	rules := NewDocumentRules(2)
	_, err := rules.CanCreate(docsWithLabels("a", "b"), "a")
	require.True(t, appErrors.Is(err, appErrors.ErrLimitExceeded))
}

func TestDocumentRulesReplaceAndDelete(t *testing.T) {
	rules := NewDocumentRules(6)
	cases := []struct {
		name   string
		status models.DocumentStatus
		owner  string
		want   *appErrors.Error
	}{
		{name: "pending owner", status: models.DocumentStatusPending, owner: "cand-1"},
		{name: "rejected owner", status: models.DocumentStatusRejected, owner: "cand-1"},
		{name: "validated owner", status: models.DocumentStatusValidated, owner: "cand-1", want: appErrors.ErrInvalidState},
		{name: "other candidate", status: models.DocumentStatusPending, owner: "cand-2", want: appErrors.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := &models.Document{ID: "doc-1", CandidateID: tc.owner, Status: tc.status}

			replace, err := rules.CanReplace(doc, "cand-1")
			if tc.want != nil {
				require.True(t, appErrors.Is(err, tc.want), "replace: %v", err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, models.DocumentStatusPending, replace.To)
				assert.Equal(t, models.EventDocumentResubmitted, replace.Event)
			}

			_, err = rules.CanDelete(doc, "cand-1")
			if tc.want != nil {
				require.True(t, appErrors.Is(err, tc.want), "delete: %v", err)
			} else {
				require.NoError(t, err)
			}
		})
	}

	_, err := rules.CanReplace(nil, "cand-1")
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestDocumentRulesReviewOnlyFromPending(t *testing.T) {
	rules := NewDocumentRules(6)
	for _, status := range []models.DocumentStatus{models.DocumentStatusValidated, models.DocumentStatusRejected} {
		doc := &models.Document{Status: status}
		_, err := rules.CanValidate(doc)
		require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
		_, err = rules.CanReject(doc, "blurry")
		require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	}

	pending := &models.Document{Status: models.DocumentStatusPending}
	validate, err := rules.CanValidate(pending)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusValidated, validate.To)

	_, err = rules.CanReject(pending, " \t ")
	require.True(t, appErrors.Is(err, appErrors.ErrMissingComment))

	reject, err := rules.CanReject(pending, "illisible")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusRejected, reject.To)
	assert.Equal(t, models.EventDocumentRejected, reject.Event)
}

func TestAllValidated(t *testing.T) {
	require.False(t, AllValidated(nil))
	docs := docsWithLabels("a", "b")
	require.False(t, AllValidated(docs))
	docs[0].Status = models.DocumentStatusValidated
	docs[1].Status = models.DocumentStatusValidated
	require.True(t, AllValidated(docs))
}

func TestDocumentCatalogCompleteness(t *testing.T) {
	catalog := NewDocumentCatalog([]models.CatalogEntry{
		{Label: "Acte de naissance", Kind: models.DocumentKindPDF, Required: true},
		{Label: "Photo d'identité", Kind: models.DocumentKindImage, Required: true},
		{Label: "Attestation de handicap", Kind: models.DocumentKindPDF},
		{Label: " acte de naissance ", Kind: models.DocumentKindPDF, Required: true},
	})
	require.Len(t, catalog.Entries(), 3)

	report := catalog.Completeness(nil)
	require.False(t, report.AllPresent)
	require.Len(t, report.Missing, 2)

	report = catalog.Completeness(docsWithLabels("ACTE DE NAISSANCE", "Bulletin"))
	require.False(t, report.AllPresent)
	require.Len(t, report.Missing, 1)
	assert.Equal(t, "Photo d'identité", report.Missing[0].Label)

	report = catalog.Completeness(docsWithLabels("acte de naissance", " photo d'identité"))
	assert.True(t, report.AllPresent)
	assert.NotNil(t, report.Missing)
	assert.Empty(t, report.Missing)

	entry, ok := catalog.Lookup("PHOTO D'IDENTITÉ")
	require.True(t, ok)
	assert.Equal(t, models.DocumentKindImage, entry.Kind)
}
