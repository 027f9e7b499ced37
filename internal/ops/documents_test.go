package ops

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

func strPtr(s string) *string { return &s }

func TestUpsertDocument_ReembedsOnContentChangeOnly(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	created, err := UpsertDocument(ctx, f.deps, UpsertDocumentInput{
		Scope:   alice,
		Kind:    model.DocumentCanon,
		Title:   strPtr("Strategy"),
		Content: strPtr("# Strategy\n\nShip **payments** this quarter."),
	})
	require.NoError(t, err)
	require.True(t, created.Created)
	require.True(t, created.Reembedded)
	require.Nil(t, created.Document.OwnerID, "canon documents are shared")
	require.Equal(t, []string{"Strategy\nShip payments this quarter."}, f.emb.Calls(), "markdown is stripped before embedding")

	id := created.Document.ID

	renamed, err := UpsertDocument(ctx, f.deps, UpsertDocumentInput{Scope: alice, ID: id, Title: strPtr("Q3 Strategy")})
	require.NoError(t, err)
	require.False(t, renamed.Reembedded)
	require.Equal(t, "Q3 Strategy", renamed.Document.Title)
	require.Len(t, f.emb.Calls(), 1)

	same, err := UpsertDocument(ctx, f.deps, UpsertDocumentInput{Scope: alice, ID: id, Content: strPtr(created.Document.Content)})
	require.NoError(t, err)
	require.False(t, same.Reembedded, "unchanged content is not re-embedded")
	require.Len(t, f.emb.Calls(), 1)

	changed, err := UpsertDocument(ctx, f.deps, UpsertDocumentInput{Scope: alice, ID: id, Content: strPtr("Ship payments and SSO.")})
	require.NoError(t, err)
	require.True(t, changed.Reembedded)
	require.Len(t, f.emb.Calls(), 2)

	got, err := GetDocument(ctx, f.deps, alice, id)
	require.NoError(t, err)
	require.Equal(t, "Q3 Strategy", got.Title)
	require.Equal(t, "Ship payments and SSO.", got.Content)
}

func TestUpsertDocument_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	tests := []struct {
		name  string
		input UpsertDocumentInput
	}{
		{"missing kind", UpsertDocumentInput{Scope: alice, Title: strPtr("t")}},
		{"unknown kind", UpsertDocumentInput{Scope: alice, Kind: "wiki", Title: strPtr("t")}},
		{"missing title", UpsertDocumentInput{Scope: alice, Kind: model.DocumentBrain}},
		{"blank title", UpsertDocumentInput{Scope: alice, Kind: model.DocumentBrain, Title: strPtr("  ")}},
		{"update with nothing", UpsertDocumentInput{Scope: alice, ID: "01X"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UpsertDocument(ctx, f.deps, tt.input)
			require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
		})
	}

	d, err := UpsertDocument(ctx, f.deps, UpsertDocumentInput{Scope: alice, Kind: model.DocumentBrain, Title: strPtr("Notes")})
	require.NoError(t, err)
	require.False(t, d.Reembedded, "an empty body has no embedding")
	_, err = UpsertDocument(ctx, f.deps, UpsertDocumentInput{Scope: alice, ID: d.Document.ID, Kind: model.DocumentCanon, Title: strPtr("x")})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "kind cannot change")
}

func TestDocuments_PersonalKindsAreOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	brain, err := UpsertDocument(ctx, f.deps, UpsertDocumentInput{Scope: alice, Kind: model.DocumentBrain, Title: strPtr("Alice's notes"), Content: strPtr("private")})
	require.NoError(t, err)
	require.Equal(t, testUser, *brain.Document.OwnerID)
	_, err = UpsertDocument(ctx, f.deps, UpsertDocumentInput{Scope: alice, Kind: model.DocumentCanon, Title: strPtr("Shared"), Content: strPtr("public")})
	require.NoError(t, err)

	mine, err := ListDocuments(ctx, f.deps, ListDocumentsInput{Scope: alice})
	require.NoError(t, err)
	require.Equal(t, 2, mine.Pagination.Total)

	theirs, err := ListDocuments(ctx, f.deps, ListDocumentsInput{Scope: bob})
	require.NoError(t, err)
	require.Equal(t, 1, theirs.Pagination.Total)
	require.Equal(t, "Shared", theirs.Items[0].Title)

	_, err = GetDocument(ctx, f.deps, bob, brain.Document.ID)
	require.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = UpsertDocument(ctx, f.deps, UpsertDocumentInput{Scope: bob, ID: brain.Document.ID, Title: strPtr("mine now")})
	require.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = DeleteDocument(ctx, f.deps, bob, brain.Document.ID)
	require.True(t, errors.Is(err, errors.ErrNotFound))

	out, err := DeleteDocument(ctx, f.deps, alice, brain.Document.ID)
	require.NoError(t, err)
	require.Equal(t, DeleteOutput{ID: brain.Document.ID, Kind: "document", WorkspaceID: testWorkspace, Deleted: true}, *out)

	kinds, err := ListDocuments(ctx, f.deps, ListDocumentsInput{Scope: alice, Kinds: []model.DocumentKind{model.DocumentBrain}})
	require.NoError(t, err)
	require.Empty(t, kinds.Items)

	_, err = ListDocuments(ctx, f.deps, ListDocumentsInput{Scope: alice, Kinds: []model.DocumentKind{"wiki"}})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}
