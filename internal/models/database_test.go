package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringArray_Scan(t *testing.T) {
	var arr StringArray
	require.NoError(t, arr.Scan("{pubmed,scopus}"))
	assert.Equal(t, StringArray{"pubmed", "scopus"}, arr)

	require.NoError(t, arr.Scan("{}"))
	assert.Empty(t, arr)

	require.NoError(t, arr.Scan(nil))
	assert.Empty(t, arr)

	assert.Error(t, arr.Scan(42))
}

func TestQueryMap_RoundTrip(t *testing.T) {
	m := QueryMap{"pubmed": "diabetes[tiab]"}
	v, err := m.Value()
	require.NoError(t, err)

	var out QueryMap
	require.NoError(t, out.Scan(v))
	assert.Equal(t, "diabetes[tiab]", out["pubmed"])
}

func TestSearchResult_Validate(t *testing.T) {
	sr := &SearchResult{
		ProjectID:   "proj-1",
		ProjectName: "review",
		UserID:      "user-1",
		Status:      SearchStatusCompleted,
	}
	assert.NoError(t, sr.Validate())

	sr.Status = "bogus"
	assert.Error(t, sr.Validate())

	sr.Status = SearchStatusCompleted
	sr.ProjectID = ""
	assert.Error(t, sr.Validate())
}

func TestArticle_Validate(t *testing.T) {
	a := &Article{
		SearchResultID:  1,
		Title:           "A study",
		ScreeningStatus: ScreeningUnscreened,
	}
	assert.NoError(t, a.Validate())

	a.Title = ""
	assert.Error(t, a.Validate())

	a.Title = "A study"
	a.ScreeningStatus = "maybe"
	assert.Error(t, a.Validate())
}

func TestUserRole_Validate(t *testing.T) {
	ur := &UserRole{UserID: "user-1", Role: RoleAdmin}
	assert.NoError(t, ur.Validate())

	ur.Role = "superuser"
	assert.Error(t, ur.Validate())
}
