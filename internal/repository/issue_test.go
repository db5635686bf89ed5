package repository_test

import (
	"context"
	"newsletter/internal/model"
	"newsletter/internal/repository"
	"newsletter/internal/repository/repotest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueRepository_CreateGetList(t *testing.T) {
	db := repotest.NewDB(t)
	repo := repository.NewIssueRepository(db)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"first", "second"} {
		require.NoError(t, repo.Create(ctx, &model.NewsletterIssue{
			ID:          id,
			Title:       "Issue " + id,
			TextContent: "text",
			HTMLContent: "<p>html</p>",
			PublishedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	got, err := repo.Get(ctx, "first")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Issue first", got.Title)

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].ID)
}
