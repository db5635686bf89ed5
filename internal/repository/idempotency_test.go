package repository_test

import (
	"context"
	"net/http"
	"newsletter/internal/model"
	"newsletter/internal/repository"
	"newsletter/internal/repository/repotest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResponse() *model.SavedResponse {
	return &model.SavedResponse{
		StatusCode: http.StatusAccepted,
		Headers: []model.HeaderPair{
			{Name: "Content-Type", Value: []byte("application/json; charset=utf-8")},
			{Name: "Location", Value: []byte("/v1/admin/issues/abc")},
		},
		Body: []byte(`{"issue_id":"abc"}`),
	}
}

func TestIdempotencyRepository_ClaimLifecycle(t *testing.T) {
	db := repotest.NewDB(t)
	repo := repository.NewIdempotencyRepository(db)
	ctx := context.Background()

	outcome, resp, err := repo.Claim(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.Equal(t, repository.ClaimAcquired, outcome)
	assert.Nil(t, resp)

	outcome, resp, err = repo.Claim(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.Equal(t, repository.ClaimInFlight, outcome)
	assert.Nil(t, resp)

	want := sampleResponse()
	require.NoError(t, repo.SaveResponse(ctx, "u1", "k1", want))

	outcome, resp, err = repo.Claim(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.Equal(t, repository.ClaimCompleted, outcome)
	require.NotNil(t, resp)
	assert.Equal(t, want.StatusCode, resp.StatusCode)
	assert.Equal(t, want.Headers, resp.Headers)
	assert.Equal(t, want.Body, resp.Body)
}

func TestIdempotencyRepository_KeysAreScopedByCaller(t *testing.T) {
	db := repotest.NewDB(t)
	repo := repository.NewIdempotencyRepository(db)
	ctx := context.Background()

	outcome, _, err := repo.Claim(ctx, "u1", "shared")
	require.NoError(t, err)
	assert.Equal(t, repository.ClaimAcquired, outcome)

	outcome, _, err = repo.Claim(ctx, "u2", "shared")
	require.NoError(t, err)
	assert.Equal(t, repository.ClaimAcquired, outcome)
}

func TestIdempotencyRepository_SaveRequiresPendingClaim(t *testing.T) {
	db := repotest.NewDB(t)
	repo := repository.NewIdempotencyRepository(db)
	ctx := context.Background()

	err := repo.SaveResponse(ctx, "u1", "never-claimed", sampleResponse())
	assert.ErrorIs(t, err, repository.ErrClaimNotHeld)

	_, _, err = repo.Claim(ctx, "u1", "k1")
	require.NoError(t, err)
	require.NoError(t, repo.SaveResponse(ctx, "u1", "k1", sampleResponse()))

	// a saved response is never overwritten
	err = repo.SaveResponse(ctx, "u1", "k1", &model.SavedResponse{StatusCode: http.StatusTeapot})
	assert.ErrorIs(t, err, repository.ErrClaimNotHeld)

	rec, err := repo.Get(ctx, "u1", "k1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, http.StatusAccepted, rec.Response().StatusCode)
}

func TestIdempotencyRepository_RolledBackClaimFreesKey(t *testing.T) {
	db := repotest.NewDB(t)
	repo := repository.NewIdempotencyRepository(db)
	ctx := context.Background()

	tx := db.Begin()
	outcome, _, err := repo.WithTx(tx).Claim(ctx, "u1", "k1")
	require.NoError(t, err)
	require.Equal(t, repository.ClaimAcquired, outcome)
	require.NoError(t, tx.Rollback().Error)

	rec, err := repo.Get(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	outcome, _, err = repo.Claim(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.Equal(t, repository.ClaimAcquired, outcome)
}
