package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domainbranch "clinix/internal/domain/branch"
)

func newBranch(t *testing.T, id, name string, now time.Time) *domainbranch.Branch {
	t.Helper()
	branch, err := domainbranch.New(domainbranch.CreateParams{
		ID:   id,
		Name: name,
		Now:  now,
	})
	require.NoError(t, err)
	return branch
}

func TestBranchRepositoryLifecycle(t *testing.T) {
	repo := NewBranchRepository()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, newBranch(t, "north", "North Clinic", now)))
	require.NoError(t, repo.Create(ctx, newBranch(t, "south", "South Clinic", now)))
	require.ErrorIs(t, repo.Create(ctx, newBranch(t, "north", "Duplicate", now)), domainbranch.ErrAlreadyExist)

	got, err := repo.ByID(ctx, "north")
	require.NoError(t, err)
	require.Equal(t, "North Clinic", got.Name)
	require.Equal(t, now, got.CreatedAt)

	require.NoError(t, got.Update("North Medical Center", "12 Elm St", now.Add(time.Hour)))
	require.NoError(t, repo.Save(ctx, got))

	updated, err := repo.ByID(ctx, "north")
	require.NoError(t, err)
	require.Equal(t, "North Medical Center", updated.Name)
	require.Equal(t, "12 Elm St", updated.Address)

	require.NoError(t, repo.Delete(ctx, "south"))
	require.ErrorIs(t, repo.Delete(ctx, "south"), domainbranch.ErrNotFound)
	_, err = repo.ByID(ctx, "south")
	require.ErrorIs(t, err, domainbranch.ErrNotFound)
}

func TestBranchRepositoryListSortsByID(t *testing.T) {
	// Exercised through the Repository interface so the value-slice List
	// shape the handlers render from stays locked in.
	var repo domainbranch.Repository = NewBranchRepository()
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"west", "east", "central"} {
		require.NoError(t, repo.Create(ctx, newBranch(t, id, id+" clinic", now)))
	}

	listed, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	require.Equal(t, "central", listed[0].ID)
	require.Equal(t, "east", listed[1].ID)
	require.Equal(t, "west", listed[2].ID)

	// Mutating the returned copies must not leak into the repository.
	listed[0].Name = "renamed"
	kept, err := repo.ByID(ctx, "central")
	require.NoError(t, err)
	require.Equal(t, "central clinic", kept.Name)
}
