package repositories

import (
	"context"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"buddy-chat/internal/db"
	"buddy-chat/internal/models"
)

func setupDB(t *testing.T) *sqlx.DB {
	t.Helper()
	database, err := db.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func createUsers(t *testing.T, repo *UserRepo, n int) []models.User {
	t.Helper()
	users := make([]models.User, 0, n)
	for i := 0; i < n; i++ {
		u, err := repo.CreateUser(context.Background(), fmt.Sprintf("user%d", i), fmt.Sprintf("user%d@example.com", i), "hash", true)
		require.NoError(t, err)
		users = append(users, u)
	}
	return users
}

func makeBuddies(t *testing.T, repo *BuddyRepo, a, b int) {
	t.Helper()
	ctx := context.Background()
	req, err := repo.CreateRequest(ctx, a, b)
	require.NoError(t, err)
	_, err = repo.AcceptRequest(ctx, req.ID, b)
	require.NoError(t, err)
}
