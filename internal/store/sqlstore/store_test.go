package sqlstore

import (
	"context"
	"testing"

	"github.com/pliu/securedm/internal/models"
	"github.com/stretchr/testify/require"
)

var testStore *SQLStore

func SetupTestDB(t *testing.T) {
	var err error
	testStore, err = New("sqlite3", ":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
}

func TeardownTestDB() {
	testStore.db.Close()
}

// createTestUser inserts a user with placeholder key material.
func createTestUser(t *testing.T, email, phone string) *models.User {
	t.Helper()
	u := &models.User{
		Email:               email,
		Phone:               phone,
		PasswordHash:        "hash",
		Salt:                "salt",
		PublicKey:           "pub",
		EncryptedPrivateKey: "sealed",
	}
	require.NoError(t, testStore.CreateUser(context.Background(), u))
	return u
}
