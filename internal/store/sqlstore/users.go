package sqlstore

import (
	"context"
	"strings"

	"github.com/pliu/securedm/internal/apperr"
	"github.com/pliu/securedm/internal/models"
)

const userColumns = "id, email, phone, password_hash, salt, public_key, encrypted_private_key, created_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Phone, &u.PasswordHash, &u.Salt, &u.PublicKey, &u.EncryptedPrivateKey, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts every identity field in one statement and fills in the
// generated id.
func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	user.CreatedAt = s.now()
	query := s.rebind(`INSERT INTO users (email, phone, password_hash, salt, public_key, encrypted_private_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := s.db.QueryRowContext(ctx, query,
		user.Email, user.Phone, user.PasswordHash, user.Salt, user.PublicKey, user.EncryptedPrivateKey, user.CreatedAt,
	).Scan(&user.ID)
	if isUniqueViolation(err) {
		return apperr.E(apperr.KindDuplicateIdentity, "email or phone already registered", err)
	}
	return apperr.Storage(err)
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE email = ?")
	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE id = ?")
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

func (s *SQLStore) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)")
	err := s.db.QueryRowContext(ctx, query, email).Scan(&exists)
	return exists, apperr.Storage(err)
}

// SearchUsers matches emails starting with prefix.
func (s *SQLStore) SearchUsers(ctx context.Context, prefix string, excludeID int64, limit int) ([]models.Contact, error) {
	query := s.rebind(`SELECT id, email FROM users
		WHERE email LIKE ? ESCAPE '\' AND id <> ?
		ORDER BY email LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, escapeLike(prefix)+"%", excludeID, limit)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()

	users := []models.Contact{}
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.Email); err != nil {
			return nil, apperr.Storage(err)
		}
		users = append(users, c)
	}
	return users, apperr.Storage(rows.Err())
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
