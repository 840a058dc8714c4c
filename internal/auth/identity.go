package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"sync"

	"github.com/pliu/securedm/internal/apperr"
	"github.com/pliu/securedm/internal/crypto"
	"github.com/pliu/securedm/internal/models"
	"github.com/pliu/securedm/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var phonePattern = regexp.MustCompile(`^\d{7,}$`)

// PhoneVerifier reports whether a phone number completed code verification.
type PhoneVerifier interface {
	Verified(ctx context.Context, phone string) (bool, error)
}

type Service struct {
	Store          store.Store
	Sessions       *Sessions
	AllowedDomains []string      // empty allows every domain
	Phones         PhoneVerifier // nil skips phone verification
	HashCost       int
	Log            *zap.Logger

	dummyOnce sync.Once
	dummyHash []byte
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Service) cost() int {
	if s.HashCost == 0 {
		return bcrypt.DefaultCost
	}
	return s.HashCost
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CheckEmail validates format and domain, without touching the store.
func (s *Service) CheckEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperr.InvalidInput("invalid email address")
	}
	if len(s.AllowedDomains) == 0 {
		return nil
	}
	domain := email[strings.LastIndex(email, "@")+1:]
	for _, allowed := range s.AllowedDomains {
		if strings.EqualFold(domain, strings.TrimPrefix(allowed, "@")) {
			return nil
		}
	}
	return apperr.InvalidInput("email domain is not allowed")
}

// ValidateEmail is the signup pre-check: format, domain and availability.
func (s *Service) ValidateEmail(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if err := s.CheckEmail(email); err != nil {
		return err
	}
	exists, err := s.Store.EmailExists(ctx, email)
	if err != nil {
		return err
	}
	if exists {
		return apperr.E(apperr.KindDuplicateIdentity, "email already registered", nil)
	}
	return nil
}

func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// CreateIdentity registers a user and generates its keypair. The private key
// is only persisted sealed under the user's salt, which doubles as the unlock
// passphrase.
func (s *Service) CreateIdentity(ctx context.Context, email, password, phone string) (*models.User, error) {
	email = NormalizeEmail(email)
	phone = strings.TrimSpace(phone)
	if err := s.CheckEmail(email); err != nil {
		return nil, err
	}
	if !ValidPhone(phone) {
		return nil, apperr.InvalidInput("phone must be at least 7 digits")
	}
	if password == "" {
		return nil, apperr.InvalidInput("password is required")
	}
	if s.Phones != nil {
		ok, err := s.Phones.Verified(ctx, phone)
		if err != nil {
			return nil, apperr.Storage(err)
		}
		if !ok {
			return nil, apperr.InvalidInput("phone number is not verified")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost())
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, apperr.InvalidInput("password is too long")
	}
	if err != nil {
		return nil, err
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	passphrase := hex.EncodeToString(salt)

	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	pub, err := crypto.EncodePublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.SealPrivateKey(priv, passphrase)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:               email,
		Phone:               phone,
		PasswordHash:        string(hash),
		Salt:                passphrase,
		PublicKey:           pub,
		EncryptedPrivateKey: sealed,
	}
	if err := s.Store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger().Info("identity created", zap.Int64("user_id", user.ID))
	return user, nil
}

// VerifyCredentials checks email and password. An unknown email still costs
// one bcrypt comparison so response time does not reveal whether it exists.
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.Store.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if apperr.KindOf(err) != apperr.KindNotFound {
			return nil, err
		}
		bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
		return nil, apperr.E(apperr.KindAuthenticationFailed, "", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.E(apperr.KindAuthenticationFailed, "", err)
	}
	return user, nil
}

func (s *Service) IssueSession(user *models.User) (string, error) {
	return s.Sessions.Issue(user)
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("no such user"), s.cost())
	})
	return s.dummyHash
}
