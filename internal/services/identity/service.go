package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/basequiz/internal/dependencies/clock"
	"github.com/mcoot/basequiz/internal/model"
	"github.com/mcoot/basequiz/internal/realtime"
)

// Provider exposes the acting identity to the services that act on its behalf
type Provider interface {
	Current() (model.Identity, error)
}

// Service owns the acting peer's identity. It writes user records to the shared
// tree and authenticates the store connection so access rules see the uid.
type Service struct {
	store  realtime.Store
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.RWMutex
	current *model.Identity
}

// Ensure Service implements Provider
var _ Provider = (*Service)(nil)

// New creates a new identity Service
func New(store realtime.Store, clock clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		clock:  clock,
		logger: logger.With(slog.String("component", "identity")),
	}
}

// CreateGuest creates an anonymous user and signs in as it
func (s *Service) CreateGuest(ctx context.Context, displayName string) (model.Identity, error) {
	uid := model.UserID(generateID("g_"))

	user := model.User{
		DisplayName: displayName,
		IsGuest:     true,
		CreatedAt:   model.Millis(s.clock.Now()),
	}

	s.store.Auth(string(uid))
	if err := s.store.Set(ctx, model.UserPath(uid), user); err != nil {
		s.store.Auth("")
		return model.Identity{}, fmt.Errorf("create guest: %w", err)
	}

	id := model.Identity{UID: uid, DisplayName: displayName, IsGuest: true}
	s.setCurrent(&id)
	s.logger.Info("guest created", "uid", uid)
	return id, nil
}

// Register creates a registered account and signs in as it. The username is
// claimed with a transaction so two peers cannot register it concurrently.
func (s *Service) Register(ctx context.Context, username, password, displayName string) (model.Identity, error) {
	if err := validateUsername(username); err != nil {
		return model.Identity{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.Identity{}, err
	}

	uid := model.UserID(generateID("u_"))
	now := model.Millis(s.clock.Now())

	registered := model.RegisteredUser{
		UserID:       uid,
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}

	s.store.Auth(string(uid))
	_, err = s.store.Transaction(ctx, model.UsernamePath(username), func(current json.RawMessage) (any, error) {
		if current != nil {
			return nil, model.ErrUsernameExists
		}
		return registered, nil
	})
	if err != nil {
		s.store.Auth(s.currentUID())
		return model.Identity{}, err
	}

	user := model.User{DisplayName: displayName, CreatedAt: now}
	if err := s.store.Set(ctx, model.UserPath(uid), user); err != nil {
		s.store.Auth(s.currentUID())
		return model.Identity{}, fmt.Errorf("create user: %w", err)
	}

	id := model.Identity{UID: uid, DisplayName: displayName}
	s.setCurrent(&id)
	s.logger.Info("user registered", "uid", uid, "username", username)
	return id, nil
}

// Login signs in as a registered user
func (s *Service) Login(ctx context.Context, username, password string) (model.Identity, error) {
	if err := validateUsername(username); err != nil {
		return model.Identity{}, model.ErrInvalidCredentials
	}

	snap, err := s.store.Get(ctx, model.UsernamePath(username))
	if err != nil {
		return model.Identity{}, err
	}
	var registered model.RegisteredUser
	if err := snap.Decode(&registered); err != nil || registered.UserID == "" {
		return model.Identity{}, model.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(registered.PasswordHash), []byte(password)); err != nil {
		return model.Identity{}, model.ErrInvalidCredentials
	}

	user, err := s.GetUser(ctx, registered.UserID)
	if err != nil {
		return model.Identity{}, err
	}

	s.store.Auth(string(registered.UserID))
	id := model.Identity{UID: registered.UserID, DisplayName: user.DisplayName}
	s.setCurrent(&id)
	return id, nil
}

// Resume signs in again as an existing user, as a browser does with a persisted
// anonymous session. It fails with ErrUserNotFound once cleanup deleted the user.
func (s *Service) Resume(ctx context.Context, uid model.UserID) (model.Identity, error) {
	user, err := s.GetUser(ctx, uid)
	if err != nil {
		return model.Identity{}, err
	}

	s.store.Auth(string(uid))
	id := model.Identity{UID: uid, DisplayName: user.DisplayName, IsGuest: user.IsGuest}
	s.setCurrent(&id)
	return id, nil
}

// SignOut forgets the current identity
func (s *Service) SignOut() {
	s.setCurrent(nil)
	s.store.Auth("")
}

// Current returns the acting identity
func (s *Service) Current() (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return model.Identity{}, model.ErrNotAuthenticated
	}
	return *s.current, nil
}

// GetUser reads a user record
func (s *Service) GetUser(ctx context.Context, uid model.UserID) (*model.User, error) {
	snap, err := s.store.Get(ctx, model.UserPath(uid))
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, model.ErrUserNotFound
	}
	var user model.User
	if err := snap.Decode(&user); err != nil {
		return nil, model.ErrUserNotFound
	}
	return &user, nil
}

func (s *Service) setCurrent(id *model.Identity) {
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
}

func (s *Service) currentUID() string {
	id, err := s.Current()
	if err != nil {
		return ""
	}
	return string(id.UID)
}

func validateUsername(username string) error {
	if username == "" || strings.Contains(username, "/") {
		return model.ErrInvalidUsername
	}
	if _, err := realtime.CleanWritePath(username); err != nil {
		return model.ErrInvalidUsername
	}
	return nil
}

// generateID generates a random ID with a prefix
func generateID(prefix string) string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return prefix + base64.RawURLEncoding.EncodeToString(b)
}
