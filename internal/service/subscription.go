package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"newsletter/internal/email"
	"newsletter/internal/model"
	"newsletter/internal/repository"
	"newsletter/pkg/constraints"
	"newsletter/pkg/logger"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxNameLength  = 256
	forbiddenChars = `/()"<>\{}`
	tokenAlphabet  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// SubscriptionService handles signup and double opt-in confirmation.
type SubscriptionService struct {
	db       *gorm.DB
	repo     repository.SubscriptionInterface
	sender   email.Sender
	validate *validator.Validate
	baseURL  string
	now      func() time.Time
}

func NewSubscriptionService(db *gorm.DB, repo repository.SubscriptionInterface, sender email.Sender, baseURL string) *SubscriptionService {
	return &SubscriptionService{
		db:       db,
		repo:     repo,
		sender:   sender,
		validate: validator.New(),
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
	}
}

// ParseName trims name and checks it is a plausible display name.
func ParseName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("name", "must not be empty")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", invalid("name", fmt.Sprintf("must be at most %d characters long", maxNameLength))
	}
	if strings.ContainsAny(name, forbiddenChars) {
		return "", invalid("name", "contains forbidden characters")
	}
	return name, nil
}

func (s *SubscriptionService) ParseEmail(address string) (string, error) {
	address = strings.TrimSpace(address)
	if err := s.validate.Var(address, "required,email"); err != nil {
		return "", invalid("email", "is not a valid email address")
	}
	return address, nil
}

// Subscribe stores a pending subscriber and sends the confirmation link. The subscriber is only
// kept when the link went out.
func (s *SubscriptionService) Subscribe(ctx context.Context, name, address string) (*model.Subscription, error) {
	name, err := ParseName(name)
	if err != nil {
		return nil, err
	}
	address, err = s.ParseEmail(address)
	if err != nil {
		return nil, err
	}

	token, err := generateSubscriptionToken()
	if err != nil {
		return nil, err
	}
	sub := &model.Subscription{
		ID:           uuid.NewString(),
		Email:        address,
		Name:         name,
		SubscribedAt: s.now().UTC(),
		Status:       constraints.StatusPendingConfirmation,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, sub, token); err != nil {
			return err
		}
		if err := s.sendConfirmation(ctx, address, token); err != nil {
			return fmt.Errorf("send confirmation email: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	logger.Info("new subscriber saved", zap.String("subscriber_id", sub.ID))
	return sub, nil
}

func (s *SubscriptionService) sendConfirmation(ctx context.Context, address, token string) error {
	link := fmt.Sprintf("%s/v1/subscriptions/confirm?subscription_token=%s", s.baseURL, url.QueryEscape(token))
	html := fmt.Sprintf("Welcome to our newsletter!<br />Click <a href=\"%s\">here</a> to confirm your subscription.", link)
	text := fmt.Sprintf("Welcome to our newsletter!\nVisit %s to confirm your subscription.", link)
	return s.sender.Send(ctx, address, "Welcome!", html, text)
}

// Confirm activates the subscriber owning token.
func (s *SubscriptionService) Confirm(ctx context.Context, token string) error {
	if !validSubscriptionToken(token) {
		return invalid("subscription_token", "malformed token")
	}
	id, err := s.repo.SubscriberIDByToken(ctx, token)
	if err != nil {
		return err
	}
	if id == "" {
		return ErrUnknownToken
	}
	if err := s.repo.Confirm(ctx, id); err != nil {
		return err
	}
	logger.Info("subscriber confirmed", zap.String("subscriber_id", id))
	return nil
}

func generateSubscriptionToken() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(tokenAlphabet)))
	for i := 0; i < constraints.SubscriptionTokenLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate subscription token: %w", err)
		}
		b.WriteByte(tokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func validSubscriptionToken(token string) bool {
	if len(token) != constraints.SubscriptionTokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		if !strings.ContainsRune(tokenAlphabet, rune(token[i])) {
			return false
		}
	}
	return true
}
