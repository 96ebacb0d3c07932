package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vastramart/api/internal/domain"
	"github.com/vastramart/api/internal/repositories"
)

const (
	accessCodeIDPrefix = "ac_"
	accessCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	accessCodeLength   = 10
)

var (
	// ErrAccessCodeInvalidInput signals malformed issuance or consume input.
	ErrAccessCodeInvalidInput = errors.New("access code: invalid input")
	// ErrAccessCodeNotFound indicates the code is unknown.
	ErrAccessCodeNotFound = errors.New("access code: not found")
	// ErrAccessCodeUnusable indicates the code was already consumed or has
	// expired.
	ErrAccessCodeUnusable = errors.New("access code: consumed or expired")
	// ErrAccessCodeUnauthorized indicates the caller lacks the admin role.
	ErrAccessCodeUnauthorized = errors.New("access code: unauthorized")
)

// AccessCodeServiceDeps bundles collaborators for the access code service.
type AccessCodeServiceDeps struct {
	Codes       repositories.AccessCodeRepository
	DefaultTTL  time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	// CodeGenerator overrides the random code source, for tests.
	CodeGenerator func() (string, error)
}

type accessCodeService struct {
	codes      repositories.AccessCodeRepository
	defaultTTL time.Duration
	clock      func() time.Time
	newID      func() string
	newCode    func() (string, error)
}

// NewAccessCodeService wires dependencies into a concrete AccessCodeService.
func NewAccessCodeService(deps AccessCodeServiceDeps) (AccessCodeService, error) {
	if deps.Codes == nil {
		return nil, errors.New("access code service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	codeGen := deps.CodeGenerator
	if codeGen == nil {
		codeGen = randomCode
	}
	ttl := deps.DefaultTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &accessCodeService{
		codes:      deps.Codes,
		defaultTTL: ttl,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		newCode:    codeGen,
	}, nil
}

// Issue creates a single-use console code for the named recipient. Each code
// is an independent record, so issuing a new one never revokes earlier
// unconsumed codes.
func (s *accessCodeService) Issue(ctx context.Context, cmd IssueAccessCodeCommand) (domain.AccessCode, error) {
	if !cmd.Actor.Admin {
		return domain.AccessCode{}, fmt.Errorf("%w: admin role required", ErrAccessCodeUnauthorized)
	}
	issuedTo := strings.TrimSpace(cmd.IssuedTo)
	if issuedTo == "" {
		return domain.AccessCode{}, fmt.Errorf("%w: recipient is required", ErrAccessCodeInvalidInput)
	}
	ttl := cmd.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	code, err := s.newCode()
	if err != nil {
		return domain.AccessCode{}, fmt.Errorf("access code: generate: %w", err)
	}

	now := s.clock()
	record := domain.AccessCode{
		ID:        accessCodeIDPrefix + s.newID(),
		Code:      code,
		IssuedTo:  issuedTo,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	saved, err := s.codes.Insert(ctx, record)
	if err != nil {
		return domain.AccessCode{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

// Consume atomically validates and burns the code.
func (s *accessCodeService) Consume(ctx context.Context, code string, actor Actor) (domain.AccessCode, error) {
	if !actor.Admin {
		return domain.AccessCode{}, fmt.Errorf("%w: admin role required", ErrAccessCodeUnauthorized)
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.AccessCode{}, fmt.Errorf("%w: code is required", ErrAccessCodeInvalidInput)
	}

	consumed, err := s.codes.Consume(ctx, code, s.clock())
	if err != nil {
		return domain.AccessCode{}, s.mapRepositoryError(err)
	}
	return consumed, nil
}

func (s *accessCodeService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrAccessCodeNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrAccessCodeUnusable, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("access code: repository unavailable: %w", err)
		}
	}
	return err
}

func randomCode() (string, error) {
	buf := make([]byte, accessCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, accessCodeLength)
	for i, b := range buf {
		out[i] = accessCodeAlphabet[int(b)%len(accessCodeAlphabet)]
	}
	return string(out), nil
}
