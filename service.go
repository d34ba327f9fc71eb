package usercore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/usercore-dev/usercore/jwt"
)

// Audit event types emitted by the Service, one per account operation.
const (
	auditEventSignup             = "signup"
	auditEventResendVerification = "resend_verification"
	auditEventVerifyUser         = "verify_user"
	auditEventForgotPassword     = "forgot_password"
	auditEventResetPassword      = "reset_password"
	auditEventChangePassword     = "change_password"
	auditEventRequestEmailChange = "request_email_change"
	auditEventChangeEmail        = "change_email"
	auditEventTokenCreate        = "token_create"
	auditEventTokenRemove        = "token_remove"
	auditEventTokenAuth          = "token_auth"
	auditEventUserUpdate         = "user_update"
	auditEventDelivery           = "delivery"
)

// Service is the account lifecycle core. It owns the verification-code and
// token stores and calls out to the embedding application through the
// UserStore, Delivery and CredentialVault collaborators. Construct it with a
// Builder; all methods are safe for concurrent use.
type Service struct {
	config Config

	userStore UserStore
	delivery  Delivery
	vault     CredentialVault

	codeStore  *verificationCodeStore
	tokenStore *tokenStore
	jwtManager *jwt.Manager

	audit   *auditDispatcher
	metrics *Metrics
}

// Close flushes and stops the audit dispatcher. The Service must not be used
// afterwards.
func (s *Service) Close() {
	if s.audit != nil {
		s.audit.Close()
	}
}

// MetricsSnapshot returns a point-in-time copy of the operation counters.
func (s *Service) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (s *Service) AuditDropped() uint64 {
	if s.audit == nil {
		return 0
	}
	return s.audit.Dropped()
}

// Context reports the non-secret configuration facts a client needs to
// render signup and recovery flows.
func (s *Service) Context() ClientContext {
	return ClientContext{
		SignupCodeTTL:      s.config.Codes.SignupTTL,
		ForgotPasswordTTL:  s.config.Codes.ForgotPasswordTTL,
		ChangeEmailTTL:     s.config.Codes.ChangeEmailTTL,
		PasswordMinLength:  s.config.Password.MinLength,
		AccessTokensIssued: s.config.JWT.Enabled,
	}
}

// Ping verifies the Service can reach its stores.
func (s *Service) Ping(ctx context.Context) error {
	if s.codeStore == nil || s.tokenStore == nil {
		return ErrServiceNotReady
	}
	if err := s.codeStore.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.tokenStore.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Service) ready() error {
	if s.userStore == nil || s.vault == nil || s.codeStore == nil || s.tokenStore == nil {
		return ErrServiceNotReady
	}
	return nil
}

func (s *Service) metricInc(id MetricID) {
	s.metrics.Inc(id)
}

func (s *Service) metricAdd(id MetricID, n uint64) {
	s.metrics.Add(id, n)
}

// emitAudit records one operation outcome. metadata is lazy so callers pay
// nothing when auditing is disabled.
func (s *Service) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	opErr error,
	metadata func() map[string]string,
) {
	if s.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		UserID:    userID,
		RequestID: requestIDFromContext(ctx),
		IP:        clientIPFromContext(ctx),
		Success:   success,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	if metadata != nil {
		event.Metadata = metadata()
	}

	s.audit.Emit(ctx, event)
}

// normalizeEmail canonicalizes an address for storage and lookup. Addresses
// differing only in case refer to the same account.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	// Reject the "Name <addr>" form; only a bare address is a valid input.
	return addr.Address == email
}

func userView(record UserRecord) *UserView {
	return &UserView{
		ID:           record.ID,
		Email:        record.Email,
		PendingEmail: record.PendingEmail,
		Name:         record.Name,
		Roles:        append([]string(nil), record.Roles...),
		State:        record.State,
	}
}

// issueCode generates a code under the configured strategy and stores it,
// superseding any live code of the same purpose for the same user. The
// returned value is the full user-facing code.
func (s *Service) issueCode(ctx context.Context, purpose CodePurpose, userID, payload string) (string, error) {
	codeID, value, secretHash, err := generateCodeChallenge(s.config.Codes.Strategy, s.config.Codes.OTPDigits)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ttl := s.config.codeTTL(purpose)
	record := &verificationCodeRecord{
		Purpose:    purpose,
		Strategy:   s.config.Codes.Strategy,
		ExpiresAt:  time.Now().Add(ttl).Unix(),
		UserID:     userID,
		Payload:    payload,
		SecretHash: secretHash,
	}

	superseded, err := s.codeStore.Issue(ctx, codeID, record, ttl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if superseded {
		s.metricInc(MetricCodeSuperseded)
	}

	return value, nil
}

// consumeCode parses and atomically consumes a user-supplied code for the
// expected purpose. All rejection modes collapse into
// ErrInvalidOrExpiredCode; only store unavailability surfaces separately.
func (s *Service) consumeCode(ctx context.Context, purpose CodePurpose, value string) (*verificationCodeRecord, error) {
	if value == "" {
		return nil, ErrInvalidOrExpiredCode
	}

	codeID, providedHash, err := parseCodeChallenge(s.config.Codes.Strategy, value, s.config.Codes.OTPDigits)
	if err != nil {
		return nil, ErrInvalidOrExpiredCode
	}

	record, err := s.codeStore.Consume(ctx, purpose, codeID, providedHash, s.config.Codes.MaxAttempts)
	if err != nil {
		if errors.Is(err, errCodeAttemptsExceeded) {
			s.metricInc(MetricCodeAttemptsExceeded)
		}
		return nil, mapCodeStoreError(err)
	}

	return record, nil
}

func mapCodeStoreError(err error) error {
	switch {
	case errors.Is(err, errCodeNotFound),
		errors.Is(err, errCodeSecretMismatch),
		errors.Is(err, errCodeAttemptsExceeded):
		return ErrInvalidOrExpiredCode
	case errors.Is(err, errCodeRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func mapUserStoreError(err error) error {
	switch {
	case errors.Is(err, ErrUserStoreNotFound):
		return ErrNotFound
	case errors.Is(err, ErrUserStoreDuplicateEmail):
		return ErrDuplicateEmail
	case errors.Is(err, ErrUserStoreConflict):
		return ErrValidationFailed
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// deliver runs a delivery call off the request path. The operation that
// triggered it has already committed; a failure is audited and counted but
// never surfaced.
func (s *Service) deliver(eventType, userID string, send func(ctx context.Context) error) {
	if s.delivery == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Delivery.Timeout)
		defer cancel()

		if err := send(ctx); err != nil {
			s.metricInc(MetricDeliveryFailure)
			s.emitAudit(ctx, auditEventDelivery, false, userID, err, nil)
		}
	}()
}

// sleepEnumerationDelay pads the not-found path of ForgotPassword so its
// latency matches the found path.
func sleepEnumerationDelay(ctx context.Context) error {
	jitter, err := rand.Int(rand.Reader, big.NewInt(20))
	if err != nil {
		return err
	}

	delay := time.Duration(20+jitter.Int64()) * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
