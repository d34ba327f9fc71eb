package usercore

import (
	"context"
	"errors"
)

// Signup creates an Unverified account, issues a signup verification code
// and hands it to the Delivery collaborator out of band. The email is
// normalized to lower case before uniqueness is checked.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*UserView, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	email := normalizeEmail(req.Email)
	if !validEmail(email) {
		s.emitAudit(ctx, auditEventSignup, false, "", ErrValidationFailed, func() map[string]string {
			return map[string]string{
				"reason": "invalid_email",
			}
		})
		return nil, ErrValidationFailed
	}
	if len(req.Password) < s.config.Password.MinLength {
		s.emitAudit(ctx, auditEventSignup, false, "", ErrWeakPassword, func() map[string]string {
			return map[string]string{
				"email": email,
			}
		})
		return nil, ErrWeakPassword
	}

	hash, err := s.vault.Hash(req.Password)
	if err != nil {
		s.emitAudit(ctx, auditEventSignup, false, "", err, nil)
		return nil, ErrServiceNotReady
	}

	record, err := s.userStore.Create(ctx, CreateUserInput{
		Email:        email,
		PasswordHash: hash,
		Name:         req.Name,
		Roles:        []string{"user"},
		State:        StateUnverified,
	})
	if err != nil {
		mapped := mapUserStoreError(err)
		if errors.Is(mapped, ErrDuplicateEmail) {
			s.metricInc(MetricSignupDuplicate)
		}
		s.emitAudit(ctx, auditEventSignup, false, "", mapped, func() map[string]string {
			return map[string]string{
				"email": email,
			}
		})
		return nil, mapped
	}

	code, err := s.issueCode(ctx, PurposeSignupVerification, record.ID, "")
	if err != nil {
		s.emitAudit(ctx, auditEventSignup, false, record.ID, err, nil)
		return nil, err
	}
	s.metricInc(MetricVerificationIssued)

	s.deliver(auditEventSignup, record.ID, func(ctx context.Context) error {
		return s.delivery.SendVerification(ctx, record.Email, code)
	})

	s.metricInc(MetricSignupSuccess)
	s.emitAudit(ctx, auditEventSignup, true, record.ID, nil, func() map[string]string {
		return map[string]string{
			"email": email,
		}
	})
	return userView(record), nil
}

// ResendVerificationMail issues a fresh signup verification code,
// invalidating any earlier unconsumed one, and delivers it. Verified
// accounts are a silent no-op; blocked accounts are refused.
func (s *Service) ResendVerificationMail(ctx context.Context, userID string) error {
	if err := s.ready(); err != nil {
		return err
	}

	record, err := s.userStore.FindByID(ctx, userID)
	if err != nil {
		mapped := mapUserStoreError(err)
		s.emitAudit(ctx, auditEventResendVerification, false, userID, mapped, nil)
		return mapped
	}

	if err := stateGate(record.State); err != nil {
		s.emitAudit(ctx, auditEventResendVerification, false, record.ID, err, nil)
		return err
	}
	if record.State == StateVerified {
		s.emitAudit(ctx, auditEventResendVerification, true, record.ID, nil, func() map[string]string {
			return map[string]string{
				"noop": "already_verified",
			}
		})
		return nil
	}

	code, err := s.issueCode(ctx, PurposeSignupVerification, record.ID, "")
	if err != nil {
		s.emitAudit(ctx, auditEventResendVerification, false, record.ID, err, nil)
		return err
	}
	s.metricInc(MetricVerificationIssued)

	s.deliver(auditEventResendVerification, record.ID, func(ctx context.Context) error {
		return s.delivery.SendVerification(ctx, record.Email, code)
	})

	s.emitAudit(ctx, auditEventResendVerification, true, record.ID, nil, nil)
	return nil
}

// VerifyUser consumes a signup verification code and moves the account to
// Verified. The code is single-use: under concurrent calls with the same
// code exactly one succeeds. Verifying an already-verified account with a
// live code succeeds as a no-op.
func (s *Service) VerifyUser(ctx context.Context, code string) (*UserView, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	codeRecord, err := s.consumeCode(ctx, PurposeSignupVerification, code)
	if err != nil {
		s.metricInc(MetricVerificationFailure)
		s.emitAudit(ctx, auditEventVerifyUser, false, "", err, nil)
		return nil, err
	}

	record, err := s.userStore.FindByID(ctx, codeRecord.UserID)
	if err != nil {
		mapped := mapUserStoreError(err)
		s.metricInc(MetricVerificationFailure)
		s.emitAudit(ctx, auditEventVerifyUser, false, codeRecord.UserID, mapped, nil)
		return nil, mapped
	}

	next, noop, err := verifyTransition(record.State)
	if err != nil {
		s.metricInc(MetricVerificationFailure)
		s.emitAudit(ctx, auditEventVerifyUser, false, record.ID, err, nil)
		return nil, err
	}
	if noop {
		s.metricInc(MetricVerificationSuccess)
		s.emitAudit(ctx, auditEventVerifyUser, true, record.ID, nil, func() map[string]string {
			return map[string]string{
				"noop": "already_verified",
			}
		})
		return userView(record), nil
	}

	record.State = next
	updated, err := s.userStore.Update(ctx, record)
	if err != nil {
		mapped := mapUserStoreError(err)
		s.metricInc(MetricVerificationFailure)
		s.emitAudit(ctx, auditEventVerifyUser, false, record.ID, mapped, nil)
		return nil, mapped
	}

	s.metricInc(MetricVerificationSuccess)
	s.emitAudit(ctx, auditEventVerifyUser, true, updated.ID, nil, nil)
	return userView(updated), nil
}
