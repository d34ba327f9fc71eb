package usercore

import (
	"context"
	"errors"
)

// RequestEmailChange records a pending new address on a verified account,
// issues a change-email code bound to that address and delivers it there.
// A second request supersedes the first: only the latest code can confirm.
func (s *Service) RequestEmailChange(ctx context.Context, userID, newEmail string) error {
	if err := s.ready(); err != nil {
		return err
	}

	record, err := s.userStore.FindByID(ctx, userID)
	if err != nil {
		mapped := mapUserStoreError(err)
		s.metricInc(MetricEmailChangeFailure)
		s.emitAudit(ctx, auditEventRequestEmailChange, false, userID, mapped, nil)
		return mapped
	}

	if err := canRequestEmailChange(record.State); err != nil {
		s.metricInc(MetricEmailChangeFailure)
		s.emitAudit(ctx, auditEventRequestEmailChange, false, record.ID, err, nil)
		return err
	}

	normalized := normalizeEmail(newEmail)
	if !validEmail(normalized) {
		s.metricInc(MetricEmailChangeFailure)
		s.emitAudit(ctx, auditEventRequestEmailChange, false, record.ID, ErrValidationFailed, func() map[string]string {
			return map[string]string{
				"reason": "invalid_email",
			}
		})
		return ErrValidationFailed
	}
	if normalized == record.Email {
		s.metricInc(MetricEmailChangeFailure)
		s.emitAudit(ctx, auditEventRequestEmailChange, false, record.ID, ErrValidationFailed, func() map[string]string {
			return map[string]string{
				"reason": "same_email",
			}
		})
		return ErrValidationFailed
	}

	if _, err := s.userStore.FindByEmail(ctx, normalized); err == nil {
		s.metricInc(MetricEmailChangeFailure)
		s.emitAudit(ctx, auditEventRequestEmailChange, false, record.ID, ErrDuplicateEmail, func() map[string]string {
			return map[string]string{
				"new_email": normalized,
			}
		})
		return ErrDuplicateEmail
	} else if !errors.Is(err, ErrUserStoreNotFound) {
		mapped := mapUserStoreError(err)
		s.metricInc(MetricEmailChangeFailure)
		s.emitAudit(ctx, auditEventRequestEmailChange, false, record.ID, mapped, nil)
		return mapped
	}

	record.PendingEmail = normalized
	updated, err := s.userStore.Update(ctx, record)
	if err != nil {
		mapped := mapUserStoreError(err)
		s.metricInc(MetricEmailChangeFailure)
		s.emitAudit(ctx, auditEventRequestEmailChange, false, record.ID, mapped, nil)
		return mapped
	}

	// The code carries the target address, so confirmation can detect a
	// pending email that changed after issuance.
	code, err := s.issueCode(ctx, PurposeChangeEmail, updated.ID, normalized)
	if err != nil {
		s.metricInc(MetricEmailChangeFailure)
		s.emitAudit(ctx, auditEventRequestEmailChange, false, updated.ID, err, nil)
		return err
	}

	s.deliver(auditEventRequestEmailChange, updated.ID, func(ctx context.Context) error {
		return s.delivery.SendChangeEmail(ctx, normalized, code)
	})

	s.metricInc(MetricEmailChangeRequest)
	s.emitAudit(ctx, auditEventRequestEmailChange, true, updated.ID, nil, func() map[string]string {
		return map[string]string{
			"new_email": normalized,
		}
	})
	return nil
}

// ChangeEmail consumes a change-email code and commits the pending address
// as the account's email. The code only works while the pending email it was
// issued for is still the pending email, and uniqueness is re-checked at
// commit time.
func (s *Service) ChangeEmail(ctx context.Context, code string) (*UserView, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	codeRecord, err := s.consumeCode(ctx, PurposeChangeEmail, code)
	if err != nil {
		s.metricInc(MetricEmailChangeFailure)
		s.emitAudit(ctx, auditEventChangeEmail, false, "", err, nil)
		return nil, err
	}

	record, err := s.userStore.FindByID(ctx, codeRecord.UserID)
	if err != nil {
		mapped := mapUserStoreError(err)
		s.metricInc(MetricEmailChangeFailure)
		s.emitAudit(ctx, auditEventChangeEmail, false, codeRecord.UserID, mapped, nil)
		return nil, mapped
	}

	// Confirmation demands the same state as the request: an account that
	// lost Verified between request and confirm cannot commit the address.
	if err := canRequestEmailChange(record.State); err != nil {
		s.metricInc(MetricEmailChangeFailure)
		s.emitAudit(ctx, auditEventChangeEmail, false, record.ID, err, nil)
		return nil, err
	}

	if record.PendingEmail == "" || record.PendingEmail != codeRecord.Payload {
		s.metricInc(MetricEmailChangeFailure)
		s.emitAudit(ctx, auditEventChangeEmail, false, record.ID, ErrInvalidOrExpiredCode, func() map[string]string {
			return map[string]string{
				"reason": "pending_email_mismatch",
			}
		})
		return nil, ErrInvalidOrExpiredCode
	}

	// Someone else may have claimed the address since the request.
	if _, err := s.userStore.FindByEmail(ctx, record.PendingEmail); err == nil {
		s.metricInc(MetricEmailChangeFailure)
		s.emitAudit(ctx, auditEventChangeEmail, false, record.ID, ErrDuplicateEmail, nil)
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, ErrUserStoreNotFound) {
		mapped := mapUserStoreError(err)
		s.metricInc(MetricEmailChangeFailure)
		s.emitAudit(ctx, auditEventChangeEmail, false, record.ID, mapped, nil)
		return nil, mapped
	}

	oldEmail := record.Email
	record.Email = record.PendingEmail
	record.PendingEmail = ""
	updated, err := s.userStore.Update(ctx, record)
	if err != nil {
		mapped := mapUserStoreError(err)
		s.metricInc(MetricEmailChangeFailure)
		s.emitAudit(ctx, auditEventChangeEmail, false, record.ID, mapped, nil)
		return nil, mapped
	}

	s.metricInc(MetricEmailChangeSuccess)
	s.emitAudit(ctx, auditEventChangeEmail, true, updated.ID, nil, func() map[string]string {
		return map[string]string{
			"old_email": oldEmail,
			"new_email": updated.Email,
		}
	})
	return userView(updated), nil
}
