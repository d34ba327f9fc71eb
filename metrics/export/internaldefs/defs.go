package internaldefs

import (
	usercore "github.com/usercore-dev/usercore"
)

// CounterDef ties a core MetricID to its exported metric name.
type CounterDef struct {
	ID   usercore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: usercore.MetricSignupSuccess, Name: "usercore_signup_success_total", Help: "Created accounts."},
	{ID: usercore.MetricSignupDuplicate, Name: "usercore_signup_duplicate_total", Help: "Signups rejected as duplicate email."},
	{ID: usercore.MetricVerificationIssued, Name: "usercore_verification_issued_total", Help: "Issued signup verification codes, including resends."},
	{ID: usercore.MetricVerificationSuccess, Name: "usercore_verification_success_total", Help: "Consumed signup verification codes."},
	{ID: usercore.MetricVerificationFailure, Name: "usercore_verification_failure_total", Help: "Rejected signup verification codes."},
	{ID: usercore.MetricPasswordResetRequest, Name: "usercore_password_reset_request_total", Help: "Forgot-password requests."},
	{ID: usercore.MetricPasswordResetSuccess, Name: "usercore_password_reset_success_total", Help: "Completed password resets."},
	{ID: usercore.MetricPasswordResetFailure, Name: "usercore_password_reset_failure_total", Help: "Rejected password resets."},
	{ID: usercore.MetricPasswordChangeSuccess, Name: "usercore_password_change_success_total", Help: "Completed password changes."},
	{ID: usercore.MetricPasswordChangeFailure, Name: "usercore_password_change_failure_total", Help: "Rejected password changes."},
	{ID: usercore.MetricEmailChangeRequest, Name: "usercore_email_change_request_total", Help: "Email change requests."},
	{ID: usercore.MetricEmailChangeSuccess, Name: "usercore_email_change_success_total", Help: "Confirmed email changes."},
	{ID: usercore.MetricEmailChangeFailure, Name: "usercore_email_change_failure_total", Help: "Rejected email changes."},
	{ID: usercore.MetricCodeSuperseded, Name: "usercore_code_superseded_total", Help: "Verification codes invalidated by a newer code."},
	{ID: usercore.MetricCodeAttemptsExceeded, Name: "usercore_code_attempts_exceeded_total", Help: "Verification codes destroyed by the attempt cap."},
	{ID: usercore.MetricTokenCreated, Name: "usercore_token_created_total", Help: "Issued bearer tokens."},
	{ID: usercore.MetricTokenRevoked, Name: "usercore_token_revoked_total", Help: "Revoked bearer tokens, including bulk revocations."},
	{ID: usercore.MetricTokenAuthSuccess, Name: "usercore_token_auth_success_total", Help: "Successful bearer authentications."},
	{ID: usercore.MetricTokenAuthFailure, Name: "usercore_token_auth_failure_total", Help: "Failed bearer authentications."},
	{ID: usercore.MetricUserUpdated, Name: "usercore_user_updated_total", Help: "Applied user updates."},
	{ID: usercore.MetricDeliveryFailure, Name: "usercore_delivery_failure_total", Help: "Failed out-of-band deliveries."},
}

const (
	AuditDroppedName = "usercore_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)
