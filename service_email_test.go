package usercore

import (
	"context"
	"errors"
	"testing"
)

func TestRequestEmailChangeRequiresVerifiedAccount(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	service, _, delivery := newTestService(t, rdb)
	ctx := context.Background()

	view, err := service.Signup(ctx, SignupRequest{Email: "alice@example.com", Password: "correct-password-123"})
	if err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	waitForMail(t, delivery.verification)

	err = service.RequestEmailChange(ctx, view.ID, "alice-new@example.com")
	if !errors.Is(err, ErrNotVerified) {
		t.Fatalf("expected ErrNotVerified, got %v", err)
	}
}

func TestRequestEmailChangeBlockedAccount(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	service, store, _ := newTestService(t, rdb)
	store.put(UserRecord{ID: "u1", Email: "bob@example.com", State: StateBlocked})

	err := service.RequestEmailChange(context.Background(), "u1", "bob-new@example.com")
	if !errors.Is(err, ErrAccountBlocked) {
		t.Fatalf("expected ErrAccountBlocked, got %v", err)
	}
}

func TestRequestEmailChangeDuplicateTarget(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	service, _, delivery := newTestService(t, rdb)
	ctx := context.Background()

	view := signupVerifiedUser(t, service, delivery, "carol@example.com", "correct-password-123")
	signupVerifiedUser(t, service, delivery, "taken@example.com", "correct-password-123")

	err := service.RequestEmailChange(ctx, view.ID, "TAKEN@example.com")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestChangeEmailFlow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	service, store, delivery := newTestService(t, rdb)
	ctx := context.Background()

	view := signupVerifiedUser(t, service, delivery, "dora@example.com", "correct-password-123")

	if err := service.RequestEmailChange(ctx, view.ID, "Dora-New@Example.com"); err != nil {
		t.Fatalf("RequestEmailChange failed: %v", err)
	}

	mail := waitForMail(t, delivery.changeEmail)
	if mail.Email != "dora-new@example.com" {
		t.Fatalf("expected delivery to the new address, got %q", mail.Email)
	}

	if store.get(view.ID).PendingEmail != "dora-new@example.com" {
		t.Fatal("expected pending email to be recorded")
	}

	updated, err := service.ChangeEmail(ctx, mail.Code)
	if err != nil {
		t.Fatalf("ChangeEmail failed: %v", err)
	}
	if updated.Email != "dora-new@example.com" {
		t.Fatalf("expected committed email, got %q", updated.Email)
	}
	if updated.PendingEmail != "" {
		t.Fatal("expected pending email cleared")
	}

	// Password survives the email change.
	ok, err := service.vault.Verify("correct-password-123", store.get(view.ID).PasswordHash)
	if err != nil || !ok {
		t.Fatalf("expected password to survive email change, ok=%v err=%v", ok, err)
	}

	// The old address is free, the new one is taken.
	if _, err := service.FetchUserByEmail(ctx, "dora@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old email released, got %v", err)
	}
	found, err := service.FetchUserByEmail(ctx, "dora-new@example.com")
	if err != nil || found.ID != view.ID {
		t.Fatalf("expected new email to resolve to the user, got %v %v", found, err)
	}
}

func TestChangeEmailCodeIsSingleUse(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	service, _, delivery := newTestService(t, rdb)
	ctx := context.Background()

	view := signupVerifiedUser(t, service, delivery, "erin@example.com", "correct-password-123")

	if err := service.RequestEmailChange(ctx, view.ID, "erin-new@example.com"); err != nil {
		t.Fatalf("RequestEmailChange failed: %v", err)
	}
	mail := waitForMail(t, delivery.changeEmail)

	if _, err := service.ChangeEmail(ctx, mail.Code); err != nil {
		t.Fatalf("ChangeEmail failed: %v", err)
	}
	if _, err := service.ChangeEmail(ctx, mail.Code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected ErrInvalidOrExpiredCode on reuse, got %v", err)
	}
}

func TestChangeEmailSecondRequestSupersedesFirst(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	service, _, delivery := newTestService(t, rdb)
	ctx := context.Background()

	view := signupVerifiedUser(t, service, delivery, "frank@example.com", "correct-password-123")

	if err := service.RequestEmailChange(ctx, view.ID, "first@example.com"); err != nil {
		t.Fatalf("first RequestEmailChange failed: %v", err)
	}
	first := waitForMail(t, delivery.changeEmail)

	if err := service.RequestEmailChange(ctx, view.ID, "second@example.com"); err != nil {
		t.Fatalf("second RequestEmailChange failed: %v", err)
	}
	second := waitForMail(t, delivery.changeEmail)

	if _, err := service.ChangeEmail(ctx, first.Code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected first code superseded, got %v", err)
	}

	updated, err := service.ChangeEmail(ctx, second.Code)
	if err != nil {
		t.Fatalf("ChangeEmail with latest code failed: %v", err)
	}
	if updated.Email != "second@example.com" {
		t.Fatalf("expected second address committed, got %q", updated.Email)
	}
}

func TestChangeEmailDuplicateAtCommitTime(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	service, _, delivery := newTestService(t, rdb)
	ctx := context.Background()

	view := signupVerifiedUser(t, service, delivery, "gina@example.com", "correct-password-123")

	if err := service.RequestEmailChange(ctx, view.ID, "contested@example.com"); err != nil {
		t.Fatalf("RequestEmailChange failed: %v", err)
	}
	mail := waitForMail(t, delivery.changeEmail)

	// Someone signs up with the contested address before confirmation.
	signupVerifiedUser(t, service, delivery, "contested@example.com", "correct-password-123")

	if _, err := service.ChangeEmail(ctx, mail.Code); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail at commit, got %v", err)
	}
}

func TestChangeEmailRequiresVerifiedAtCommit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	service, store, delivery := newTestService(t, rdb)
	ctx := context.Background()

	view := signupVerifiedUser(t, service, delivery, "ivan@example.com", "correct-password-123")

	if err := service.RequestEmailChange(ctx, view.ID, "ivan-new@example.com"); err != nil {
		t.Fatalf("RequestEmailChange failed: %v", err)
	}
	mail := waitForMail(t, delivery.changeEmail)

	// The account loses Verified between request and confirmation; the live
	// code must not commit the pending address anymore.
	record := store.get(view.ID)
	record.State = StateUnverified
	store.put(record)

	if _, err := service.ChangeEmail(ctx, mail.Code); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("expected ErrNotVerified at commit, got %v", err)
	}
	if got := store.get(view.ID).Email; got != "ivan@example.com" {
		t.Fatalf("expected original address kept, got %q", got)
	}
}

func TestRequestEmailChangeSameAddressRejected(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	service, _, delivery := newTestService(t, rdb)
	ctx := context.Background()

	view := signupVerifiedUser(t, service, delivery, "hank@example.com", "correct-password-123")

	err := service.RequestEmailChange(ctx, view.ID, "HANK@example.com")
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed for same address, got %v", err)
	}
}
