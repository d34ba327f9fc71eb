package usercore

// The account state machine. Every sensitive operation consults these
// checks before touching storage, so the legality of a transition is
// decided in exactly one place.

// CanTransition reports whether an account may move between two states.
// Self-transitions are rejected; callers treat "already there" as a no-op
// before asking. Blocked is reversible only through an administrative
// update, which is allowed to move to any state.
func CanTransition(from, to AccountState) bool {
	if from == to {
		return false
	}
	switch to {
	case StateVerified:
		return from == StateUnverified || from == StateBlocked
	case StateBlocked:
		return true
	case StateUnverified:
		// Only an administrative unblock may land here.
		return from == StateBlocked
	default:
		return false
	}
}

// stateGate returns the sentinel error barring an account from any
// code- or token-issuing operation, or nil.
func stateGate(s AccountState) error {
	if s == StateBlocked {
		return ErrAccountBlocked
	}
	return nil
}

// canRequestEmailChange gates the email-change request: the account must be
// verified, and blocked always loses.
func canRequestEmailChange(s AccountState) error {
	if err := stateGate(s); err != nil {
		return err
	}
	if s != StateVerified {
		return ErrNotVerified
	}
	return nil
}

// verifyTransition validates the Unverified -> Verified transition driven
// by a consumed signup code. Already-verified accounts are a no-op success;
// blocked accounts fail closed.
func verifyTransition(s AccountState) (next AccountState, noop bool, err error) {
	switch s {
	case StateVerified:
		return StateVerified, true, nil
	case StateBlocked:
		return s, false, ErrAccountBlocked
	default:
		return StateVerified, false, nil
	}
}
