package broker

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestWithReauthRetriesExactlyOnceOnTokenInvalid(t *testing.T) {
	f := newFSM(zap.NewNop())

	reauthCalls := 0
	reauth := func(ctx context.Context) error {
		reauthCalls++
		return nil
	}

	calls := 0
	fn := func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return ErrTokenInvalid
		}
		return nil
	}

	if err := f.withReauth(context.Background(), reauth, fn); err != nil {
		t.Fatalf("withReauth: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected fn to run twice (initial + one retry), ran %d times", calls)
	}
	if reauthCalls != 1 {
		t.Errorf("expected exactly one reauth call, got %d", reauthCalls)
	}
	if f.State() != StateConnected {
		t.Errorf("expected state Connected after a successful retry, got %q", f.State())
	}
}

func TestWithReauthDoesNotRetryOnOtherErrors(t *testing.T) {
	f := newFSM(zap.NewNop())
	wantErr := errors.New("some other transport error")

	calls := 0
	fn := func(ctx context.Context) error {
		calls++
		return wantErr
	}
	reauth := func(ctx context.Context) error {
		t.Fatal("reauth must not be invoked for non-token errors")
		return nil
	}

	if err := f.withReauth(context.Background(), reauth, fn); !errors.Is(err, wantErr) {
		t.Errorf("expected the original error to propagate, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected fn to run exactly once, ran %d times", calls)
	}
}

func TestWithReauthFailsClientWhenReauthItselfFails(t *testing.T) {
	f := newFSM(zap.NewNop())
	reauthErr := errors.New("login rejected")

	fn := func(ctx context.Context) error { return ErrTokenInvalid }
	reauth := func(ctx context.Context) error { return reauthErr }

	err := f.withReauth(context.Background(), reauth, fn)
	if err == nil {
		t.Fatal("expected an error when re-auth itself fails")
	}
	if f.State() != StateFailed {
		t.Errorf("expected state Failed after a failed re-auth, got %q", f.State())
	}
}
