package chains

import (
	"context"
	"errors"
	"testing"
)

type fakeSession struct {
	chainType ChainType
	network   string
	closed    bool
}

func (s *fakeSession) ChainType() ChainType { return s.chainType }
func (s *fakeSession) Network() string      { return s.network }
func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func TestSessionCacheReusesSession(t *testing.T) {
	cache := NewSessionCache()
	dials := 0
	cache.RegisterDialer(ChainEVM, func(_ context.Context, network string) (Session, error) {
		dials++
		return &fakeSession{chainType: ChainEVM, network: network}, nil
	})

	first, err := cache.Acquire(context.Background(), ChainEVM, "base")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	second, err := cache.Acquire(context.Background(), ChainEVM, "BASE")
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if first != second {
		t.Fatal("expected cached session to be reused")
	}
	if dials != 1 {
		t.Fatalf("expected a single dial, got %d", dials)
	}
}

func TestSessionCacheDoesNotRedialFailedNetwork(t *testing.T) {
	cache := NewSessionCache()
	dials := 0
	dialErr := errors.New("链 ID 不匹配")
	cache.RegisterDialer(ChainEVM, func(_ context.Context, _ string) (Session, error) {
		dials++
		return nil, dialErr
	})

	if _, err := cache.Acquire(context.Background(), ChainEVM, "base"); !errors.Is(err, dialErr) {
		t.Fatalf("expected dial error, got %v", err)
	}
	if _, err := cache.Acquire(context.Background(), ChainEVM, "base"); !errors.Is(err, dialErr) {
		t.Fatalf("expected memoized dial error, got %v", err)
	}
	if dials != 1 {
		t.Fatalf("expected failed network to not be redialed, got %d dials", dials)
	}
}

func TestSessionCacheSeparatesNetworks(t *testing.T) {
	cache := NewSessionCache()
	cache.RegisterDialer(ChainEVM, func(_ context.Context, network string) (Session, error) {
		if network == "mainnet" {
			return nil, errors.New("RPC 不可用")
		}
		return &fakeSession{chainType: ChainEVM, network: network}, nil
	})

	if _, err := cache.Acquire(context.Background(), ChainEVM, "mainnet"); err == nil {
		t.Fatal("expected mainnet dial to fail")
	}
	if _, err := cache.Acquire(context.Background(), ChainEVM, "base"); err != nil {
		t.Fatalf("base dial should succeed despite mainnet failure: %v", err)
	}
}

func TestSessionCacheReleaseAll(t *testing.T) {
	cache := NewSessionCache()
	sessions := make([]*fakeSession, 0, 2)
	cache.RegisterDialer(ChainEVM, func(_ context.Context, network string) (Session, error) {
		s := &fakeSession{chainType: ChainEVM, network: network}
		sessions = append(sessions, s)
		return s, nil
	})
	cache.RegisterDialer(ChainSolana, func(_ context.Context, _ string) (Session, error) {
		return nil, errors.New("临时故障")
	})

	if _, err := cache.Acquire(context.Background(), ChainEVM, "base"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := cache.Acquire(context.Background(), ChainEVM, "arbitrum"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := cache.Acquire(context.Background(), ChainSolana, "solana"); err == nil {
		t.Fatal("expected solana dial to fail")
	}

	if err := cache.ReleaseAll(); err != nil {
		t.Fatalf("release all failed: %v", err)
	}
	for _, s := range sessions {
		if !s.closed {
			t.Fatalf("session %s was not closed", s.Network())
		}
	}

	// 失败记录在 ReleaseAll 之后应当清空，允许下一批次重拨。
	cache.RegisterDialer(ChainSolana, func(_ context.Context, network string) (Session, error) {
		return &fakeSession{chainType: ChainSolana, network: network}, nil
	})
	if _, err := cache.Acquire(context.Background(), ChainSolana, "solana"); err != nil {
		t.Fatalf("expected redial after ReleaseAll, got %v", err)
	}
}

func TestSessionCacheRelease(t *testing.T) {
	cache := NewSessionCache()
	var created *fakeSession
	cache.RegisterDialer(ChainEVM, func(_ context.Context, network string) (Session, error) {
		created = &fakeSession{chainType: ChainEVM, network: network}
		return created, nil
	})

	if _, err := cache.Acquire(context.Background(), ChainEVM, "base"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := cache.Release(ChainEVM, "base"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if !created.closed {
		t.Fatal("released session should be closed")
	}
	if err := cache.Release(ChainEVM, "base"); err != nil {
		t.Fatalf("releasing an absent session should be a no-op, got %v", err)
	}
}
