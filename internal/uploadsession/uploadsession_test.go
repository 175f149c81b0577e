package uploadsession

import (
	"sync"
	"testing"
	"time"

	"github.com/552020/futura-alpha-icp-sub003/internal/clockid"
	"github.com/552020/futura-alpha-icp-sub003/internal/core"
)

func TestSha256HexIsDeterministic(t *testing.T) {
	a := sha256Hex([]byte("hello"))
	b := sha256Hex([]byte("hello"))
	if a != b {
		t.Fatalf("expected identical checksums, got %q and %q", a, b)
	}
	if a == sha256Hex([]byte("world")) {
		t.Fatal("expected different checksums for different inputs")
	}
}

func TestSessionKeyFormat(t *testing.T) {
	if got, want := sessionKey(core.SessionID(42)), "upload:session:42"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestIdemKeyFormat(t *testing.T) {
	got := idemKey("capsule-1", "alice", "req-1")
	want := "upload:idem:capsule-1:alice:req-1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLockForReturnsSameMutexForSameID(t *testing.T) {
	m := &Manager{locks: make(map[core.SessionID]*sync.Mutex)}
	a := m.lockFor(core.SessionID(1))
	b := m.lockFor(core.SessionID(1))
	if a != b {
		t.Fatal("expected lockFor to return the same mutex for the same session id")
	}
	c := m.lockFor(core.SessionID(2))
	if a == c {
		t.Fatal("expected lockFor to return distinct mutexes for distinct session ids")
	}
}

func newManagerWithClock(at time.Time, idleTTL time.Duration) *Manager {
	return &Manager{
		clk: clockid.FixedClock{At: at},
		cfg: Config{IdleTTL: idleTTL},
	}
}

func TestIsStaleIgnoresTerminalStates(t *testing.T) {
	now := time.Now()
	m := newManagerWithClock(now, time.Minute)
	sess := &core.UploadSession{State: core.SessionCommitted, LastActivityAt: now.Add(-time.Hour)}
	if m.isStale(sess) {
		t.Fatal("a Committed session should never be reported stale")
	}
	sess.State = core.SessionAborted
	if m.isStale(sess) {
		t.Fatal("an Aborted session should never be reported stale")
	}
}

func TestIsStaleDetectsIdleOpenSession(t *testing.T) {
	now := time.Now()
	m := newManagerWithClock(now, time.Minute)
	sess := &core.UploadSession{State: core.SessionOpen, LastActivityAt: now.Add(-2 * time.Minute)}
	if !m.isStale(sess) {
		t.Fatal("expected an Open session idle past IdleTTL to be stale")
	}
}

func TestIsStaleToleratesRecentActivity(t *testing.T) {
	now := time.Now()
	m := newManagerWithClock(now, time.Minute)
	sess := &core.UploadSession{State: core.SessionOpen, LastActivityAt: now.Add(-10 * time.Second)}
	if m.isStale(sess) {
		t.Fatal("a recently active Open session should not be stale")
	}
}
