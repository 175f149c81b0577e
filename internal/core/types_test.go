package core

import "testing"

func TestReceivedCount(t *testing.T) {
	s := UploadSession{Received: map[uint32]bool{0: true, 2: true, 5: true}}
	if got := s.ReceivedCount(); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}

func TestReceivedCountEmpty(t *testing.T) {
	var s UploadSession
	if got := s.ReceivedCount(); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}
