package health

import (
	"testing"
	"time"
)

func TestSentinel_ZeroValueStatusIsNotOK(t *testing.T) {
	s := &Sentinel{version: "test"}
	if s.Status().OK {
		t.Fatal("a sentinel that has never pinged must not report OK")
	}
}

func TestSentinel_VersionReturnsConstructorValue(t *testing.T) {
	s := New(nil, "1.2.3")
	if s.Version() != "1.2.3" {
		t.Fatalf("Version() = %q, want 1.2.3", s.Version())
	}
}

func TestSentinel_StatusRoundTrip(t *testing.T) {
	s := &Sentinel{}
	now := time.Now()
	s.status = Status{OK: true, At: now}
	got := s.Status()
	if !got.OK || !got.At.Equal(now) {
		t.Fatalf("Status() = %+v, want OK=true At=%v", got, now)
	}
}
