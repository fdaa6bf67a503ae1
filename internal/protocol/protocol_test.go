package protocol

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/danmuck/atomlink/internal/protocol/schema"
)

func TestClassifyExhaustion(t *testing.T) {
	cases := []struct {
		name     string
		failures []Failure
		want     Kind
	}{
		{"silence", []Failure{FailureTimeout, FailureTimeout, FailureTimeout}, NoData},
		{"corrupt", []Failure{FailureTimeout, FailureChecksum, FailureTimeout}, Communication},
		{"truncated", []Failure{FailureTruncated}, Communication},
		{"unknown tag", []Failure{FailureUnknownType, FailureTimeout}, Communication},
		{"desync", []Failure{FailureChecksum, FailureUnexpected, FailureTimeout}, Dropped},
		{"transport", []Failure{FailureTimeout, FailureTransport}, Communication},
		{"wake", []Failure{FailureTimeout, FailureWake}, KeepAwake},
	}
	for _, tc := range cases {
		r := Record{Attempts: len(tc.failures)}
		for _, f := range tc.failures {
			r.Add(f, nil)
		}
		got := Classify("test", r)
		if got.Kind != tc.want {
			t.Fatalf("%s: got=%s want=%s", tc.name, got.Kind, tc.want)
		}
		if got.Attempts != len(tc.failures) || got.Last != tc.failures[len(tc.failures)-1] {
			t.Fatalf("%s: context not carried: %+v", tc.name, got)
		}
	}
}

func TestErrorMatchesKindWithErrorsIs(t *testing.T) {
	r := Record{Attempts: 2}
	r.Add(FailureTimeout, nil)
	r.Add(FailureTimeout, io.ErrNoProgress)
	err := fmt.Errorf("wrapped: %w", Classify("info", r))
	if !errors.Is(err, NoData) {
		t.Fatalf("expected NoData, got %v", err)
	}
	if errors.Is(err, Communication) {
		t.Fatalf("kind must not match other kinds")
	}
	if !errors.Is(err, io.ErrNoProgress) {
		t.Fatalf("expected cause to unwrap")
	}
	if KindOf(err) != NoData {
		t.Fatalf("unexpected KindOf %s", KindOf(err))
	}
	if KindOf(io.EOF) != KindNone {
		t.Fatalf("unclassified error should be KindNone")
	}
}

func TestFromStatus(t *testing.T) {
	if FromStatus("send", schema.StatusOK) != nil || FromStatus("recv", schema.StatusEmpty) != nil {
		t.Fatalf("success statuses must not classify")
	}
	want := map[schema.Status]Kind{
		schema.StatusNotConnected:    NotConnected,
		schema.StatusDropped:         Dropped,
		schema.StatusChannelRejected: Channel,
		schema.StatusChannelUnknown:  Channel,
		schema.Status(99):            Communication,
	}
	for st, k := range want {
		if got := FromStatus("op", st); got == nil || got.Kind != k {
			t.Fatalf("status %s: got=%v want=%s", st, got, k)
		}
	}
}

func TestWithOpRelabelsCopy(t *testing.T) {
	orig := StateError("send", ErrChannelState)
	err := WithOp(orig, "channel.send")
	var pe *Error
	if !errors.As(err, &pe) || pe.Op != "channel.send" || orig.Op != "send" {
		t.Fatalf("unexpected relabel: %v / %v", err, orig)
	}
	if !errors.Is(err, Channel) || !errors.Is(err, ErrChannelState) {
		t.Fatalf("relabeled error lost identity: %v", err)
	}
}

func TestTerminalHelpers(t *testing.T) {
	if err := StateError("channel.send", ErrChannelState); !errors.Is(err, Channel) || !errors.Is(err, ErrChannelState) {
		t.Fatalf("state error: %v", err)
	}
	if err := Closed("info", nil); !errors.Is(err, NotConnected) || !errors.Is(err, ErrClosed) {
		t.Fatalf("closed error: %v", err)
	}
	cause := errors.New("short field")
	if err := Malformed("info", cause); !errors.Is(err, Communication) || !errors.Is(err, cause) {
		t.Fatalf("malformed error: %v", err)
	}
}
