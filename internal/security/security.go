// Package security implements the Security Context (spec component
// C5): a per-call zero-trust guard carrying a cryptographic seed,
// challenge/response pair, and permission mask. The package emits no
// audit events itself; the dispatcher records a validation failure.
//
// Every call opens a fresh Scope and closes it before the dispatcher
// returns; Scope state is never shared across calls, satisfying
// spec 5's "security-context state is per-call and not shared."
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/libpolycall/polycall-go/internal/perr"
)

// Mask is a bitmask of permission flags.
type Mask uint32

const (
	PermRead Mask = 1 << iota
	PermWrite
	PermExecute
	PermAdmin
)

// Subset reports whether required is entirely covered by effective,
// i.e. required is a subset of effective (spec: "no call reaches the
// bridge if its required-permission mask is not a subset of the
// caller's effective mask").
func (required Mask) Subset(effective Mask) bool {
	return required&effective == required
}

// CallFlags mirror the per-call flags from spec section 6 that affect
// security strictness.
type CallFlags struct {
	Secure    bool
	Traced    bool
	Validated bool
}

// Scope is the per-call security bundle: seed, challenge, response,
// timestamp, and permission mask. It is intentionally not safe for
// concurrent use from multiple goroutines -- a call owns exactly one
// Scope for its lifetime.
type Scope struct {
	Seed           [32]byte
	Challenge      [32]byte
	Response       [64]byte
	Timestamp      time.Time
	RequiredMask   Mask
	CallerIdentity string
	Flags          CallFlags

	responded bool
}

// Guard opens and closes security scopes and checks them against a
// caller's effective permission mask. Stateless apart from the
// monotonic counter used to make each challenge unique even within
// the same wall-clock tick.
type Guard struct {
	counter uint64
}

// NewGuard creates a Guard.
func NewGuard() *Guard {
	return &Guard{}
}

// Open begins a security scope for one dispatched call: a random
// 32-byte seed is generated, and a challenge is derived from the seed
// and a monotonic counter so that two calls opened in the same
// instant never share a challenge.
func (g *Guard) Open(callerIdentity string, requiredMask Mask, flags CallFlags) (*Scope, error) {
	scope := &Scope{
		Timestamp:      time.Now().UTC(),
		RequiredMask:   requiredMask,
		CallerIdentity: callerIdentity,
		Flags:          flags,
	}
	if _, err := rand.Read(scope.Seed[:]); err != nil {
		return nil, perr.Wrap(perr.SecurityViolation, "failed to generate security seed", err)
	}

	counter := atomic.AddUint64(&g.counter, 1)
	scope.Challenge = deriveChallenge(scope.Seed, counter)
	return scope, nil
}

// Respond computes the expected response for scope's challenge and
// records it, simulating the bridge/callee side of the
// challenge-response handshake described in spec 4.5. A real
// hardware-backed bridge would instead compute this itself and hand
// the response back across the boundary; Respond's output is what
// Validate expects to receive in that case.
func (g *Guard) Respond(scope *Scope) [64]byte {
	return expectedResponse(scope.Seed, scope.Challenge)
}

// Validate checks a caller's effective permission mask against the
// scope's required mask, and the supplied response against the
// expected value for the scope's challenge. Any failure returns
// SECURITY_VIOLATION; the dispatcher is responsible for emitting the
// corresponding audit event.
func (g *Guard) Validate(scope *Scope, response [64]byte, effective Mask) error {
	if !scope.RequiredMask.Subset(effective) {
		return perr.Newf(perr.SecurityViolation, "required permission mask %d is not a subset of effective mask %d", scope.RequiredMask, effective)
	}
	want := expectedResponse(scope.Seed, scope.Challenge)
	if subtle.ConstantTimeCompare(want[:], response[:]) != 1 {
		return perr.New(perr.SecurityViolation, "challenge response did not validate")
	}
	scope.Response = response
	scope.responded = true
	return nil
}

// Close zeroizes the scope's challenge and response material. Called
// unconditionally at the end of a dispatch, success or failure.
func (g *Guard) Close(scope *Scope) {
	if scope == nil {
		return
	}
	for i := range scope.Challenge {
		scope.Challenge[i] = 0
	}
	for i := range scope.Response {
		scope.Response[i] = 0
	}
}

func deriveChallenge(seed [32]byte, counter uint64) [32]byte {
	h := sha256.New()
	h.Write(seed[:])
	var ctrBuf [8]byte
	binary.BigEndian.PutUint64(ctrBuf[:], counter)
	h.Write(ctrBuf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func expectedResponse(seed [32]byte, challenge [32]byte) [64]byte {
	h1 := sha256.Sum256(append(append([]byte(nil), seed[:]...), challenge[:]...))
	h2 := sha256.Sum256(append(append([]byte(nil), challenge[:]...), seed[:]...))
	var out [64]byte
	copy(out[:32], h1[:])
	copy(out[32:], h2[:])
	return out
}
