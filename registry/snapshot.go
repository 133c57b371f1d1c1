package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-multierror"
)

// SnapshotVersion is the current session snapshot format.
const SnapshotVersion = 1

// Snapshot is the saved filter configuration of one session. It carries
// expressions rather than bytecode, so loading it recompiles every filter
// with the loading side's compiler.
type Snapshot struct {
	Version int              `cbor:"1,keyasint"`
	Session string           `cbor:"2,keyasint"`
	Filters []SnapshotFilter `cbor:"3,keyasint,omitempty"`
}

// SnapshotFilter is one attached filter within a Snapshot.
type SnapshotFilter struct {
	Channel    string `cbor:"1,keyasint"`
	Event      string `cbor:"2,keyasint"`
	Expression string `cbor:"3,keyasint"`
}

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("registry: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalSnapshot serializes a Snapshot to CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("registry: unmarshal snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("registry: unsupported snapshot version %d", s.Version)
	}
	if s.Session == "" {
		return nil, fmt.Errorf("registry: snapshot has no session name")
	}
	return &s, nil
}

// Save captures the filters of session.
func (r *Registry) Save(session string) ([]byte, error) {
	if session == "" {
		return nil, fmt.Errorf("%w: empty session name", ErrInvalidKey)
	}
	s := &Snapshot{Version: SnapshotVersion, Session: session}
	for _, rule := range r.List(session) {
		s.Filters = append(s.Filters, SnapshotFilter{
			Channel:    rule.Key.Channel,
			Event:      rule.Key.Event,
			Expression: rule.Expression,
		})
	}
	return MarshalSnapshot(s)
}

// Load attaches every filter in a snapshot produced by Save. Filters that
// are already attached unchanged are skipped, so loading is idempotent.
// It returns the number of filters attached and the combined failures.
func (r *Registry) Load(ctx context.Context, data []byte) (int, error) {
	s, err := UnmarshalSnapshot(data)
	if err != nil {
		return 0, err
	}

	var errs *multierror.Error
	attached := 0
	for _, f := range s.Filters {
		key := Key{Session: s.Session, Channel: f.Channel, Event: f.Event}
		_, err := r.Attach(ctx, key, f.Expression)
		switch {
		case err == nil:
			attached++
		case errors.Is(err, ErrFilterExists):
		default:
			errs = multierror.Append(errs, err)
		}
	}
	return attached, errs.ErrorOrNil()
}
