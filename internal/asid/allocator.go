// Package asid hands out AS numbers for new UserASes.
package asid

import (
	"context"
	"errors"
	"fmt"

	"github.com/scionproto/scion/pkg/addr"
)

// ErrRangeExhausted is returned when every AS number of the range is taken.
var ErrRangeExhausted = errors.New("UserAS-ID range exhausted")

// Source reports the highest AS number in use, and false when none is.
type Source interface {
	MaxASNumber(ctx context.Context) (addr.AS, bool, error)
}

// Allocator allocates AS numbers from [Begin, End].
type Allocator struct {
	Begin addr.AS
	End   addr.AS
}

// NewAllocator parses the bounds of the range, e.g. "ffaa:1:1" and "ffaa:1:ffff".
func NewAllocator(begin, end string) (*Allocator, error) {
	b, err := addr.ParseAS(begin)
	if err != nil {
		return nil, fmt.Errorf("invalid range start: %w", err)
	}
	e, err := addr.ParseAS(end)
	if err != nil {
		return nil, fmt.Errorf("invalid range end: %w", err)
	}
	if e < b {
		return nil, fmt.Errorf("range end %s is below start %s", e, b)
	}
	return &Allocator{Begin: b, End: e}, nil
}

// Next returns the number following the highest one in use, never less than Begin. Numbers
// freed below the highest are not reused.
func (a *Allocator) Next(ctx context.Context, src Source) (addr.AS, error) {
	highest, ok, err := src.MaxASNumber(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return a.Begin, nil
	}
	if highest >= a.End {
		return 0, fmt.Errorf("%s-%s: %w", a.Begin, a.End, ErrRangeExhausted)
	}
	if highest+1 < a.Begin {
		return a.Begin, nil
	}
	return highest + 1, nil
}
