package rsemgr

import (
	"fmt"
	"sort"

	"github.com/marmos91/rsemgr/pkg/rse"
)

// Candidates returns the protocols of info offered for op in domain, most
// preferred first. Equal priorities keep declaration order.
//
// Returns an error wrapping ErrRSEProtocolNotSupported when none qualifies.
func Candidates(info *rse.Info, domain rse.Domain, op rse.Operation) ([]rse.ProtocolSpec, error) {
	var out []rse.ProtocolSpec
	for _, spec := range info.Protocols {
		if spec.Priority(domain, op) > 0 {
			out = append(out, spec)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("rse %s: no protocol for %s in domain %s: %w", info.Tag, op, domain, rse.ErrRSEProtocolNotSupported)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority(domain, op) < out[j].Priority(domain, op)
	})
	return out, nil
}
