package optimistic

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// TempPrefix marks identifiers the client made up for records the gateway
// has not confirmed yet. Server ids never carry it.
const TempPrefix = "tmp-"

// TempIDs hands out tentative identifiers: a monotonic counter plus a
// random suffix, so two stores (or two processes) never agree by accident.
type TempIDs struct {
	counter atomic.Uint64
}

// Next returns a fresh tentative identifier.
func (g *TempIDs) Next() string {
	n := g.counter.Add(1)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return TempPrefix + strconv.FormatUint(n, 10) + "-" + suffix
}

// IsTentative reports whether id was produced by TempIDs.
func IsTentative(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}
