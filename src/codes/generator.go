package codes

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/username/lotfolio/src/logger"
)

// alphabet deliberately omits the easily confused characters (0/O, 1/I/L)
// so codes survive being read over the phone.
const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// ExistsFunc reports whether a candidate code is already taken. Lot codes
// share one namespace across the stock and option lot tables.
type ExistsFunc func(code string) (bool, error)

// Generator produces fixed-length lot codes, collision-checked against the
// ledger. If the retry budget runs out it accepts the last candidate: the
// uniqueness guarantee is best-effort, the database UNIQUE constraint is the
// backstop.
type Generator struct {
	length     int
	maxRetries int
	exists     ExistsFunc
}

func NewGenerator(length, maxRetries int, exists ExistsFunc) *Generator {
	return &Generator{length: length, maxRetries: maxRetries, exists: exists}
}

// Next returns a fresh lot code.
func (g *Generator) Next() (string, error) {
	var candidate string
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		code, err := g.random()
		if err != nil {
			return "", err
		}
		candidate = code
		taken, err := g.exists(candidate)
		if err != nil {
			return "", fmt.Errorf("checking code collision: %w", err)
		}
		if !taken {
			return candidate, nil
		}
		if logger.L != nil {
			logger.L.Debug("Lot code collision, retrying", "attempt", attempt+1)
		}
	}
	if logger.L != nil {
		logger.L.Warn("Lot code retry budget exhausted, accepting last candidate", "code", candidate)
	}
	return candidate, nil
}

func (g *Generator) random() (string, error) {
	buf := make([]byte, g.length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating lot code: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}
