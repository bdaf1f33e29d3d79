// Package cursor encodes pagination positions as opaque, signed tokens.
//
// A token carries the sort-key tuple of the last record of a page together
// with the fingerprint of the sort order it was produced under. Tokens are
// HS256-signed JWTs; a token whose signature does not verify under the
// codec secret is rejected as malformed.
package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/hanpama/graphload/internal/fault"
)

// Position is the decoded content of a cursor.
type Position struct {
	// Sort is the fingerprint of the effective sort spec.
	Sort string
	// Values is the sort-key tuple of the last record, aligned with the sort spec.
	Values []any
}

type claims struct {
	Sort   string `json:"srt"`
	Values []any  `json:"pos"`
	jwt.RegisteredClaims
}

// Codec signs and verifies cursors. It is safe for concurrent use.
type Codec struct {
	secret []byte
	parser *jwt.Parser
}

// NewCodec returns a codec keyed by secret, which must not be empty.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("cursor: empty secret")
	}
	return &Codec{
		secret: append([]byte(nil), secret...),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithJSONNumber(),
		),
	}, nil
}

// Encode produces the token for p. Equal positions encode to equal tokens.
func (c *Codec) Encode(p Position) (string, error) {
	vals := make([]any, len(p.Values))
	for i, v := range p.Values {
		nv, err := encodable(v)
		if err != nil {
			return "", fmt.Errorf("cursor: position %d: %w", i, err)
		}
		vals[i] = nv
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{Sort: p.Sort, Values: vals})
	s, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("cursor: sign: %w", err)
	}
	return s, nil
}

// Decode verifies token and returns its position. Any failure is reported
// as fault.ErrInvalidQuery.
func (c *Codec) Decode(token string) (Position, error) {
	if token == "" {
		return Position{}, fault.InvalidQuery("", "malformed cursor: empty")
	}
	var cl claims
	_, err := c.parser.ParseWithClaims(token, &cl, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return Position{}, &fault.Error{Kind: fault.KindInvalidQuery, Message: "malformed cursor", Err: err}
	}
	if cl.Sort == "" {
		return Position{}, fault.InvalidQuery("", "malformed cursor: missing sort fingerprint")
	}
	vals := make([]any, len(cl.Values))
	for i, v := range cl.Values {
		vals[i] = decoded(v)
	}
	return Position{Sort: cl.Sort, Values: vals}, nil
}

// encodable maps a sort-key value to something that survives a JSON round trip.
func encodable(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return x, nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return nil, fmt.Errorf("unsupported sort-key value of type %T", v)
}

func decoded(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
