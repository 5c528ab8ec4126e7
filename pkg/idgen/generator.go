package idgen

import "context"

// Generator defines the interface for producing new link identities.
type Generator interface {
	Next(ctx context.Context) (id int64, alias string, err error)
}

// AliasGenerator pairs a Snowflake with the base62 codec.
type AliasGenerator struct {
	sf *Snowflake
}

func NewAliasGenerator(sf *Snowflake) *AliasGenerator {
	return &AliasGenerator{sf: sf}
}

// Next returns a fresh ID and its alias. The context is only checked up front;
// generation itself never blocks for longer than a millisecond tick.
func (g *AliasGenerator) Next(ctx context.Context) (int64, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}
	id, err := g.sf.Generate()
	if err != nil {
		return 0, "", err
	}
	return id, Encode(uint64(id)), nil
}
