package jwt

// Option configures a Codec.
type Option interface {
	applyCodec(c *Codec)
}

type clockOption struct {
	clock Clock
}

func (o clockOption) applyCodec(c *Codec) {
	c.clock = o.clock
}

// WithClock sets the clock used for issuing and validating tokens.
func WithClock(clock Clock) Option {
	return clockOption{clock}
}

type idGeneratorOption struct {
	idGenerator IDGenerator
}

func (o idGeneratorOption) applyCodec(c *Codec) {
	c.idGenerator = o.idGenerator
}

// WithIDGenerator sets the generator of token IDs (jti).
func WithIDGenerator(idGenerator IDGenerator) Option {
	return idGeneratorOption{idGenerator}
}
