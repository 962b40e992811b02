package cmsg

// Facts is what one receive call learned about the bytes it published.
type Facts struct {
	// Flags are the recvmsg flags reported for the receive.
	Flags int
	// Truncated is set when the kernel dropped control data (MSG_CTRUNC).
	Truncated bool
	// Messages is the number of control messages published.
	Messages int
	// Rights is the number of descriptors carried in SCM_RIGHTS messages.
	Rights int
	// Credentials is the number of credential messages.
	Credentials int
}

// Collector accumulates Facts for the contents of one buffer.
type Collector interface {
	// Collect records the facts of one receive.
	Collect(f Facts)
	// Facts returns everything collected since the last Clear.
	Facts() Facts
	// Clear forgets collected facts.
	Clear()
}

// NoContext is a zero-sized collector that records nothing.
type NoContext struct{}

func (NoContext) Collect(Facts) {}
func (NoContext) Facts() Facts  { return Facts{} }
func (NoContext) Clear()        {}

// RecvContext accumulates facts over every receive into the same buffer.
type RecvContext struct {
	facts    Facts
	receives int
}

// Collect merges f into the accumulated facts. Flags are or-ed together.
func (c *RecvContext) Collect(f Facts) {
	c.facts.Flags |= f.Flags
	c.facts.Truncated = c.facts.Truncated || f.Truncated
	c.facts.Messages += f.Messages
	c.facts.Rights += f.Rights
	c.facts.Credentials += f.Credentials
	c.receives++
}

// Facts returns the accumulated facts.
func (c *RecvContext) Facts() Facts {
	return c.facts
}

// Receives returns how many receives were collected since the last Clear.
func (c *RecvContext) Receives() int {
	return c.receives
}

// Clear resets the collector.
func (c *RecvContext) Clear() {
	*c = RecvContext{}
}

// Credentials are the peer credentials carried by a credential message.
type Credentials struct {
	PID int32
	UID uint32
	GID uint32
}
