package envelope

// Envelope carries a raw message payload together with its retry state.
// The attempt counter and error history travel with the message between
// deliveries; the transport maps them to and from broker metadata so the
// rest of the pipeline never touches AMQP headers directly.
type Envelope struct {
	Payload []byte
	Attempt int
	History []string
}
