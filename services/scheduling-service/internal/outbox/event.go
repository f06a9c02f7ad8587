package outbox

// Event is the envelope written to the outbox table inside the same
// transaction as the appointment change it describes. The relay publishes it
// to the appointment events topic; consumers dedup on EventID.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
