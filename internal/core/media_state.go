package core

import (
	"fmt"
	"sync"

	"github.com/dkeye/Broadcast/internal/media"
)

type ProducerPhase int

const (
	ProducerNone ProducerPhase = iota
	ProducerTransportPending
	ProducerTransportConnected
	ProducerActive
)

func (p ProducerPhase) String() string {
	switch p {
	case ProducerTransportPending:
		return "ProducerTransportPending"
	case ProducerTransportConnected:
		return "ProducerTransportConnected"
	case ProducerActive:
		return "Producing"
	default:
		return "None"
	}
}

type ConsumerPhase int

const (
	ConsumerNone ConsumerPhase = iota
	ConsumerTransportPending
	ConsumerTransportConnected
	ConsumerActive
	ConsumerResumed
)

func (p ConsumerPhase) String() string {
	switch p {
	case ConsumerTransportPending:
		return "ConsumerTransportPending"
	case ConsumerTransportConnected:
		return "ConsumerTransportConnected"
	case ConsumerActive:
		return "Consuming"
	case ConsumerResumed:
		return "Resumed"
	default:
		return "None"
	}
}

// Released lists engine resources a state transition detached from the
// session. The caller closes them through the gateway.
type Released struct {
	ProducerTransportID string
	ProducerID          string
	ConsumerTransportID string
	ConsumerID          string
}

func (r Released) Empty() bool {
	return r == Released{}
}

// MediaState is the per-connection negotiation state machine. The producer
// side and the consumer side advance independently; Close is terminal.
type MediaState struct {
	mu     sync.Mutex
	closed bool

	producerPhase       ProducerPhase
	producerTransportID string
	producerID          string
	producerKind        media.Kind

	consumerPhase       ConsumerPhase
	consumerTransportID string
	consumerID          string
	consumerProducerID  string
	consumerKind        media.Kind
}

func NewMediaState() *MediaState { return &MediaState{} }

func (s *MediaState) errClosed() error {
	return fmt.Errorf("%w: session disconnected", ErrInvalidState)
}

// SetProducerTransport stores a freshly created producer transport. A
// previous transport and the producer running on it are released.
func (s *MediaState) SetProducerTransport(id string) (Released, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Released{ProducerTransportID: id}, s.errClosed()
	}
	rel := Released{ProducerTransportID: s.producerTransportID, ProducerID: s.producerID}
	s.producerTransportID = id
	s.producerID = ""
	s.producerKind = ""
	s.producerPhase = ProducerTransportPending
	return rel, nil
}

// ProducerTransportToConnect returns the transport a connect request
// targets.
func (s *MediaState) ProducerTransportToConnect() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return "", s.errClosed()
	case s.producerTransportID == "":
		return "", fmt.Errorf("%w: producer transport not created", ErrInvalidState)
	case s.producerPhase != ProducerTransportPending:
		return "", fmt.Errorf("%w: producer transport already connected", ErrInvalidState)
	}
	return s.producerTransportID, nil
}

func (s *MediaState) MarkProducerTransportConnected(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.errClosed()
	}
	if s.producerTransportID != id {
		return fmt.Errorf("%w: producer transport replaced", ErrInvalidState)
	}
	s.producerPhase = ProducerTransportConnected
	return nil
}

// ProducerTransportToProduce returns the connected producer transport.
func (s *MediaState) ProducerTransportToProduce() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return "", s.errClosed()
	case s.producerPhase < ProducerTransportConnected:
		return "", fmt.Errorf("%w: producer transport not connected", ErrInvalidState)
	}
	return s.producerTransportID, nil
}

// SetProducer records the producer created on transportID. A previous
// producer of this session is released.
func (s *MediaState) SetProducer(transportID, producerID string, kind media.Kind) (Released, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Released{ProducerID: producerID}, s.errClosed()
	}
	if s.producerTransportID != transportID {
		return Released{ProducerID: producerID}, fmt.Errorf("%w: producer transport replaced", ErrInvalidState)
	}
	rel := Released{ProducerID: s.producerID}
	s.producerID = producerID
	s.producerKind = kind
	s.producerPhase = ProducerActive
	return rel, nil
}

// ClearProducer forgets producerID if it is still the session's producer.
func (s *MediaState) ClearProducer(producerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if producerID == "" || s.producerID != producerID {
		return false
	}
	s.producerID = ""
	s.producerKind = ""
	if s.producerPhase == ProducerActive {
		s.producerPhase = ProducerTransportConnected
	}
	return true
}

func (s *MediaState) SetConsumerTransport(id string) (Released, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Released{ConsumerTransportID: id}, s.errClosed()
	}
	rel := Released{ConsumerTransportID: s.consumerTransportID, ConsumerID: s.consumerID}
	s.consumerTransportID = id
	s.consumerID = ""
	s.consumerProducerID = ""
	s.consumerKind = ""
	s.consumerPhase = ConsumerTransportPending
	return rel, nil
}

func (s *MediaState) ConsumerTransportToConnect() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return "", s.errClosed()
	case s.consumerTransportID == "":
		return "", fmt.Errorf("%w: consumer transport not created", ErrInvalidState)
	case s.consumerPhase != ConsumerTransportPending:
		return "", fmt.Errorf("%w: consumer transport already connected", ErrInvalidState)
	}
	return s.consumerTransportID, nil
}

func (s *MediaState) MarkConsumerTransportConnected(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.errClosed()
	}
	if s.consumerTransportID != id {
		return fmt.Errorf("%w: consumer transport replaced", ErrInvalidState)
	}
	s.consumerPhase = ConsumerTransportConnected
	return nil
}

func (s *MediaState) ConsumerTransportToConsume() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return "", s.errClosed()
	case s.consumerPhase < ConsumerTransportConnected:
		return "", fmt.Errorf("%w: consumer transport not connected", ErrInvalidState)
	}
	return s.consumerTransportID, nil
}

// SetConsumer records a consumer of producerID created on transportID; a
// previous consumer is released.
func (s *MediaState) SetConsumer(transportID, consumerID, producerID string, kind media.Kind) (Released, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Released{ConsumerID: consumerID}, s.errClosed()
	}
	if s.consumerTransportID != transportID {
		return Released{ConsumerID: consumerID}, fmt.Errorf("%w: consumer transport replaced", ErrInvalidState)
	}
	rel := Released{ConsumerID: s.consumerID}
	s.consumerID = consumerID
	s.consumerProducerID = producerID
	s.consumerKind = kind
	s.consumerPhase = ConsumerActive
	return rel, nil
}

// DropConsumerOf forgets the consumer fed by producerID. The engine closes
// consumers together with their producer, so nothing is released.
func (s *MediaState) DropConsumerOf(producerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if producerID == "" || s.consumerID == "" || s.consumerProducerID != producerID {
		return false
	}
	s.consumerID = ""
	s.consumerProducerID = ""
	s.consumerKind = ""
	if s.consumerPhase >= ConsumerActive {
		s.consumerPhase = ConsumerTransportConnected
	}
	return true
}

func (s *MediaState) ConsumerToResume() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return "", s.errClosed()
	case s.consumerID == "":
		return "", fmt.Errorf("%w: no consumer", ErrInvalidState)
	}
	return s.consumerID, nil
}

func (s *MediaState) MarkResumed(consumerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.errClosed()
	}
	if s.consumerID != consumerID {
		return fmt.Errorf("%w: consumer replaced", ErrInvalidState)
	}
	s.consumerPhase = ConsumerResumed
	return nil
}

// Close moves the session to its terminal state. Only the first call
// returns the resources to release.
func (s *MediaState) Close() (Released, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Released{}, false
	}
	s.closed = true
	rel := Released{
		ProducerTransportID: s.producerTransportID,
		ProducerID:          s.producerID,
		ConsumerTransportID: s.consumerTransportID,
		ConsumerID:          s.consumerID,
	}
	s.producerTransportID, s.producerID = "", ""
	s.consumerTransportID, s.consumerID, s.consumerProducerID = "", "", ""
	return rel, true
}

func (s *MediaState) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MediaState) ProducerPhase() ProducerPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.producerPhase
}

func (s *MediaState) ConsumerPhase() ConsumerPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumerPhase
}

func (s *MediaState) ProducerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.producerID
}

func (s *MediaState) ConsumerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumerID
}
