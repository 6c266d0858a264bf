package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
)

// State names the media session's lifecycle position.
type State string

const (
	StateIdle        State = "idle"
	StateNegotiating State = "negotiating"
	StateReady       State = "ready"
	StateActive      State = "active"
	StateTerminating State = "terminating"
	StateFailed      State = "failed"
)

// Role distinguishes which side of the offer/answer exchange a session
// plays.
type Role int

const (
	RoleUAC Role = iota
	RoleUAS
)

// Config configures a single Session.
type Config struct {
	Role             Role
	LocalHost        string
	Codecs           []Codec
	Handler          Handler
	HandlerArgs      interface{}
	Ports            *PortPool
	StatsInterval    time.Duration
	OnStateChange    func(State)

	// Security, when set, is handed to the external RTP transport so it
	// can key SRTP via DTLS; see TransportSecurity.
	Security TransportSecurity
}

// Session is a single media session: id, role, negotiation state,
// selected codec, and the handler state threaded through every
// callback. Every mutating method is safe for concurrent use; the FSM
// guards against invalid lifecycle transitions.
type Session struct {
	mu sync.Mutex

	id      string
	role    Role
	cfg     Config
	handler Handler

	localHost string
	localPort int
	remoteIP  string
	remotePort int

	localSDP   *sdp.SessionDescription
	remoteSDP  *sdp.SessionDescription
	selected   Codec
	supported  []Codec

	handlerState interface{}
	fsm          *fsm.FSM

	stats      *statsTracker
	statsStop  context.CancelFunc
	statsDone  chan struct{}
}

// NewSession creates a session in Idle state. It invokes the handler's
// Init callback immediately; if the handler refuses to start, an error
// is returned and no resources are held.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Handler == nil {
		cfg.Handler = DefaultHandler{}
	}
	supported := cfg.Codecs
	if len(supported) == 0 {
		supported = DefaultCodecPreference
	}
	if cfg.Ports == nil {
		return nil, fmt.Errorf("media: session requires a port pool")
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = time.Second
	}

	init := cfg.Handler.Init(cfg.HandlerArgs)
	if init.Stop {
		return nil, fmt.Errorf("media: handler refused session start: %s", init.StopReason)
	}

	s := &Session{
		id:           uuid.New().String(),
		role:         cfg.Role,
		cfg:          cfg,
		handler:      cfg.Handler,
		localHost:    resolveAdvertiseHost(cfg.LocalHost),
		supported:    supported,
		handlerState: init.State,
		stats:        newStatsTracker(DefaultCodecPreference[0].ClockRate),
	}
	s.initFSM()

	result := s.handler.HandleSessionStart(s.id, nil, s.handlerState)
	s.handlerState = result.State
	if result.Err != nil {
		return nil, fmt.Errorf("media: handle_session_start refused: %w", result.Err)
	}

	return s, nil
}

func (s *Session) initFSM() {
	s.fsm = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: "negotiate", Src: []string{string(StateIdle)}, Dst: string(StateNegotiating)},
			{Name: "ready", Src: []string{string(StateNegotiating)}, Dst: string(StateReady)},
			{Name: "start_media", Src: []string{string(StateReady)}, Dst: string(StateActive)},
			{Name: "terminate", Src: []string{
				string(StateIdle), string(StateNegotiating), string(StateReady), string(StateActive),
			}, Dst: string(StateTerminating)},
			{Name: "fail", Src: []string{
				string(StateIdle), string(StateNegotiating), string(StateReady), string(StateActive),
			}, Dst: string(StateFailed)},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if s.cfg.OnStateChange != nil {
					s.cfg.OnStateChange(State(e.Dst))
				}
			},
		},
	)
}

// ID returns the session id, suitable for registry lookups.
func (s *Session) ID() string { return s.id }

// Security returns the DTLS-SRTP configuration this session was given,
// for the external RTP transport to key with.
func (s *Session) Security() TransportSecurity { return s.cfg.Security }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State(s.fsm.Current())
}

// GenerateOffer allocates a local RTP port and renders an offer
// listing the session's supported codecs in preference order (UAC
// path: Idle -> Negotiating).
func (s *Session) GenerateOffer() (*sdp.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fsm.Event(context.Background(), "negotiate"); err != nil {
		return nil, fmt.Errorf("media: generate_offer: %w", err)
	}

	port, err := s.cfg.Ports.Allocate()
	if err != nil {
		s.failLocked(err)
		return nil, err
	}
	s.localPort = port

	offer := BuildOffer(OfferParams{
		Host:      s.localHost,
		Port:      port,
		SessionID: s.id,
		Codecs:    s.supported,
	})

	decision := s.handler.HandleOffer(offer, DirectionOutbound, s.handlerState)
	s.handlerState = decision.State
	if decision.Kind == SDPReject {
		err := fmt.Errorf("media: handler rejected outbound offer: %s", decision.Reason)
		s.failLocked(err)
		return nil, err
	}
	if decision.Kind == SDPAccept && decision.SDP != nil {
		offer = decision.SDP
	}

	s.localSDP = offer
	return offer, nil
}

// ProcessOffer negotiates a codec against a remote offer and renders
// an answer (UAS path: Idle -> Negotiating -> Ready).
func (s *Session) ProcessOffer(offer *sdp.SessionDescription) (*sdp.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fsm.Event(context.Background(), "negotiate"); err != nil {
		return nil, fmt.Errorf("media: process_offer: %w", err)
	}

	offerDecision := s.handler.HandleOffer(offer, DirectionInbound, s.handlerState)
	s.handlerState = offerDecision.State
	if offerDecision.Kind == SDPReject {
		err := fmt.Errorf("media: handler rejected inbound offer: %s", offerDecision.Reason)
		s.failLocked(err)
		return nil, err
	}
	if offerDecision.Kind == SDPAccept && offerDecision.SDP != nil {
		offer = offerDecision.SDP
	}
	s.remoteSDP = offer

	offered, err := OfferedCodecs(offer)
	if err != nil {
		s.failLocked(err)
		return nil, err
	}

	chosen, err := s.negotiateLocked(offered)
	if err != nil {
		return nil, err
	}

	port, err := s.cfg.Ports.Allocate()
	if err != nil {
		s.failLocked(err)
		return nil, err
	}
	s.localPort = port

	remoteHost, remotePort, err := RemoteEndpoint(offer)
	if err != nil {
		s.failLocked(err)
		return nil, err
	}
	s.remoteIP, s.remotePort = remoteHost, remotePort

	answer := BuildAnswer(OfferParams{
		Host:      s.localHost,
		Port:      port,
		SessionID: s.id,
	}, chosen)
	s.localSDP = answer
	s.stats = newStatsTracker(chosen.ClockRate)

	if err := s.completeNegotiationLocked(); err != nil {
		return nil, err
	}

	return answer, nil
}

// ProcessAnswer verifies a remote answer's codec is one this session
// offered (UAC path: Negotiating -> Ready).
func (s *Session) ProcessAnswer(answer *sdp.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	decision := s.handler.HandleAnswer(answer, DirectionInbound, s.handlerState)
	s.handlerState = decision.State
	if decision.Kind == SDPReject {
		err := fmt.Errorf("media: handler rejected answer: %s", decision.Reason)
		s.failLocked(err)
		return err
	}
	if decision.Kind == SDPAccept && decision.SDP != nil {
		answer = decision.SDP
	}
	s.remoteSDP = answer

	answered, err := OfferedCodecs(answer)
	if err != nil || len(answered) == 0 {
		err := fmt.Errorf("media: answer carries no codec")
		s.failLocked(err)
		return err
	}
	chosen := answered[0]

	offeredOK := false
	for _, c := range s.supported {
		if c.PayloadType == chosen.PayloadType {
			offeredOK = true
			break
		}
	}
	if !offeredOK {
		err := fmt.Errorf("media: answer selected codec %s not in offer", chosen.Name)
		s.failLocked(err)
		return err
	}
	s.selected = chosen
	s.stats = newStatsTracker(chosen.ClockRate)

	remoteHost, remotePort, err := RemoteEndpoint(answer)
	if err != nil {
		s.failLocked(err)
		return err
	}
	s.remoteIP, s.remotePort = remoteHost, remotePort

	return s.completeNegotiationLocked()
}

// negotiateLocked runs handle_codec_negotiation and applies its
// decision, moving the session to Failed on rejection or empty
// intersection.
func (s *Session) negotiateLocked(offered []Codec) (Codec, error) {
	decision := s.handler.HandleCodecNegotiation(offered, s.supported, s.handlerState)
	s.handlerState = decision.State

	var chosen Codec
	var err error
	switch decision.Kind {
	case CodecAccept:
		chosen = decision.Codec
	case CodecAcceptList:
		if len(decision.Codecs) == 0 {
			err = fmt.Errorf("media: handler returned empty codec list")
		} else {
			chosen, err = ChooseCodec(offered, decision.Codecs)
		}
	case CodecReject:
		err = fmt.Errorf("media: handler rejected negotiation: %s", decision.Reason)
	}
	if err == nil && chosen.Name == "" {
		chosen, err = ChooseCodec(offered, s.supported)
	}
	if err != nil {
		s.failLocked(err)
		return Codec{}, err
	}

	s.selected = chosen
	return chosen, nil
}

// completeNegotiationLocked fires handle_negotiation_complete and
// advances the FSM to Ready.
func (s *Session) completeNegotiationLocked() error {
	result := s.handler.HandleNegotiationComplete(s.localSDP, s.remoteSDP, s.selected, s.handlerState)
	s.handlerState = result.State
	if result.Err != nil {
		s.failLocked(result.Err)
		return result.Err
	}

	if err := s.fsm.Event(context.Background(), "ready"); err != nil {
		s.failLocked(err)
		return err
	}
	return nil
}

// StartMedia moves Ready -> Active and begins periodic RTP stats
// reporting, called once media is flowing (typically on ACK receipt
// for a UAS session, or after sending ACK for a UAC session).
func (s *Session) StartMedia(ctx context.Context) error {
	s.mu.Lock()
	if err := s.fsm.Event(context.Background(), "start_media"); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("media: start_media: %w", err)
	}
	dir := DirectionBidirectional
	result := s.handler.HandleStreamStart(s.id, dir, s.handlerState)
	s.handlerState = result.State
	s.mu.Unlock()

	for _, action := range result.Actions {
		_ = action // playback actions are executed by the external media pipeline
	}

	s.startStatsLoop(ctx)
	return nil
}

// startStatsLoop schedules periodic handle_rtp_stats calls at the
// configured interval until the session is terminated.
func (s *Session) startStatsLoop(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.statsStop = cancel
	s.statsDone = done
	interval := s.cfg.StatsInterval
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.reportStats()
			}
		}
	}()
}

func (s *Session) reportStats() {
	s.mu.Lock()
	snap := s.stats.snapshot()
	result := s.handler.HandleRTPStats(snap, s.handlerState)
	s.handlerState = result.State
	s.mu.Unlock()
	_ = result // re-INVITE-driven quality adjustment is left to the dialog layer
}

// ObservePacket feeds one inbound RTP packet's header into the
// session's loss/jitter tracker; actual packet reception is owned by
// the external RTP transport.
func (s *Session) ObservePacket(hdr *rtp.Header, arrival uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.observe(hdr, arrival)
}

// Terminate cancels the stats loop, releases the RTP port, and moves
// the session to Terminating. It is idempotent.
func (s *Session) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if State(s.fsm.Current()) == StateTerminating || State(s.fsm.Current()) == StateFailed {
		return nil
	}
	if err := s.fsm.Event(context.Background(), "terminate"); err != nil {
		return fmt.Errorf("media: terminate: %w", err)
	}

	if s.statsStop != nil {
		s.statsStop()
	}
	if s.localPort != 0 {
		s.cfg.Ports.Release(s.localPort)
		s.localPort = 0
	}

	result := s.handler.HandleSessionStop(s.id, nil, s.handlerState)
	s.handlerState = result.State
	return nil
}

// failLocked moves the session to Failed and releases its port. Caller
// must hold s.mu.
func (s *Session) failLocked(cause error) {
	if err := s.fsm.Event(context.Background(), "fail"); err != nil {
		return
	}
	if s.statsStop != nil {
		s.statsStop()
	}
	if s.localPort != 0 {
		s.cfg.Ports.Release(s.localPort)
		s.localPort = 0
	}
	result := s.handler.HandleSessionStop(s.id, cause, s.handlerState)
	s.handlerState = result.State
}
