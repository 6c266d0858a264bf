package media

import "github.com/pion/sdp/v3"

// Direction labels which way a stream or SDP body is flowing, as
// passed to the handler callbacks that need it.
type Direction string

const (
	DirectionInbound      Direction = "inbound"
	DirectionOutbound     Direction = "outbound"
	DirectionBidirectional Direction = "bidirectional"
)

// ActionKind enumerates the playback/codec control actions a handler
// may request from handle_stream_start, handle_play_complete and
// handle_media_request.
type ActionKind int

const (
	ActionNoReply ActionKind = iota
	ActionPlay
	ActionStop
	ActionPause
	ActionResume
	ActionSetCodec
)

// Action is the `action` sum type from the callback contract.
type Action struct {
	Kind  ActionKind
	Path  string
	Opts  map[string]string
	Codec Codec
}

func NoReplyAction() Action               { return Action{Kind: ActionNoReply} }
func PlayAction(path string, opts map[string]string) Action {
	return Action{Kind: ActionPlay, Path: path, Opts: opts}
}
func StopAction() Action               { return Action{Kind: ActionStop} }
func PauseAction() Action              { return Action{Kind: ActionPause} }
func ResumeAction() Action             { return Action{Kind: ActionResume} }
func SetCodecAction(c Codec) Action    { return Action{Kind: ActionSetCodec, Codec: c} }

// InitResult is init's return: either the handler's starting state, or
// a refusal to start the session at all.
type InitResult struct {
	Stop       bool
	StopReason string
	State      interface{}
}

// SessionResult covers handle_session_start/handle_session_stop's
// shared {ok|error, state} shape.
type SessionResult struct {
	Err   error
	State interface{}
}

// SDPDecisionKind discriminates handle_offer/handle_answer's return.
type SDPDecisionKind int

const (
	SDPAccept SDPDecisionKind = iota
	SDPReject
	SDPNoReply
)

// SDPResult is handle_offer/handle_answer's return: accept (optionally
// rewriting the body), reject with a reason, or defer to the default.
type SDPResult struct {
	Kind   SDPDecisionKind
	SDP    *sdp.SessionDescription
	Reason string
	State  interface{}
}

// CodecDecisionKind discriminates handle_codec_negotiation's return.
type CodecDecisionKind int

const (
	CodecAccept CodecDecisionKind = iota
	CodecAcceptList
	CodecReject
)

// CodecResult is handle_codec_negotiation's return.
type CodecResult struct {
	Kind   CodecDecisionKind
	Codec  Codec
	Codecs []Codec
	Reason string
	State  interface{}
}

// NegotiationResult is handle_negotiation_complete's return.
type NegotiationResult struct {
	Err   error
	State interface{}
}

// StreamStartResult is handle_stream_start's return: zero or more
// actions to run, or an explicit no-reply.
type StreamStartResult struct {
	Actions []Action
	State   interface{}
}

// StreamErrorDecisionKind discriminates handle_stream_error's return.
type StreamErrorDecisionKind int

const (
	StreamErrorRetry StreamErrorDecisionKind = iota
	StreamErrorContinue
	StreamErrorStop
)

// StreamErrorResult is handle_stream_error's return.
type StreamErrorResult struct {
	Kind   StreamErrorDecisionKind
	Reason string
	State  interface{}
}

// QualityAdjustment names what handle_rtp_stats asked the session to
// change; the session is free to honor it via re-INVITE or ignore it.
type QualityAdjustment string

// RTPStatsResult is handle_rtp_stats's return.
type RTPStatsResult struct {
	Adjust     bool
	Adjustment QualityAdjustment
	State      interface{}
}

// MediaRequestResult is handle_media_request's return.
type MediaRequestResult struct {
	Action Action
	Err    error
	State  interface{}
}

// Handler is the single capability interface an application implements
// to influence codec selection and react to stream events; every
// method has a no-op default via DefaultHandler so callers only
// override what they need.
type Handler interface {
	Init(args interface{}) InitResult

	HandleSessionStart(sessionID string, opts interface{}, state interface{}) SessionResult
	HandleSessionStop(sessionID string, reason error, state interface{}) SessionResult

	HandleOffer(desc *sdp.SessionDescription, dir Direction, state interface{}) SDPResult
	HandleAnswer(desc *sdp.SessionDescription, dir Direction, state interface{}) SDPResult

	HandleCodecNegotiation(offered, supported []Codec, state interface{}) CodecResult
	HandleNegotiationComplete(local, remote *sdp.SessionDescription, chosen Codec, state interface{}) NegotiationResult

	HandleStreamStart(sessionID string, dir Direction, state interface{}) StreamStartResult
	HandleStreamStop(sessionID string, reason error, state interface{}) SessionResult
	HandleStreamError(sessionID string, streamErr error, state interface{}) StreamErrorResult

	HandleRTPStats(stats StreamStats, state interface{}) RTPStatsResult
	HandlePlayComplete(path string, state interface{}) StreamStartResult
	HandleMediaRequest(request interface{}, state interface{}) MediaRequestResult
}

// DefaultHandler implements Handler with the pass-through defaults the
// contract specifies for every callback an application doesn't
// override: accept offers/answers unmodified, pick the first common
// codec, and take no playback action. Embed it and override selectively.
type DefaultHandler struct{}

func (DefaultHandler) Init(args interface{}) InitResult {
	return InitResult{State: args}
}

func (DefaultHandler) HandleSessionStart(sessionID string, opts interface{}, state interface{}) SessionResult {
	return SessionResult{State: state}
}

func (DefaultHandler) HandleSessionStop(sessionID string, reason error, state interface{}) SessionResult {
	return SessionResult{State: state}
}

func (DefaultHandler) HandleOffer(desc *sdp.SessionDescription, dir Direction, state interface{}) SDPResult {
	return SDPResult{Kind: SDPAccept, SDP: desc, State: state}
}

func (DefaultHandler) HandleAnswer(desc *sdp.SessionDescription, dir Direction, state interface{}) SDPResult {
	return SDPResult{Kind: SDPAccept, SDP: desc, State: state}
}

func (DefaultHandler) HandleCodecNegotiation(offered, supported []Codec, state interface{}) CodecResult {
	return CodecResult{Kind: CodecAcceptList, Codecs: supported, State: state}
}

func (DefaultHandler) HandleNegotiationComplete(local, remote *sdp.SessionDescription, chosen Codec, state interface{}) NegotiationResult {
	return NegotiationResult{State: state}
}

func (DefaultHandler) HandleStreamStart(sessionID string, dir Direction, state interface{}) StreamStartResult {
	return StreamStartResult{State: state}
}

func (DefaultHandler) HandleStreamStop(sessionID string, reason error, state interface{}) SessionResult {
	return SessionResult{State: state}
}

func (DefaultHandler) HandleStreamError(sessionID string, streamErr error, state interface{}) StreamErrorResult {
	return StreamErrorResult{Kind: StreamErrorContinue, State: state}
}

func (DefaultHandler) HandleRTPStats(stats StreamStats, state interface{}) RTPStatsResult {
	return RTPStatsResult{State: state}
}

func (DefaultHandler) HandlePlayComplete(path string, state interface{}) StreamStartResult {
	return StreamStartResult{State: state}
}

func (DefaultHandler) HandleMediaRequest(request interface{}, state interface{}) MediaRequestResult {
	return MediaRequestResult{Action: NoReplyAction(), State: state}
}
