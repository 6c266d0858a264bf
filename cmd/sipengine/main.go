// Command sipengine runs a minimal UAS: it answers every INVITE with
// a PCMA SDP answer and answers BYE with 200 OK after removing the
// dialog. The media session created for an INVITE is not terminated
// on BYE, and the command logs only its listening address, not
// dialog/transaction transitions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pion/sdp/v3"

	cfgpkg "github.com/sipcore/engine/pkg/config"
	"github.com/sipcore/engine/pkg/engine"
	"github.com/sipcore/engine/pkg/logger"
	"github.com/sipcore/engine/pkg/media"
	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/sip/handler"
)

func main() {
	listenAddr := flag.String("listen", "0.0.0.0", "UDP bind address")
	listenPort := flag.Int("port", 5060, "UDP bind port")
	sipTrace := flag.Bool("trace", false, "enable SIP message tracing")
	flag.Parse()

	cfg, err := cfgpkg.New(
		cfgpkg.WithListenAddr(*listenAddr),
		cfgpkg.WithListenPort(*listenPort),
		cfgpkg.WithSIPTrace(*sipTrace),
		cfgpkg.WithSupportedCodecs("pcma", "pcmu"),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	eng, err := engine.New(cfg, uasMediaHandler{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}

	eng.Dispatcher.HandleInvite(handler.InviteCallbacks{
		Trying: func(req message.Message, state interface{}) (handler.HandlerAction, interface{}) {
			return handler.Respond(100, "Trying", nil, nil), state
		},
		Final: func(req message.Message, state interface{}) (handler.HandlerAction, interface{}) {
			return answerInvite(eng, req), state
		},
	})

	eng.Dispatcher.Handle(message.MethodBYE, func(req message.Message, state interface{}) (handler.HandlerAction, interface{}) {
		if d, ok := eng.Dialogs.LookupByMessage(req, true); ok {
			_ = d.ProcessRequest(req)
			eng.Dialogs.Remove(d.Key())
		}
		return handler.Respond(200, "OK", nil, nil), state
	})

	if err := eng.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		os.Exit(1)
	}
	defer eng.Stop()

	eng.Log.Info(context.Background(), "listening",
		logger.String("addr", fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.ListenPort)))

	select {}
}

// answerInvite negotiates media against the offer and returns the
// handler action carrying the SDP answer alongside the 200 OK.
func answerInvite(eng *engine.Engine, req message.Message) handler.HandlerAction {
	localURI, err := message.ParseURI(fmt.Sprintf("sip:engine@%s:%d", eng.Config.ListenAddr, eng.Config.ListenPort))
	if err != nil {
		return handler.Respond(500, "Internal Server Error", nil, nil)
	}
	remoteURI := req.RequestURI()

	if _, err := eng.Dialogs.CreateUAS(req, localURI, remoteURI); err != nil {
		return handler.Respond(500, "Internal Server Error", nil, nil)
	}

	sess, err := eng.NewMediaSession(media.RoleUAS, eng.Config.ListenAddr)
	if err != nil {
		return handler.Respond(500, "Internal Server Error", nil, nil)
	}

	var offer sdp.SessionDescription
	if err := offer.Unmarshal(req.Body()); err != nil {
		return handler.Respond(400, "Bad Request", nil, nil)
	}

	answer, err := sess.ProcessOffer(&offer)
	if err != nil {
		return handler.Respond(488, "Not Acceptable Here", nil, nil)
	}

	body, err := answer.Marshal()
	if err != nil {
		return handler.Respond(500, "Internal Server Error", nil, nil)
	}

	headers := map[string]string{"Content-Type": "application/sdp"}
	return handler.Respond(200, "OK", headers, body)
}

// uasMediaHandler wires a minimal MediaHandler that accepts whatever
// codec the engine's configured preference and the offer have in
// common, overriding only codec negotiation.
type uasMediaHandler struct {
	media.DefaultHandler
}

func (uasMediaHandler) HandleCodecNegotiation(offered, supported []media.Codec, state interface{}) media.CodecResult {
	return media.CodecResult{Kind: media.CodecAcceptList, Codecs: supported, State: state}
}
