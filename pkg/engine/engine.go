// Package engine wires the core layers — transport, transaction,
// dialog, handler dispatch and media — into one runnable SIP stack,
// the way a single binary in the teacher's own pack stitches its
// pkg/sip/* and pkg/dialog packages together behind one constructor.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfgpkg "github.com/sipcore/engine/pkg/config"
	"github.com/sipcore/engine/pkg/logger"
	"github.com/sipcore/engine/pkg/media"
	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/metrics"
	"github.com/sipcore/engine/pkg/registry"
	"github.com/sipcore/engine/pkg/sip/dialog"
	"github.com/sipcore/engine/pkg/sip/handler"
	"github.com/sipcore/engine/pkg/sip/transaction"
	"github.com/sipcore/engine/pkg/sip/transaction/creator"
	"github.com/sipcore/engine/pkg/sip/transport"
)

// Engine is the assembled stack: one UDP transport, one transaction
// manager, one dialog table, one server-request dispatcher and the
// shared registry/metrics/logger every layer reports through.
type Engine struct {
	Config  *cfgpkg.Config
	Log     logger.StructuredLogger
	Metrics *metrics.Metrics
	Registry *registry.Registry

	Transport  transport.TransportManager
	Transactions transaction.TransactionManager
	Dialogs    *dialog.Manager
	Dispatcher *handler.Dispatcher

	MediaHandler media.Handler
	mediaPorts   *media.PortPool
	mediaCodecs  []media.Codec
}

// New assembles an Engine from cfg. It does not start listening;
// call Start to bind the UDP socket.
func New(cfg *cfgpkg.Config, mediaHandler media.Handler) (*Engine, error) {
	if mediaHandler == nil {
		mediaHandler = media.DefaultHandler{}
	}

	codecs, err := media.ResolvePreference(cfg.SupportedCodecs)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	log := logger.NewDefault(cfg.SIPTrace)
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	transportMgr := transport.NewTransportManager()
	transportMgr.SetLogger(log)
	transportMgr.SetMetrics(m)
	udp := transport.NewUDPTransport(transport.DefaultUDPConfig())
	udp.SetMetrics(m)

	txMgr := transaction.NewManagerWithCreator(transportMgr, creator.NewDefaultCreator())
	txMgr.SetLogger(log)
	txMgr.SetTimers(transaction.TransactionTimers{
		T1: cfg.T1, T2: cfg.T2, T4: cfg.T4,
		TimerA: cfg.T1, TimerB: 64 * cfg.T1, TimerC: 180 * time.Second,
		TimerD: 32 * time.Second, TimerE: cfg.T1, TimerF: 64 * cfg.T1,
		TimerG: cfg.T1, TimerH: 64 * cfg.T1, TimerI: cfg.T4,
		TimerJ: 64 * cfg.T1, TimerK: cfg.T4,
	})

	dialogMgr := dialog.NewManager(txMgr)
	reg := registry.New()
	dialogMgr.OnDialogCreated(func(d *dialog.Dialog) {
		reg.Register(registry.KindDialog, d.Key().String(), d)
		m.DialogsTotal.Inc()
		m.DialogsActive.Inc()
	})

	dispatcher := handler.NewDispatcher(nil)
	dispatcher.SetTransactionManager(txMgr)

	e := &Engine{
		Config:       cfg,
		Log:          log,
		Metrics:      m,
		Registry:     reg,
		Transport:    transportMgr,
		Transactions: txMgr,
		Dialogs:      dialogMgr,
		Dispatcher:   dispatcher,
		MediaHandler: mediaHandler,
		mediaPorts:   media.NewPortPool(cfg.RTPPortMin, cfg.RTPPortMax),
		mediaCodecs:  codecs,
	}

	if err := transportMgr.RegisterTransport(udp); err != nil {
		return nil, fmt.Errorf("engine: registering udp transport: %w", err)
	}

	txMgr.OnRequest(e.handleServerTransaction)

	return e, nil
}

// Start binds the UDP transport to cfg.ListenAddr:ListenPort.
func (e *Engine) Start() error {
	addr := fmt.Sprintf("%s:%d", e.Config.ListenAddr, e.Config.ListenPort)
	udpTransport, ok := e.Transport.GetTransport("udp")
	if !ok {
		return fmt.Errorf("engine: udp transport not registered")
	}
	if err := udpTransport.Listen(addr); err != nil {
		return fmt.Errorf("engine: listening on %s: %w", addr, err)
	}
	return e.Transport.Start()
}

// Stop closes every transport and releases the transaction manager.
func (e *Engine) Stop() error {
	if err := e.Transactions.Close(); err != nil {
		e.Log.LogError(context.Background(), err, "error closing transaction manager")
	}
	return e.Transport.Stop()
}

// NewMediaSession allocates a media session using the engine's shared
// RTP port pool and configured codec preference.
func (e *Engine) NewMediaSession(role media.Role, localHost string) (*media.Session, error) {
	sess, err := media.NewSession(media.Config{
		Role:          role,
		LocalHost:     localHost,
		Codecs:        e.mediaCodecs,
		Handler:       e.MediaHandler,
		Ports:         e.mediaPorts,
		StatsInterval: e.Config.RTPStatsInterval,
	})
	if err != nil {
		return nil, err
	}
	e.Registry.Register(registry.KindMediaSession, sess.ID(), sess)
	e.Metrics.MediaSessionsActive.Inc()
	return sess, nil
}

// handleServerTransaction is the TransactionManager.OnRequest callback:
// ACK is delivered directly per the handler-dispatch contract, every
// other non-ACK method is routed through the Dispatcher.
func (e *Engine) handleServerTransaction(tx transaction.Transaction, req message.Message) {
	ctx := tx.Context()
	e.Registry.Register(registry.KindTransaction, tx.ID(), tx)
	e.Metrics.TransactionsTotal.WithLabelValues(req.Method(), "server").Inc()

	if req.Method() == message.MethodACK {
		if d, ok := e.Dialogs.LookupByMessage(req, true); ok {
			if err := d.ProcessRequest(req); err != nil {
				e.Log.LogError(ctx, err, "dialog rejected ACK")
			}
		}
		return
	}

	if err := e.Dispatcher.Dispatch(ctx, req, tx); err != nil {
		e.Log.LogError(ctx, err, "dispatch failed", logger.String("method", req.Method()))
	}
}
