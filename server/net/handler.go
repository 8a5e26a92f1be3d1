package net

import (
	"errors"
	"sync"
	"time"

	getty "github.com/AlexStocks/getty/transport"
	log "github.com/AlexStocks/log4go"

	"github.com/quokkadb/quokkadb/conf"
	"github.com/quokkadb/quokkadb/server/dispatcher"
)

const (
	WritePkgTimeout = 1e8
)

var errTooManySessions = errors.New("too many sessions")

// MessageHandler owns the live session table and feeds decoded packets to
// the command dispatcher.
type MessageHandler struct {
	rwlock     sync.RWMutex
	cfg        *conf.Cfg
	sessionMap map[getty.Session]*ServerSession
	dispatcher *dispatcher.Dispatcher
}

func NewMessageHandler(cfg *conf.Cfg, d *dispatcher.Dispatcher) *MessageHandler {
	return &MessageHandler{
		cfg:        cfg,
		sessionMap: make(map[getty.Session]*ServerSession),
		dispatcher: d,
	}
}

func (h *MessageHandler) SessionCount() int {
	h.rwlock.RLock()
	defer h.rwlock.RUnlock()
	return len(h.sessionMap)
}

func (h *MessageHandler) OnOpen(session getty.Session) error {
	var err error
	h.rwlock.RLock()
	if h.cfg.SessionNumber <= len(h.sessionMap) {
		err = errTooManySessions
	}
	h.rwlock.RUnlock()
	if err != nil {
		return err
	}
	log.Info("got session:%s", session.Stat())
	h.rwlock.Lock()
	h.sessionMap[session] = NewServerSession(session)
	h.rwlock.Unlock()
	return nil
}

func (h *MessageHandler) OnClose(session getty.Session) {
	log.Info("session{%s} is closing", session.Stat())
	h.removeSession(session)
}

func (h *MessageHandler) OnError(session getty.Session, err error) {
	log.Error("session{%s} got error{%v}", session.Stat(), err)
	h.removeSession(session)
}

func (h *MessageHandler) removeSession(session getty.Session) {
	h.rwlock.Lock()
	delete(h.sessionMap, session)
	h.rwlock.Unlock()
}

// OnCron drops sessions idle past the configured session timeout.
func (h *MessageHandler) OnCron(session getty.Session) {
	h.rwlock.RLock()
	state, ok := h.sessionMap[session]
	h.rwlock.RUnlock()
	if !ok {
		return
	}
	if idle := state.IdleSince(time.Now()); idle > h.cfg.SessionTimeoutDuration {
		log.Warn("closing idle session{%s}, idle for %v", session.Stat(), idle)
		h.removeSession(session)
		session.Close()
	}
}

func (h *MessageHandler) OnMessage(session getty.Session, pkg interface{}) {
	req, ok := pkg.(*Packet)
	if !ok {
		log.Error("invalid package type: %T", pkg)
		return
	}

	h.rwlock.RLock()
	state, ok := h.sessionMap[session]
	h.rwlock.RUnlock()
	if !ok {
		log.Error("session not found: %s", session.Stat())
		return
	}
	state.Touch()

	replyBody, err := h.dispatcher.Dispatch(req.Command, req.Body)
	if err != nil {
		log.Error("session{%s} sent an undecodable request: %v", session.Stat(), err)
		session.Close()
		return
	}
	reply := &Packet{Command: req.Command, Seq: req.Seq, Body: replyBody}
	if err := session.WritePkg(reply, WritePkgTimeout); err != nil {
		log.Error("write reply to session{%s}: %v", session.Stat(), err)
		session.Close()
	}
}
