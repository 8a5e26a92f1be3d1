package net

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	getty "github.com/AlexStocks/getty/transport"
	gxlog "github.com/AlexStocks/goext/log"
	gxnet "github.com/AlexStocks/goext/net"
	log "github.com/AlexStocks/log4go"
	gxsync "github.com/dubbogo/gost/sync"

	"github.com/quokkadb/quokkadb/conf"
	"github.com/quokkadb/quokkadb/logger"
	"github.com/quokkadb/quokkadb/server/collection"
	"github.com/quokkadb/quokkadb/server/dispatcher"
	"github.com/quokkadb/quokkadb/server/storage/engine"
)

const logBanner = `
********************************************************

   ____               _    _          _____  ____
  / __ \             | |  | |        |  __ \|  _ \
 | |  | |_   _  ___  | | _| | ____ _ | |  | | |_) |
 | |  | | | | |/ _ \ | |/ / |/ / _' || |  | |  _ <
 | |__| | |_| | (_) ||   <|   < (_| || |__| | |_) |
  \___\_\\__,_|\___/ |_|\_\_|\_\__,_||_____/|____/

********************************************************
`

// QuokkaServer ties the storage engine, the command dispatcher, and the
// getty event loop together into one listening process.
type QuokkaServer struct {
	conf       *conf.Cfg
	engine     *engine.Engine
	serverList []getty.Server
	taskPool   gxsync.GenericTaskPool
}

func NewQuokkaServer(conf *conf.Cfg) *QuokkaServer {
	return &QuokkaServer{
		conf:     conf,
		taskPool: gxsync.NewTaskPoolSimple(0),
	}
}

// Start opens the database, binds the listeners, and blocks until a
// termination signal arrives.
func (srv *QuokkaServer) Start() error {
	eng, err := engine.Open(engine.FromConfig(srv.conf))
	if err != nil {
		return err
	}
	srv.engine = eng

	d := dispatcher.NewDispatcher(collection.NewManager(eng))
	srv.initServer(d)

	gxlog.CInfo(logBanner)
	gxlog.CInfo("%s starts successfull! its version=%s, its listen ends=%s:%d\n",
		srv.conf.AppName, getty.Version, srv.conf.BindAddress, srv.conf.Port)
	log.Info("%s starts successfull! its version=%s, its listen ends=%s:%d",
		srv.conf.AppName, getty.Version, srv.conf.BindAddress, srv.conf.Port)

	srv.initSignal()
	return nil
}

func (srv *QuokkaServer) initServer(d *dispatcher.Dispatcher) {
	handler := NewMessageHandler(srv.conf, d)
	codec := NewPacketCodec(srv.conf.Session.MaxMsgLen)

	addr := gxnet.HostAddress2(srv.conf.BindAddress, strconv.Itoa(srv.conf.Port))
	server := getty.NewTCPServer(getty.WithLocalAddress(addr))
	server.RunEventLoop(func(session getty.Session) error {
		tcpConn, ok := session.Conn().(*net.TCPConn)
		if !ok {
			panic(fmt.Sprintf("%s, session.conn{%#v} is not tcp connection", session.Stat(), session.Conn()))
		}
		param := srv.conf.Session
		tcpConn.SetNoDelay(param.TcpNoDelay)
		tcpConn.SetKeepAlive(param.TcpKeepAlive)
		if param.TcpKeepAlive {
			tcpConn.SetKeepAlivePeriod(param.KeepAlivePeriodDuration)
		}
		tcpConn.SetReadBuffer(param.TcpRBufSize)
		tcpConn.SetWriteBuffer(param.TcpWBufSize)

		session.SetName(param.SessionName)
		session.SetMaxMsgLen(param.MaxMsgLen)
		session.SetPkgHandler(codec)
		session.SetEventListener(handler)
		session.SetWQLen(param.PkgWQSize)
		session.SetReadTimeout(param.TcpReadTimeoutDuration)
		session.SetWriteTimeout(param.TcpWriteTimeoutDuration)
		session.SetCronPeriod((int)(srv.conf.SessionTimeoutDuration / 1e6))
		session.SetWaitTime(param.WaitTimeoutDuration)
		//session.SetTaskPool(srv.taskPool)
		log.Debug("app accepts new session:%s", session.Stat())
		return nil
	})
	log.Debug("server bind addr{%s} ok!", addr)
	srv.serverList = append(srv.serverList, server)
}

func (srv *QuokkaServer) uninitServer() {
	for _, server := range srv.serverList {
		server.Close()
	}
	if srv.taskPool != nil {
		srv.taskPool.Close()
	}
	if srv.engine != nil {
		if err := srv.engine.Close(); err != nil {
			logger.Errorf("close engine: %v", err)
		}
		srv.engine = nil
	}
}

func (srv *QuokkaServer) initSignal() {
	// signal.Notify does not block sending; the channel needs a buffer
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		sig := <-signals
		log.Info("get signal %s", sig.String())
		switch sig {
		case syscall.SIGHUP:
		// reload()
		default:
			go time.AfterFunc(srv.conf.FailFastTimeoutDuration, func() {
				log.Exit("app exit now by force...")
				log.Close()
			})

			srv.uninitServer()
			log.Exit("app exit now...")
			log.Close()
			return
		}
	}
}
